package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/permission"
)

// SessionToken is a freshly minted session JWT plus cookie metadata.
type SessionToken struct {
	Token     string
	Tier      jwt.Tier
	ExpiresAt time.Time
}

// UserInfo aggregates the user record with derived authorization data.
type UserInfo struct {
	User        domain.User
	Groups      []domain.Group
	Permissions []permission.Permission
	AccessLevel int32
}

func newUserInfo(user domain.User, groups []domain.Group) UserInfo {
	sets := make([][]permission.Permission, 0, len(groups)+1)
	sets = append(sets, user.Permissions)
	levels := make([]int32, 0, len(groups))
	for _, g := range groups {
		sets = append(sets, g.Permissions)
		levels = append(levels, g.AccessLevel)
	}
	return UserInfo{
		User:        user,
		Groups:      groups,
		Permissions: permission.Union(sets...),
		AccessLevel: permission.HighestAccessLevel(levels),
	}
}

// audit emits a structured audit log entry from key/value pairs.
func audit(logger *zap.Logger, event string, attrs ...any) {
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
