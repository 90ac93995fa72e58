package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/permission"
	"github.com/solaceid/solace/internal/repository"
)

const adminGroupName = "admin"

// Access level the admin group is created with.
const adminAccessLevel int32 = 100

// EnsureAdmin creates the admin group and the configured admin user on
// first start.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, groups repository.GroupRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, groups, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, groups repository.GroupRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return fmt.Errorf("admin bootstrap missing required config")
	}

	adminGroup, err := findGroup(ctx, groups, node, adminGroupName)
	if err != nil {
		return err
	}

	user, err := users.GetByEmail(ctx, email)
	if err == nil {
		return ensureMembership(ctx, groups, adminGroup, user.UUID, logger)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword, cfg.AuthPepper)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := users.Create(ctx, domain.User{
		ID:           node.Generate().Int64(),
		UUID:         uuid.NewString(),
		Email:        email,
		Name:         "Admin",
		PasswordHash: hashed,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if err := ensureMembership(ctx, groups, adminGroup, created.UUID, nil); err != nil {
		return err
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.String("user_uuid", created.UUID),
		)
	}
	return nil
}

// findGroup returns the admin group, creating it with the full
// permission set when absent.
func findGroup(ctx context.Context, groups repository.GroupRepository, node *snowflake.Node, name string) (domain.Group, error) {
	existing, err := groups.List(ctx)
	if err != nil {
		return domain.Group{}, fmt.Errorf("bootstrap list groups: %w", err)
	}
	for _, group := range existing {
		if group.Name == name {
			return group, nil
		}
	}

	created, err := groups.Create(ctx, domain.Group{
		ID:          node.Generate().Int64(),
		UUID:        uuid.NewString(),
		Name:        name,
		AccessLevel: adminAccessLevel,
		Permissions: permission.All,
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("bootstrap create admin group: %w", err)
	}
	return created, nil
}

func ensureMembership(ctx context.Context, groups repository.GroupRepository, group domain.Group, userUUID string, logger *zap.Logger) error {
	for _, member := range group.UserUUIDs {
		if member == userUUID {
			return nil
		}
	}
	group.UserUUIDs = append(group.UserUUIDs, userUUID)
	if err := groups.Update(ctx, group); err != nil {
		return fmt.Errorf("bootstrap admin membership: %w", err)
	}
	if logger != nil {
		logger.Info("bootstrap admin membership added", zap.String("user_uuid", userUUID))
	}
	return nil
}
