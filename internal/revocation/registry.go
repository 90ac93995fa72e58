package revocation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/repository"
)

// Registry blacklists tokens until their natural expiry. Cleanup of
// expired rows is amortized: every insert bumps a counter and once it
// crosses the limit a single purge runs and the counter resets.
type Registry struct {
	repo      repository.RevocationRepository
	snowflake *snowflake.Node
	limit     int64
	counter   atomic.Int64
	logger    *zap.Logger
}

// NewRegistry wires the registry. A limit of zero falls back to 1000.
func NewRegistry(repo repository.RevocationRepository, node *snowflake.Node, limit int64, logger *zap.Logger) *Registry {
	if limit <= 0 {
		limit = 1000
	}
	return &Registry{repo: repo, snowflake: node, limit: limit, logger: logger}
}

// Revoke records the token so that IsRevoked rejects it from now on.
func (r *Registry) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	record := domain.RevokedToken{
		ID:        r.snowflake.Generate().Int64(),
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if err := r.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}

	if r.counter.Add(1) > r.limit {
		r.counter.Store(0)
		purged, err := r.repo.DeleteExpired(ctx, time.Now())
		if err != nil {
			r.log().Warn("revocation purge failed", zap.Error(err))
			return nil
		}
		r.log().Info("purged expired revocations", zap.Int64("count", purged))
	}
	return nil
}

// IsRevoked reports whether the token has been blacklisted. This runs
// before any signature work so revoked tokens never reach validation.
func (r *Registry) IsRevoked(ctx context.Context, token string) (bool, error) {
	revoked, err := r.repo.Exists(ctx, token)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return revoked, nil
}

func (r *Registry) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
