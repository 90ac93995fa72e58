package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis keyspace prefix, letting several
// server replicas share pending authorizations and codes.
type Redis[T any] struct {
	client redis.UniversalClient
	prefix string
}

var _ Store[string] = (*Redis[string])(nil)

// NewRedis builds a Store on the given client. The prefix namespaces keys
// per logical map, e.g. "oauth:pending:".
func NewRedis[T any](client redis.UniversalClient, prefix string) *Redis[T] {
	return &Redis[T]{client: client, prefix: prefix}
}

// Put stores the JSON encoded value under key for ttl.
func (s *Redis[T]) Put(ctx context.Context, key string, value T, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Get loads and decodes the value. Nil when the key is absent.
func (s *Redis[T]) Get(ctx context.Context, key string) (*T, error) {
	bytes, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var value T
	if err := json.Unmarshal(bytes, &value); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &value, nil
}

// Take atomically loads and deletes the value via GETDEL.
func (s *Redis[T]) Take(ctx context.Context, key string) (*T, error) {
	bytes, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("take state: %w", err)
	}
	var value T
	if err := json.Unmarshal(bytes, &value); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &value, nil
}

// Delete removes the key if present.
func (s *Redis[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
