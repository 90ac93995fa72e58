package statestore

import (
	"context"
	"sync"
	"time"
)

// Store keeps short-lived flow state (pending authorizations, codes,
// WebAuthn ceremonies) under opaque keys with a TTL.
type Store[T any] interface {
	Put(ctx context.Context, key string, value T, ttl time.Duration) error
	// Get returns nil when the key is absent or expired.
	Get(ctx context.Context, key string) (*T, error)
	// Take returns the value and removes it in one step, enforcing
	// single use. Nil when absent or expired.
	Take(ctx context.Context, key string) (*T, error)
	Delete(ctx context.Context, key string) error
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// Memory is an in-process Store with lazy expiry.
type Memory[T any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[T]
	now     func() time.Time
}

var _ Store[string] = (*Memory[string])(nil)

// NewMemory builds an empty in-memory store.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{
		entries: make(map[string]memoryEntry[T]),
		now:     time.Now,
	}
}

// Put stores the value under key for ttl.
func (m *Memory[T]) Put(_ context.Context, key string, value T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry[T]{value: value, expiresAt: m.now().Add(ttl)}
	m.sweepLocked()
	return nil
}

// Get returns the stored value or nil when missing or expired.
func (m *Memory[T]) Get(_ context.Context, key string) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, nil
	}
	value := entry.value
	return &value, nil
}

// Take removes and returns the stored value, or nil when missing or expired.
func (m *Memory[T]) Take(_ context.Context, key string) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	delete(m.entries, key)
	if m.now().After(entry.expiresAt) {
		return nil, nil
	}
	value := entry.value
	return &value, nil
}

// Delete removes the key if present.
func (m *Memory[T]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory[T]) sweepLocked() {
	now := m.now()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}
