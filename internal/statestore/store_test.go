package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	Value string
}

func TestMemoryPutGetTake(t *testing.T) {
	ctx := context.Background()
	store := NewMemory[payload]()

	require.NoError(t, store.Put(ctx, "k", payload{Value: "v"}, time.Minute))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "v", got.Value)

	// Get does not consume the entry, Take does.
	got, err = store.Take(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = store.Take(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory[payload]()

	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Put(ctx, "k", payload{Value: "v"}, time.Minute))

	store.now = func() time.Time { return now.Add(2 * time.Minute) }

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = store.Take(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory[payload]()

	require.NoError(t, store.Put(ctx, "k", payload{Value: "v"}, time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got)
}
