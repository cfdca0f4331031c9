package lease

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/cache"
)

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(cache.NewMemoryStore(), 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	release, ok, err := l.TryAcquire(ctx, "dispatch")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "dispatch")
	require.NoError(t, err)
	assert.False(t, ok, "second tick must be a no-op while the lease is held")

	_, ok, err = l.TryAcquire(ctx, "seed")
	require.NoError(t, err)
	assert.True(t, ok, "leases are per job")

	release()
	_, ok, err = l.TryAcquire(ctx, "dispatch")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_StaleReleaseDoesNotFreeNewHolder(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	l := NewLocker(store, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	release, ok, err := l.TryAcquire(ctx, "items")
	require.NoError(t, err)
	require.True(t, ok)

	// simulate expiry and takeover by another process
	require.NoError(t, store.Set(ctx, "lease:items", "someone-else", 0))
	release()

	v, found, err := store.Get(ctx, "lease:items")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "someone-else", v)
}

func TestLocker_RenewsWhileHeld(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	l := NewLocker(store, 100*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	release, ok, err := l.TryAcquire(ctx, "seed")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(300 * time.Millisecond)
	_, ok, err = l.TryAcquire(ctx, "seed")
	require.NoError(t, err)
	assert.False(t, ok, "lease must outlive its ttl while the holder is running")

	release()
	release()

	_, found, err := store.Get(ctx, "lease:seed")
	require.NoError(t, err)
	assert.False(t, found)
}
