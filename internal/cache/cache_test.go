package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetNXAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	ok, err := s.SetNX(ctx, "lease:dispatch", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lease:dispatch", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be taken")

	now = now.Add(61 * time.Second)
	ok, err = s.SetNX(ctx, "lease:dispatch", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is free again")
}

func TestMemoryStore_DeleteIfValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", "v1", 0))

	deleted, err := s.DeleteIfValue(ctx, "k", "other")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteIfValue(ctx, "k", "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_ExtendIfValue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Set(ctx, "lease:seed", "owner-a", time.Minute))

	extended, err := s.ExtendIfValue(ctx, "lease:seed", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "only the holder may extend")

	now = now.Add(50 * time.Second)
	extended, err = s.ExtendIfValue(ctx, "lease:seed", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	now = now.Add(50 * time.Second)
	v, found, err := s.Get(ctx, "lease:seed")
	require.NoError(t, err)
	assert.True(t, found, "extended lease outlives its first ttl")
	assert.Equal(t, "owner-a", v)
}
