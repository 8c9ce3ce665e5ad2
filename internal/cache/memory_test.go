package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheStoreLookup(t *testing.T) {
	c := NewMemoryIdempotencyCache()
	ctx := context.Background()

	outcome := &ClaimOutcome{
		ItemID:    uuid.New(),
		Token:     "tok",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, c.Store(ctx, "k1", outcome, time.Minute))

	got, ok, err := c.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outcome.ItemID, got.ItemID)
	require.Equal(t, "tok", got.Token)

	_, ok, err = c.Lookup(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryIdempotencyCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "k", &ClaimOutcome{Empty: true}, 30*time.Second))

	_, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok, err = c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheSweepWhenFull(t *testing.T) {
	c := NewMemoryIdempotencyCache()
	c.maxEntries = 3
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", &ClaimOutcome{Empty: true}, 10*time.Second))
	require.NoError(t, c.Store(ctx, "b", &ClaimOutcome{Empty: true}, 10*time.Second))
	require.NoError(t, c.Store(ctx, "c", &ClaimOutcome{Empty: true}, time.Hour))

	now = now.Add(20 * time.Second)
	// Hitting the cap sweeps the two expired entries before inserting.
	require.NoError(t, c.Store(ctx, "d", &ClaimOutcome{Empty: true}, time.Hour))
	require.Len(t, c.entries, 2)

	_, ok, _ := c.Lookup(ctx, "c")
	require.True(t, ok)
	_, ok, _ = c.Lookup(ctx, "d")
	require.True(t, ok)
}

func TestOutcomeTTL(t *testing.T) {
	now := time.Now()

	empty := &ClaimOutcome{Empty: true}
	require.Equal(t, EmptyOutcomeTTL, empty.TTL(now))

	success := &ClaimOutcome{ItemID: uuid.New(), ExpiresAt: now.Add(10 * time.Minute)}
	require.Equal(t, 10*time.Minute+SuccessOutcomeTTL, success.TTL(now))

	// An already-expired claim still gets the grace window.
	stale := &ClaimOutcome{ItemID: uuid.New(), ExpiresAt: now.Add(-time.Minute)}
	require.Equal(t, SuccessOutcomeTTL, stale.TTL(now))
}
