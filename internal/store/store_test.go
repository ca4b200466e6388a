package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_LastTierRoundTrip(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	tier, err := s.LastTier(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, tier, "unknown session reads as tier 1")

	require.NoError(t, s.SetLastTier(ctx, "abc123", 2))
	tier, err = s.LastTier(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 2, tier)

	// Upsert, not insert-only.
	require.NoError(t, s.SetLastTier(ctx, "abc123", 3))
	tier, err = s.LastTier(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 3, tier)
}

func TestStore_SessionsAreIndependent(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.SetLastTier(ctx, "session-a", 3))

	tier, err := s.LastTier(ctx, "session-b")
	require.NoError(t, err)
	assert.Equal(t, 1, tier)
}

func TestStore_ClassifyCache(t *testing.T) {
	s := openTestStore(t, Options{ClassifyTTL: time.Hour})
	ctx := context.Background()

	_, ok := s.CachedIntent(ctx, "fix the build")
	assert.False(t, ok)

	require.NoError(t, s.SetCachedIntent(ctx, "fix the build", "simple_code"))
	intent, ok := s.CachedIntent(ctx, "fix the build")
	require.True(t, ok)
	assert.Equal(t, "simple_code", intent)

	_, ok = s.CachedIntent(ctx, "a different text")
	assert.False(t, ok)
}

func TestStore_ClassifyCacheTTLExpiry(t *testing.T) {
	s := openTestStore(t, Options{ClassifyTTL: time.Nanosecond})
	ctx := context.Background()

	require.NoError(t, s.SetCachedIntent(ctx, "stale text", "chit_chat"))
	time.Sleep(10 * time.Millisecond)

	_, ok := s.CachedIntent(ctx, "stale text")
	assert.False(t, ok)
}

func TestStore_EvictExpired(t *testing.T) {
	s := openTestStore(t, Options{SessionTTL: time.Nanosecond})
	ctx := context.Background()

	require.NoError(t, s.SetLastTier(ctx, "old", 3))
	time.Sleep(10 * time.Millisecond)
	s.evictExpired()

	tier, err := s.LastTier(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, 1, tier)
}
