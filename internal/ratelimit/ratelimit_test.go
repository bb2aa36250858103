package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/models"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLimiter(rdb, limit, window), mr
}

func TestTryAcquireUnderLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		decision, err := limiter.TryAcquire(context.Background(), models.PlatformYoutube)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}

func TestTryAcquireOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Minute)

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(context.Background(), models.PlatformYoutube)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.TryAcquire(context.Background(), models.PlatformYoutube)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestTryAcquirePerPlatformBuckets(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)

	decision, err := limiter.TryAcquire(context.Background(), models.PlatformYoutube)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.TryAcquire(context.Background(), models.PlatformYoutube)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// A different platform has its own counter.
	decision, err = limiter.TryAcquire(context.Background(), models.PlatformTiktok)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestTryAcquireWindowRollover(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, time.Second)

	decision, err := limiter.TryAcquire(context.Background(), models.PlatformYoutube)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.TryAcquire(context.Background(), models.PlatformYoutube)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Let the key expire and the wall clock cross into the next window.
	mr.FastForward(2 * time.Second)
	time.Sleep(1100 * time.Millisecond)

	decision, err = limiter.TryAcquire(context.Background(), models.PlatformYoutube)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
