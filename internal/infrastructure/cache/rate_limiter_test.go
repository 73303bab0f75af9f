package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimiter_AllowsUpToCeilingThenDenies(t *testing.T) {
	limiter := NewRedisRateLimiter(testClient(t), zap.NewNop())
	ctx := context.Background()

	const ceiling = 100
	for i := 0; i < ceiling; i++ {
		result, err := limiter.Allow(ctx, "district-1:tutor-1", ceiling, time.Minute)
		require.NoError(t, err)
		require.True(t, result.Allowed, "request %d should be inside the ceiling", i+1)
	}

	result, err := limiter.Allow(ctx, "district-1:tutor-1", ceiling, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.Equal(t, ceiling, result.Count)
}

func TestRateLimiter_DeniedRequestsDoNotConsumeTheWindow(t *testing.T) {
	limiter := NewRedisRateLimiter(testClient(t), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Allow(ctx, "district-1:tutor-1", 5, time.Minute)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "district-1:tutor-1", 5, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	}

	count, err := limiter.Count(ctx, "district-1:tutor-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRedisRateLimiter(testClient(t), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "district-1:tutor-1", 3, time.Minute)
		require.NoError(t, err)
	}
	denied, err := limiter.Allow(ctx, "district-1:tutor-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	other, err := limiter.Allow(ctx, "district-1:helper-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestRateLimiter_ResetClearsTheWindow(t *testing.T) {
	limiter := NewRedisRateLimiter(testClient(t), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, "district-1:tutor-1", 2, time.Minute)
		require.NoError(t, err)
	}
	denied, err := limiter.Allow(ctx, "district-1:tutor-1", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	require.NoError(t, limiter.Reset(ctx, "district-1:tutor-1"))

	result, err := limiter.Allow(ctx, "district-1:tutor-1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
