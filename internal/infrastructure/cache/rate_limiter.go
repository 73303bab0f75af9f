package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisRateLimiter implements the RateLimiter interface using Redis sorted
// sets for sliding window rate limiting.
type redisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRateLimiter creates a new Redis-based rate limiter
func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{
		client: client,
		logger: logger,
	}
}

// Allow checks if a request is allowed under the rate limit using a sliding
// window. Denied requests are not counted against the window, and the
// result carries how long until the oldest in-window entry expires.
func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateResult, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	rateLimitKey := RateLimitPrefix + key

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rateLimitKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, rateLimitKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, rateLimitKey, 0, 0)

	requestID := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond()%1000)
	pipe.ZAdd(ctx, rateLimitKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: requestID,
	})
	pipe.Expire(ctx, rateLimitKey, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limiter pipeline failed",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return nil, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	currentCount := countCmd.Val()
	allowed := currentCount < int64(limit)

	result := &RateResult{
		Allowed: allowed,
		Count:   int(currentCount) + 1,
	}

	if !allowed {
		// Remove the request we just added since it's not allowed
		r.client.ZRem(ctx, rateLimitKey, requestID)
		result.Count = int(currentCount)
		result.RetryAfter = retryAfter(oldestCmd.Val(), now, window)

		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("current_count", currentCount),
			zap.Int("limit", limit),
			zap.Duration("retry_after", result.RetryAfter))
	}

	return result, nil
}

// Count returns the current count for a rate limit key
func (r *redisRateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	rateLimitKey := RateLimitPrefix + key

	err := r.client.ZRemRangeByScore(ctx, rateLimitKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10)).Err()
	if err != nil {
		r.logger.Error("rate limiter cleanup failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("rate limiter cleanup failed: %w", err)
	}

	count, err := r.client.ZCard(ctx, rateLimitKey).Result()
	if err != nil {
		r.logger.Error("rate limiter count failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("rate limiter count failed: %w", err)
	}

	return int(count), nil
}

// Reset clears the rate limit counter for a key
func (r *redisRateLimiter) Reset(ctx context.Context, key string) error {
	rateLimitKey := RateLimitPrefix + key

	if err := r.client.Del(ctx, rateLimitKey).Err(); err != nil {
		r.logger.Error("rate limiter reset failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("rate limiter reset failed: %w", err)
	}
	return nil
}

// retryAfter computes the remainder of the window occupied by the oldest
// entry, rounded up to a whole second so callers can surface it directly.
func retryAfter(oldest []redis.Z, now time.Time, window time.Duration) time.Duration {
	if len(oldest) == 0 {
		return time.Second
	}
	oldestAt := time.Unix(0, int64(oldest[0].Score))
	remaining := window - now.Sub(oldestAt)
	if remaining <= 0 {
		return time.Second
	}
	return remaining.Round(time.Second) + time.Second
}
