package cache

import (
	"context"
	"time"
)

// Cache provides a generic caching interface with support for TTL and atomic operations
type Cache interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with optional TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// SetNX sets a value only if the key doesn't exist (atomic)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// IncrementBy atomically adds delta to a numeric value
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)

	// Expire sets TTL on an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON marshals and stores JSON data
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// RateLimiter provides sliding-window rate limiting per client key.
type RateLimiter interface {
	// Allow records the request and checks it against the limit. When the
	// limit is exceeded it also reports how long until the window frees up.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateResult, error)

	// Count returns the current count for a rate limit key
	Count(ctx context.Context, key string, window time.Duration) (int, error)

	// Reset clears the rate limit counter for a key
	Reset(ctx context.Context, key string) error
}

// RateResult is the outcome of one rate-limit check.
type RateResult struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// VolumeTracker accumulates bytes served per client over a long trailing
// window.
type VolumeTracker interface {
	// Add records bytes served and returns the new window total.
	Add(ctx context.Context, key string, bytes int64, window time.Duration) (int64, error)

	// Total returns the current window total without recording.
	Total(ctx context.Context, key string) (int64, error)
}

// Key prefixes for consistent cache key naming
const (
	SessionPrefix   = "eds:session:"
	ClientIdxPrefix = "eds:client:"
	UserIdxPrefix   = "eds:user:"
	RateLimitPrefix = "eds:ratelimit:"
	VolumePrefix    = "eds:volume:"
	RevokedPrefix   = "eds:revoked:"
)

// ErrCacheKeyNotFound is returned when a cache key doesn't exist
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}
