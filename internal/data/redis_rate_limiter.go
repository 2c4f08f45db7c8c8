package data

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements the RateLimiter interface with a fixed-window
// counter in Redis. Every worker on every instance draws from the same
// counter, so the limit is global to the queue rather than per process.
type RedisRateLimiter struct {
	client       redis.UniversalClient
	key          string
	maxPerWindow int
	window       time.Duration
	timeProvider TimeProvider
}

// RedisRateLimiterConfig holds configuration for RedisRateLimiter.
type RedisRateLimiterConfig struct {
	// Key namespaces the counter; one key per limited resource.
	Key string
	// MaxPerWindow is the number of sends allowed per window. Zero or
	// negative disables limiting.
	MaxPerWindow int
	// Window is the fixed window size. Defaults to one second.
	Window time.Duration

	TimeProvider TimeProvider
}

// NewRedisRateLimiter creates a new RedisRateLimiter.
func NewRedisRateLimiter(client redis.UniversalClient, cfg RedisRateLimiterConfig) *RedisRateLimiter {
	key := cfg.Key
	if key == "" {
		key = "mailroom:ratelimit:send"
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RedisRateLimiter{
		client:       client,
		key:          key,
		maxPerWindow: cfg.MaxPerWindow,
		window:       window,
		timeProvider: tp,
	}
}

// Allow reports whether a send may proceed in the current window. When the
// window is exhausted it returns the time remaining until the next window
// opens. INCR and EXPIRE run in one pipeline so a crashed client cannot
// leave a counter without a TTL.
func (l *RedisRateLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	if l.maxPerWindow <= 0 {
		return true, 0, nil
	}

	now := l.timeProvider.Now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("%s:%d", l.key, windowStart.UnixMilli())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	// TTL of two windows keeps the key around long enough for stragglers
	// in the same window without accumulating stale keys.
	pipe.Expire(ctx, key, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limiter incr: %w", err)
	}

	if incr.Val() <= int64(l.maxPerWindow) {
		return true, 0, nil
	}

	retryAfter := windowStart.Add(l.window).Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return false, retryAfter, nil
}
