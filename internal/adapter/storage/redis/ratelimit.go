package redis

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimiter implements ports.RateLimiter as a fixed-window counter.
// Each window gets its own key, so the counter never needs resetting.
type RateLimiter struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// NewRateLimiter creates a new Redis-backed rate limiter.
func NewRateLimiter(client *goredis.Client) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow counts one request against key in the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	if window < time.Second {
		window = time.Second
	}
	secs := int64(window / time.Second)
	now := r.now().Unix()
	start := now - now%secs
	resetAt := start + secs
	windowKey := fmt.Sprintf("%s%s:%d", r.prefix, key, start)

	var incr *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}

	count := incr.Val()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
