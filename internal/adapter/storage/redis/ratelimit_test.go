package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	limiter := NewRateLimiter(client)
	now := time.Unix(1_700_000_040, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := limiter.Allow(ctx, "user-1:purchases", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, int64(1_700_000_100), res.ResetAt)
	}

	res, err := limiter.Allow(ctx, "user-1:purchases", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)

	res, err = limiter.Allow(ctx, "user-2:purchases", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "keys are counted separately")

	now = now.Add(time.Minute)
	res, err = limiter.Allow(ctx, "user-1:purchases", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a new window starts a new count")
}

func TestRateLimiter_KeyExpires(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	limiter := NewRateLimiter(client)
	limiter.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	_, err := limiter.Allow(context.Background(), "k", 10, 30*time.Second)
	require.NoError(t, err)

	keys := s.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 30*time.Second, s.TTL(keys[0]))
}

func TestRateLimiter_RedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	limiter := NewRateLimiter(client)
	s.Close()

	_, err := limiter.Allow(context.Background(), "k", 10, time.Minute)
	assert.Error(t, err)
}
