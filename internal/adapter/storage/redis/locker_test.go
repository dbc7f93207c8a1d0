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

func TestLocker_AcquireExclusive(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.Acquire(ctx, "settlement:v1:p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = locker.Acquire(ctx, "settlement:v1:p1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder should be refused")

	_, ok, err = locker.Acquire(ctx, "settlement:v2:p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other keys are independent")
}

func TestLocker_ReleaseRequiresToken(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "k", "someone-else"))
	assert.True(t, s.Exists("lock:k"), "foreign token must not release")

	require.NoError(t, locker.Release(ctx, "k", token))
	assert.False(t, s.Exists("lock:k"))

	_, ok, err = locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_LeaseExpires(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	_, ok, err = locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be acquirable")
}
