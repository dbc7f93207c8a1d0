package redis

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBalanceCache(t *testing.T) (*BalanceCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	return NewBalanceCache(client), s
}

func TestBalanceCache_Miss(t *testing.T) {
	cache, _ := newBalanceCache(t)

	snap, err := cache.Get(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestBalanceCache_SetAndGet(t *testing.T) {
	cache, _ := newBalanceCache(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: userID, Seq: 3, Balance: 700}, time.Minute))

	snap, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(3), snap.Seq)
	assert.Equal(t, int64(700), snap.Balance)
}

func TestBalanceCache_IgnoresOlderSequence(t *testing.T) {
	cache, _ := newBalanceCache(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: userID, Seq: 5, Balance: 400}, time.Minute))
	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: userID, Seq: 4, Balance: 900}, time.Minute))
	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: userID, Seq: 5, Balance: 1}, time.Minute))

	snap, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Seq)
	assert.Equal(t, int64(400), snap.Balance)

	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: userID, Seq: 6, Balance: 100}, time.Minute))
	snap, err = cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap.Balance)
}

func TestBalanceCache_InvalidateAndExpiry(t *testing.T) {
	cache, s := newBalanceCache(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: a, Seq: 1, Balance: 10}, time.Minute))
	require.NoError(t, cache.Set(ctx, domain.BalanceSnapshot{UserID: b, Seq: 1, Balance: 20}, time.Second))

	require.NoError(t, cache.Invalidate(ctx, a))
	snap, err := cache.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, snap)

	s.FastForward(2 * time.Second)
	snap, err = cache.Get(ctx, b)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
