package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// setIfNewer writes {seq, balance} only when the stored seq is lower.
// KEYS[1] = hash key, ARGV = seq, balance, ttl ms.
var setIfNewer = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "seq")
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "seq", ARGV[1], "balance", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// BalanceCache implements ports.BalanceCache as one Redis hash per user.
type BalanceCache struct {
	client *goredis.Client
	prefix string
}

// NewBalanceCache creates a new Redis-backed balance cache.
func NewBalanceCache(client *goredis.Client) *BalanceCache {
	return &BalanceCache{
		client: client,
		prefix: "balance:",
	}
}

// Get returns the cached snapshot, or nil on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (*domain.BalanceSnapshot, error) {
	vals, err := c.client.HMGet(ctx, c.prefix+userID.String(), "seq", "balance").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis balance get: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}

	seq, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis balance seq: %w", err)
	}
	balance, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis balance value: %w", err)
	}
	return &domain.BalanceSnapshot{UserID: userID, Seq: seq, Balance: balance}, nil
}

// Set stores snap unless a snapshot with an equal or higher sequence is cached.
func (c *BalanceCache) Set(ctx context.Context, snap domain.BalanceSnapshot, ttl time.Duration) error {
	err := setIfNewer.Run(ctx, c.client,
		[]string{c.prefix + snap.UserID.String()},
		snap.Seq, snap.Balance, ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis balance set: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot.
func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, c.prefix+userID.String()).Err(); err != nil {
		return fmt.Errorf("redis balance invalidate: %w", err)
	}
	return nil
}
