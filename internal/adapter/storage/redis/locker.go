package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseIfOwner deletes KEYS[1] only when it still holds ARGV[1].
var releaseIfOwner = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements ports.Locker using Redis SET NX with a per-holder token.
type Locker struct {
	client *goredis.Client
	prefix string
}

// NewLocker creates a new Redis-backed locker.
func NewLocker(client *goredis.Client) *Locker {
	return &Locker{
		client: client,
		prefix: "lock:",
	}
}

// Acquire sets the lease if nobody holds it. ok is false when the key is taken.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	result, err := l.client.SetArgs(ctx, l.prefix+key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis lock acquire: %w", err)
	}
	if result != "OK" {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lease if token still owns it. An expired or stolen lease is left alone.
func (l *Locker) Release(ctx context.Context, key string, token string) error {
	if err := releaseIfOwner.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("redis lock release: %w", err)
	}
	return nil
}
