package memory

import (
	"context"
	"sync"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
)

type cached struct {
	value   []byte
	expires time.Time
}

func (c cached) live(now time.Time) bool {
	return c.expires.IsZero() || now.Before(c.expires)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// IdempotencyCache implements ports.IdempotencyCache.
type IdempotencyCache struct {
	mu    sync.Mutex
	items map[string]cached
	now   func() time.Time
}

// NewIdempotencyCache creates an empty idempotency cache.
func NewIdempotencyCache() *IdempotencyCache {
	return &IdempotencyCache{items: make(map[string]cached), now: time.Now}
}

func (c *IdempotencyCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok || !item.live(c.now()) {
		delete(c.items, key)
		return nil, nil
	}
	return append([]byte(nil), item.value...), nil
}

func (c *IdempotencyCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cached{value: append([]byte(nil), value...), expires: expiry(c.now(), ttl)}
	return nil
}

type balanceItem struct {
	snap    domain.BalanceSnapshot
	expires time.Time
}

// BalanceCache implements ports.BalanceCache.
type BalanceCache struct {
	mu    sync.Mutex
	items map[uuid.UUID]balanceItem
	now   func() time.Time
}

// NewBalanceCache creates an empty balance cache.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{items: make(map[uuid.UUID]balanceItem), now: time.Now}
}

func (c *BalanceCache) Get(_ context.Context, userID uuid.UUID) (*domain.BalanceSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[userID]
	if !ok || (!item.expires.IsZero() && !c.now().Before(item.expires)) {
		delete(c.items, userID)
		return nil, nil
	}
	snap := item.snap
	return &snap, nil
}

func (c *BalanceCache) Set(_ context.Context, snap domain.BalanceSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if item, ok := c.items[snap.UserID]; ok && item.snap.Seq >= snap.Seq &&
		(item.expires.IsZero() || now.Before(item.expires)) {
		return nil
	}
	c.items[snap.UserID] = balanceItem{snap: snap, expires: expiry(now, ttl)}
	return nil
}

func (c *BalanceCache) Invalidate(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
	return nil
}

type lease struct {
	token   string
	expires time.Time
}

// Locker implements ports.Locker within one process.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{leases: make(map[string]lease), now: time.Now}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expires: expiry(now, ttl)}
	return token, true, nil
}

func (l *Locker) Release(_ context.Context, key string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}

type window struct {
	start int64
	count int64
}

// RateLimiter implements ports.RateLimiter within one process.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]window), now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int64, size time.Duration) (*ports.RateLimitResult, error) {
	if size < time.Second {
		size = time.Second
	}
	secs := int64(size / time.Second)
	now := r.now().Unix()
	start := now - now%secs

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[key]
	if w.start != start {
		w = window{start: start}
	}
	w.count++
	r.windows[key] = w

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   start + secs,
	}, nil
}
