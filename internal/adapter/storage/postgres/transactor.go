package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor. Transactions it opens carry a
// lock_timeout, so a FOR UPDATE wait on a busy user row is bounded.
type Transactor struct {
	pool        Pool
	lockTimeout time.Duration
}

// NewTransactor creates a Transactor. A zero lockTimeout keeps the server default.
func NewTransactor(pool Pool, lockTimeout time.Duration) *Transactor {
	return &Transactor{pool: pool, lockTimeout: lockTimeout}
}

// Begin starts a transaction with lock_timeout scoped to it.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if t.lockTimeout <= 0 {
		return tx, nil
	}

	ms := strconv.FormatInt(t.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("setting lock_timeout: %w", err)
	}
	return tx, nil
}
