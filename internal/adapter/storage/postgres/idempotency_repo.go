package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create inserts an idempotency log within a database transaction.
// A concurrent claim of the same key yields ports.ErrDuplicateKey.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	query := `INSERT INTO idempotency_logs (key, transaction_id, fingerprint, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := on(r.pool, tx).Exec(ctx, query, log.Key, log.TransactionID, log.Fingerprint, log.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateKey
		}
		return fmt.Errorf("insert idempotency log: %w", err)
	}
	return nil
}

// Get fetches an idempotency log by key.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	query := `SELECT key, transaction_id, fingerprint, created_at FROM idempotency_logs WHERE key = $1`

	log := &domain.IdempotencyLog{}
	err := r.pool.QueryRow(ctx, query, key).Scan(&log.Key, &log.TransactionID, &log.Fingerprint, &log.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency log: %w", err)
	}
	return log, nil
}

// PurgeBefore removes logs older than before. Replays of a purged key start a new purchase.
func (r *IdempotencyRepo) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
