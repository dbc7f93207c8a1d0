package memory

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct{ s *Store }

// NewIdempotencyRepo creates an idempotency repository over s.
func NewIdempotencyRepo(s *Store) *IdempotencyRepo { return &IdempotencyRepo{s: s} }

func (r *IdempotencyRepo) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.idempotency[log.Key]; ok {
		return ports.ErrDuplicateKey
	}
	cp := *log
	r.s.idempotency[log.Key] = &cp
	mt.onRollback(func() { delete(r.s.idempotency, log.Key) })
	return nil
}

func (r *IdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	log, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (r *IdempotencyRepo) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for key, log := range r.s.idempotency {
		if log.CreatedAt.Before(before) {
			delete(r.s.idempotency, key)
			n++
		}
	}
	return n, nil
}
