// Package memory is a process-local storage backend implementing the
// repository ports. Row locks and rollback follow PostgreSQL semantics closely
// enough for the services to run unchanged: a row written inside a transaction
// stays locked until Commit or Rollback, and Rollback undoes every write.
// Reads are not isolated from uncommitted writes.
package memory

import (
	"context"
	"errors"
	"sync"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errForeignTx = errors.New("memory store: transaction was not started by this store")

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	users        map[uuid.UUID]*domain.User
	vendors      map[uuid.UUID]*domain.Vendor
	entries      map[uuid.UUID][]domain.WalletTransaction
	transactions map[uuid.UUID]*domain.Transaction
	vouchers     map[uuid.UUID]*domain.Voucher
	voucherCodes map[string]uuid.UUID
	redemptions  []domain.VoucherRedemption
	settlements  map[uuid.UUID]*domain.Settlement
	idempotency  map[string]*domain.IdempotencyLog
	audit        []domain.AuditLog

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*domain.User),
		vendors:      make(map[uuid.UUID]*domain.Vendor),
		entries:      make(map[uuid.UUID][]domain.WalletTransaction),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		vouchers:     make(map[uuid.UUID]*domain.Voucher),
		voucherCodes: make(map[string]uuid.UUID),
		settlements:  make(map[uuid.UUID]*domain.Settlement),
		idempotency:  make(map[string]*domain.IdempotencyLog),
		locks:        make(map[string]chan struct{}),
	}
}

// Begin implements ports.DBTransactor.
func (s *Store) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{s: s, held: make(map[string]chan struct{})}, nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(_ context.Context) error { return nil }

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "memory" }

func (s *Store) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// memTx satisfies pgx.Tx for the services. Only Commit and Rollback are
// implemented; the repositories never issue SQL through it.
type memTx struct {
	pgx.Tx

	s    *Store
	held map[string]chan struct{}
	undo []func()
	done bool
}

// asTx unwraps tx. A nil tx means autocommit.
func asTx(tx pgx.Tx) (*memTx, error) {
	if tx == nil {
		return nil, nil
	}
	mt, ok := tx.(*memTx)
	if !ok {
		return nil, errForeignTx
	}
	if mt.done {
		return nil, pgx.ErrTxClosed
	}
	return mt, nil
}

// lock takes the row lock for key until the transaction ends. Reentrant.
func (t *memTx) lock(ctx context.Context, key string) error {
	if t == nil {
		return nil
	}
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.s.rowLock(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onRollback registers an undo step. Must be called with s.mu held.
func (t *memTx) onRollback(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.s.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.s.mu.Unlock()

	t.release()
	return nil
}

func (t *memTx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

// lockRow resolves tx and takes the row lock in one step.
func lockRow(ctx context.Context, tx pgx.Tx, key string) (*memTx, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, key); err != nil {
		return nil, err
	}
	return mt, nil
}

func rowKey(table string, id uuid.UUID) string {
	return table + ":" + id.String()
}
