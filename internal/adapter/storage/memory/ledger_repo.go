package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct{ s *Store }

// NewLedgerRepo creates a ledger repository over s.
func NewLedgerRepo(s *Store) *LedgerRepo { return &LedgerRepo{s: s} }

func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.WalletTransaction, expectedBalance, expectedSeq int64) error {
	if tx == nil {
		return errors.New("append requires a database transaction")
	}
	mt, err := lockRow(ctx, tx, rowKey("users", e.UserID))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[e.UserID]
	if !ok {
		return fmt.Errorf("user not found: %s", e.UserID)
	}
	if u.WalletBalance != expectedBalance || u.LedgerSeq != expectedSeq {
		return ports.ErrConflict
	}
	if e.BalanceAfter < 0 {
		return fmt.Errorf("insert wallet entry: balance_after violates check constraint")
	}
	if r.duplicate(e) {
		return ports.ErrConflict
	}

	prevBalance, prevSeq, prevUpdated := u.WalletBalance, u.LedgerSeq, u.UpdatedAt
	prevLen := len(r.s.entries[e.UserID])

	u.WalletBalance, u.LedgerSeq, u.UpdatedAt = e.BalanceAfter, e.Seq, e.CreatedAt
	r.s.entries[e.UserID] = append(r.s.entries[e.UserID], *e)

	mt.onRollback(func() {
		u.WalletBalance, u.LedgerSeq, u.UpdatedAt = prevBalance, prevSeq, prevUpdated
		r.s.entries[e.UserID] = r.s.entries[e.UserID][:prevLen]
	})
	return nil
}

// duplicate mirrors the unique (user_id, seq) and the once-only
// (transaction_id, reason) constraints.
func (r *LedgerRepo) duplicate(e *domain.WalletTransaction) bool {
	once := e.Reason == domain.EntryReasonCompensation || e.Reason == domain.EntryReasonReversal
	for _, existing := range r.s.entries[e.UserID] {
		if existing.Seq == e.Seq {
			return true
		}
		if once && existing.Reason == e.Reason && existing.TransactionID != nil &&
			e.TransactionID != nil && *existing.TransactionID == *e.TransactionID {
			return true
		}
	}
	return false
}

func (r *LedgerRepo) BalanceAsOf(_ context.Context, userID uuid.UUID, at time.Time) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.s.entries[userID]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].CreatedAt.After(at) {
			return entries[i].BalanceAfter, true, nil
		}
	}
	return 0, false, nil
}

func (r *LedgerRepo) EntriesFor(_ context.Context, userID uuid.UUID, from, to time.Time) ([]domain.WalletTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.WalletTransaction
	for _, e := range r.s.entries[userID] {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *LedgerRepo) HasEntry(_ context.Context, _ pgx.Tx, userID, transactionID uuid.UUID, reason domain.EntryReason) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.entries[userID] {
		if e.Reason == reason && e.TransactionID != nil && *e.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *LedgerRepo) Sum(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var balance, seq int64
	for _, e := range r.s.entries[userID] {
		balance += e.Signed()
		if e.Seq > seq {
			seq = e.Seq
		}
	}
	return balance, seq, nil
}

func (r *LedgerRepo) ResetProjection(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balance, seq int64) error {
	mt, err := lockRow(ctx, tx, rowKey("users", userID))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	prevBalance, prevSeq := u.WalletBalance, u.LedgerSeq
	u.WalletBalance, u.LedgerSeq, u.UpdatedAt = balance, seq, time.Now().UTC()
	mt.onRollback(func() { u.WalletBalance, u.LedgerSeq = prevBalance, prevSeq })
	return nil
}
