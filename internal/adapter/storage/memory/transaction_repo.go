package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct{ s *Store }

// NewTransactionRepo creates a transaction repository over s.
func NewTransactionRepo(s *Store) *TransactionRepo { return &TransactionRepo{s: s} }

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	mt, err := lockRow(ctx, tx, rowKey("transactions", t.ID))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.transactions[t.ID]; ok {
		return ports.ErrDuplicateKey
	}
	cp := *t
	r.s.transactions[t.ID] = &cp
	mt.onRollback(func() { delete(r.s.transactions, t.ID) })
	return nil
}

func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id), nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	if _, err := lockRow(ctx, tx, rowKey("transactions", id)); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id), nil
}

func (r *TransactionRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	return r.update(ctx, tx, id, func(t *domain.Transaction) error {
		if t.Status != from {
			return ports.ErrConflict
		}
		t.Status = to
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r *TransactionRepo) Finalize(ctx context.Context, tx pgx.Tx, in *domain.Transaction) error {
	return r.update(ctx, tx, in.ID, func(t *domain.Transaction) error {
		if t.Status != domain.TransactionStatusProcessing {
			return ports.ErrConflict
		}
		t.Status = in.Status
		t.CommissionAmount = in.CommissionAmount
		t.NetAmount = in.NetAmount
		t.VendorReference = in.VendorReference
		t.FailureReason = in.FailureReason
		t.UpdatedAt = in.UpdatedAt
		t.ProcessedAt = in.ProcessedAt
		return nil
	})
}

func (r *TransactionRepo) SetPaymentSplit(ctx context.Context, tx pgx.Tx, id uuid.UUID, walletAmount, voucherAmount int64, voucherID *uuid.UUID) error {
	return r.update(ctx, tx, id, func(t *domain.Transaction) error {
		t.WalletAmount = walletAmount
		t.VoucherAmount = voucherAmount
		t.VoucherID = voucherID
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r *TransactionRepo) ListSettleable(_ context.Context, vendorID uuid.UUID, period domain.Period) ([]domain.Transaction, error) {
	return r.filter(func(t *domain.Transaction) bool {
		return t.VendorID == vendorID &&
			t.Kind == domain.TransactionKindPurchase &&
			t.Status == domain.TransactionStatusCompleted &&
			t.SettlementID == nil &&
			t.ProcessedAt != nil && period.Contains(*t.ProcessedAt)
	}, func(a, b *domain.Transaction) bool {
		if !a.ProcessedAt.Equal(*b.ProcessedAt) {
			return a.ProcessedAt.Before(*b.ProcessedAt)
		}
		return a.ID.String() < b.ID.String()
	}, 0), nil
}

func (r *TransactionRepo) AttachToSettlement(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, ids []uuid.UUID) (int64, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	var attached int64
	for _, id := range ordered {
		err := r.update(ctx, tx, id, func(t *domain.Transaction) error {
			if t.SettlementID != nil || t.Status != domain.TransactionStatusCompleted {
				return ports.ErrConflict
			}
			sid := settlementID
			t.SettlementID = &sid
			t.UpdatedAt = time.Now().UTC()
			return nil
		})
		switch {
		case err == nil:
			attached++
		case errors.Is(err, ports.ErrConflict):
		default:
			return attached, err
		}
	}
	return attached, nil
}

func (r *TransactionRepo) ListStale(_ context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	return r.filter(func(t *domain.Transaction) bool {
		return t.Status == status && t.UpdatedAt.Before(olderThan)
	}, func(a, b *domain.Transaction) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}, limit), nil
}

// settlementMembers returns the ids of a settlement's transactions. Caller holds s.mu.
func (r *TransactionRepo) settlementMembers(settlementID uuid.UUID) []uuid.UUID {
	var members []*domain.Transaction
	for _, t := range r.s.transactions {
		if t.SettlementID != nil && *t.SettlementID == settlementID {
			members = append(members, t)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.ProcessedAt != nil && b.ProcessedAt != nil && !a.ProcessedAt.Equal(*b.ProcessedAt) {
			return a.ProcessedAt.Before(*b.ProcessedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	ids := make([]uuid.UUID, 0, len(members))
	for _, t := range members {
		ids = append(ids, t.ID)
	}
	return ids
}

func (r *TransactionRepo) update(ctx context.Context, tx pgx.Tx, id uuid.UUID, fn func(t *domain.Transaction) error) error {
	mt, err := lockRow(ctx, tx, rowKey("transactions", id))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	prev := *t
	if err := fn(t); err != nil {
		return err
	}
	mt.onRollback(func() { *r.s.transactions[id] = prev })
	return nil
}

func (r *TransactionRepo) filter(keep func(*domain.Transaction) bool, less func(a, b *domain.Transaction) bool, limit int) []domain.Transaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*domain.Transaction
	for _, t := range r.s.transactions {
		if keep(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]domain.Transaction, 0, len(matched))
	for _, t := range matched {
		out = append(out, *t)
	}
	return out
}

func (r *TransactionRepo) get(id uuid.UUID) *domain.Transaction {
	t, ok := r.s.transactions[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}
