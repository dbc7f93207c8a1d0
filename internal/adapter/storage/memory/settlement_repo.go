package memory

import (
	"context"
	"sort"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettlementRepo implements ports.SettlementRepository. TransactionIDs are
// derived from transactions.SettlementID, as in the PostgreSQL schema.
type SettlementRepo struct {
	s    *Store
	txns *TransactionRepo
}

// NewSettlementRepo creates a settlement repository over s.
func NewSettlementRepo(s *Store) *SettlementRepo {
	return &SettlementRepo{s: s, txns: NewTransactionRepo(s)}
}

func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, st *domain.Settlement) error {
	mt, err := lockRow(ctx, tx, rowKey("settlements", st.ID))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.settlements[st.ID]; ok {
		return ports.ErrDuplicateKey
	}
	cp := *st
	cp.TransactionIDs = nil
	r.s.settlements[st.ID] = &cp
	mt.onRollback(func() { delete(r.s.settlements, st.ID) })
	return nil
}

func (r *SettlementRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Settlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.settlements[id]
	if !ok {
		return nil, nil
	}
	return r.load(st), nil
}

func (r *SettlementRepo) GetLatestForPeriod(_ context.Context, vendorID uuid.UUID, period domain.Period) (*domain.Settlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var latest *domain.Settlement
	for _, st := range r.s.settlements {
		if st.VendorID != vendorID || !st.PeriodStart.Equal(period.Start) || !st.PeriodEnd.Equal(period.End) {
			continue
		}
		if latest == nil || st.CreatedAt.After(latest.CreatedAt) {
			latest = st
		}
	}
	if latest == nil {
		return nil, nil
	}
	return r.load(latest), nil
}

func (r *SettlementRepo) Save(ctx context.Context, tx pgx.Tx, st *domain.Settlement, expected domain.SettlementStatus) error {
	mt, err := lockRow(ctx, tx, rowKey("settlements", st.ID))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.settlements[st.ID]
	if !ok || stored.Status != expected {
		return ports.ErrConflict
	}
	prev := *stored
	stored.Status = st.Status
	stored.Attempts = st.Attempts
	stored.PayoutReference = st.PayoutReference
	stored.LastError = st.LastError
	stored.UpdatedAt = st.UpdatedAt
	stored.PaidAt = st.PaidAt
	mt.onRollback(func() { *r.s.settlements[st.ID] = prev })
	return nil
}

func (r *SettlementRepo) ListStale(_ context.Context, status domain.SettlementStatus, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var stale []*domain.Settlement
	for _, st := range r.s.settlements {
		if st.Status == status && st.UpdatedAt.Before(olderThan) {
			stale = append(stale, st)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, len(stale))
	for i, st := range stale {
		ids[i] = st.ID
	}
	return ids, nil
}

// load copies st and fills its members. Caller holds s.mu.
func (r *SettlementRepo) load(st *domain.Settlement) *domain.Settlement {
	cp := *st
	cp.TransactionIDs = r.txns.settlementMembers(st.ID)
	return &cp
}
