package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VendorRepo implements ports.VendorRepository. Counter updates inside a
// transaction hold the vendor row until it ends.
type VendorRepo struct{ s *Store }

// NewVendorRepo creates a vendor repository over s.
func NewVendorRepo(s *Store) *VendorRepo { return &VendorRepo{s: s} }

func (r *VendorRepo) Create(_ context.Context, v *domain.Vendor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.vendors[v.ID]; ok {
		return ports.ErrDuplicateKey
	}
	cp := *v
	r.s.vendors[v.ID] = &cp
	return nil
}

func (r *VendorRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Vendor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vendors[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *VendorRepo) ListActive(_ context.Context) ([]domain.Vendor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Vendor
	for _, v := range r.s.vendors {
		if v.IsActive() {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *VendorRepo) RecordCharge(ctx context.Context, tx pgx.Tx, o ports.ChargeOutcome) error {
	return r.update(ctx, tx, o.VendorID, func(v *domain.Vendor) {
		v.AverageResponseMs = (v.AverageResponseMs*v.TotalTransactions + o.ResponseMs) / (v.TotalTransactions + 1)
		v.TotalTransactions++
		if o.Success {
			v.TotalRevenue += o.Amount
			v.UnsettledRevenue += o.Amount
		} else {
			v.FailedTransactions++
		}
		at := o.At
		v.LastActivityAt = &at
		v.UpdatedAt = o.At
	})
}

func (r *VendorRepo) AdjustUnsettled(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, delta int64) error {
	return r.update(ctx, tx, vendorID, func(v *domain.Vendor) {
		v.UnsettledRevenue += delta
		v.UpdatedAt = time.Now().UTC()
	})
}

func (r *VendorRepo) MarkSettled(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, gross int64, at time.Time) error {
	return r.update(ctx, tx, vendorID, func(v *domain.Vendor) {
		v.UnsettledRevenue -= gross
		if v.UnsettledRevenue < 0 {
			v.UnsettledRevenue = 0
		}
		settled := at
		v.LastSettledAt = &settled
		v.UpdatedAt = at
	})
}

func (r *VendorRepo) update(ctx context.Context, tx pgx.Tx, id uuid.UUID, fn func(v *domain.Vendor)) error {
	mt, err := lockRow(ctx, tx, rowKey("vendors", id))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.vendors[id]
	if !ok {
		return fmt.Errorf("vendor not found: %s", id)
	}
	prev := *v
	fn(v)
	mt.onRollback(func() { *r.s.vendors[id] = prev })
	return nil
}
