package memory

import (
	"context"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VoucherRepo implements ports.VoucherRepository.
type VoucherRepo struct{ s *Store }

// NewVoucherRepo creates a voucher repository over s.
func NewVoucherRepo(s *Store) *VoucherRepo { return &VoucherRepo{s: s} }

func (r *VoucherRepo) Create(_ context.Context, v *domain.Voucher) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.voucherCodes[v.CodeHash]; ok {
		return ports.ErrDuplicateKey
	}
	if _, ok := r.s.vouchers[v.ID]; ok {
		return ports.ErrDuplicateKey
	}
	cp := *v
	r.s.vouchers[v.ID] = &cp
	r.s.voucherCodes[v.CodeHash] = v.ID
	return nil
}

func (r *VoucherRepo) GetByCodeHash(_ context.Context, codeHash string) (*domain.Voucher, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.voucherCodes[codeHash]
	if !ok {
		return nil, nil
	}
	return r.get(id), nil
}

func (r *VoucherRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Voucher, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id), nil
}

func (r *VoucherRepo) CompareAndSwap(ctx context.Context, tx pgx.Tx, v *domain.Voucher, expectedVersion int64) error {
	mt, err := lockRow(ctx, tx, rowKey("vouchers", v.ID))
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.vouchers[v.ID]
	if !ok || stored.Version != expectedVersion {
		return ports.ErrConflict
	}
	prev := *stored
	stored.RemainingValue = v.RemainingValue
	stored.Status = v.Status
	stored.UsageCount = v.UsageCount
	stored.UpdatedAt = v.UpdatedAt
	stored.Version = expectedVersion + 1
	mt.onRollback(func() { *r.s.vouchers[v.ID] = prev })

	v.Version = expectedVersion + 1
	return nil
}

func (r *VoucherRepo) CreateRedemption(_ context.Context, tx pgx.Tx, rd *domain.VoucherRedemption) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.redemptions = append(r.s.redemptions, *rd)
	id := rd.ID
	mt.onRollback(func() {
		for i := range r.s.redemptions {
			if r.s.redemptions[i].ID == id {
				r.s.redemptions = append(r.s.redemptions[:i], r.s.redemptions[i+1:]...)
				return
			}
		}
	})
	return nil
}

// Redemptions returns the redemption rows of a voucher, oldest first.
func (r *VoucherRepo) Redemptions(voucherID uuid.UUID) []domain.VoucherRedemption {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.VoucherRedemption
	for _, rd := range r.s.redemptions {
		if rd.VoucherID == voucherID {
			out = append(out, rd)
		}
	}
	return out
}

func (r *VoucherRepo) get(id uuid.UUID) *domain.Voucher {
	v, ok := r.s.vouchers[id]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}
