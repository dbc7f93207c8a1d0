package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const voucherColumns = `id, code_hash, value, remaining_value, status, usage_limit, usage_count,
	allow_partial, expires_at, owner_user_id, vendor_id, version, created_at, updated_at`

// VoucherRepo implements ports.VoucherRepository.
type VoucherRepo struct {
	pool Pool
}

// NewVoucherRepo creates a new VoucherRepo.
func NewVoucherRepo(pool Pool) *VoucherRepo {
	return &VoucherRepo{pool: pool}
}

// Create inserts a new voucher. A reused code maps to ports.ErrDuplicateKey.
func (r *VoucherRepo) Create(ctx context.Context, v *domain.Voucher) error {
	query := `INSERT INTO vouchers (` + voucherColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		v.ID, v.CodeHash, v.Value, v.RemainingValue, v.Status, v.UsageLimit, v.UsageCount,
		v.AllowPartial, v.ExpiresAt, v.OwnerUserID, v.VendorID, v.Version, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateKey
		}
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

// GetByCodeHash fetches a voucher by the digest of its code.
func (r *VoucherRepo) GetByCodeHash(ctx context.Context, codeHash string) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code_hash = $1`
	return r.scanVoucher(r.pool.QueryRow(ctx, query, codeHash))
}

// GetByID fetches a voucher by UUID.
func (r *VoucherRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`
	return r.scanVoucher(r.pool.QueryRow(ctx, query, id))
}

// CompareAndSwap writes the mutable voucher fields if the stored version is
// still expectedVersion. On success v.Version is advanced.
func (r *VoucherRepo) CompareAndSwap(ctx context.Context, tx pgx.Tx, v *domain.Voucher, expectedVersion int64) error {
	query := `UPDATE vouchers SET remaining_value = $3, status = $4, usage_count = $5,
		version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $2`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		v.ID, expectedVersion, v.RemainingValue, v.Status, v.UsageCount, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("compare and swap voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	v.Version = expectedVersion + 1
	return nil
}

// CreateRedemption appends a redemption record.
func (r *VoucherRepo) CreateRedemption(ctx context.Context, tx pgx.Tx, rd *domain.VoucherRedemption) error {
	query := `INSERT INTO voucher_redemptions (id, voucher_id, user_id, transaction_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := on(r.pool, tx).Exec(ctx, query,
		rd.ID, rd.VoucherID, rd.UserID, rd.TransactionID, rd.Amount, rd.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert voucher redemption: %w", err)
	}
	return nil
}

func (r *VoucherRepo) scanVoucher(row pgx.Row) (*domain.Voucher, error) {
	v := &domain.Voucher{}
	err := row.Scan(
		&v.ID, &v.CodeHash, &v.Value, &v.RemainingValue, &v.Status, &v.UsageLimit, &v.UsageCount,
		&v.AllowPartial, &v.ExpiresAt, &v.OwnerUserID, &v.VendorID, &v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan voucher: %w", err)
	}
	return v, nil
}
