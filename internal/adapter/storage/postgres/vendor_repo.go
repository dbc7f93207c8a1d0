package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const vendorColumns = `id, company_name, vendor_type, commission_rate::text,
	bank_name, account_number, account_name, branch_code, swift_code,
	settlement_frequency, status, api_base_url,
	total_transactions, failed_transactions, total_revenue, unsettled_revenue, average_response_ms,
	last_activity_at, last_settled_at, created_at, updated_at`

// VendorRepo implements ports.VendorRepository.
type VendorRepo struct {
	pool Pool
}

// NewVendorRepo creates a new VendorRepo.
func NewVendorRepo(pool Pool) *VendorRepo {
	return &VendorRepo{pool: pool}
}

// Create inserts a new vendor.
func (r *VendorRepo) Create(ctx context.Context, v *domain.Vendor) error {
	query := `INSERT INTO vendors (id, company_name, vendor_type, commission_rate,
		bank_name, account_number, account_name, branch_code, swift_code,
		settlement_frequency, status, api_base_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	acct := v.SettlementAccount
	_, err := r.pool.Exec(ctx, query,
		v.ID, v.CompanyName, v.VendorType, v.CommissionRate.String(),
		acct.BankName, acct.AccountNumber, acct.AccountName, acct.BranchCode, acct.SwiftCode,
		v.SettlementFrequency, v.Status, v.APIBaseURL, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vendor: %w", err)
	}
	return nil
}

// GetByID fetches a vendor by UUID.
func (r *VendorRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error) {
	query := `SELECT ` + vendorColumns + ` FROM vendors WHERE id = $1`
	return r.scanVendor(r.pool.QueryRow(ctx, query, id))
}

// ListActive returns every active vendor, oldest first.
func (r *VendorRepo) ListActive(ctx context.Context) ([]domain.Vendor, error) {
	query := `SELECT ` + vendorColumns + ` FROM vendors WHERE status = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, domain.VendorStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active vendors: %w", err)
	}
	defer rows.Close()

	var vendors []domain.Vendor
	for rows.Next() {
		v, err := r.scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, *v)
	}
	return vendors, rows.Err()
}

// RecordCharge updates the counters after a vendor charge resolved. The average
// response time is a running mean over all charges.
func (r *VendorRepo) RecordCharge(ctx context.Context, tx pgx.Tx, o ports.ChargeOutcome) error {
	var failed, revenue int64
	if o.Success {
		revenue = o.Amount
	} else {
		failed = 1
	}

	query := `UPDATE vendors SET
		average_response_ms = (average_response_ms * total_transactions + $2) / (total_transactions + 1),
		total_transactions = total_transactions + 1,
		failed_transactions = failed_transactions + $3,
		total_revenue = total_revenue + $4,
		unsettled_revenue = unsettled_revenue + $4,
		last_activity_at = $5,
		updated_at = $5
		WHERE id = $1`

	tag, err := on(r.pool, tx).Exec(ctx, query, o.VendorID, o.ResponseMs, failed, revenue, o.At)
	if err != nil {
		return fmt.Errorf("record vendor charge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vendor not found: %s", o.VendorID)
	}
	return nil
}

// AdjustUnsettled adds delta to the vendor's unsettled revenue.
func (r *VendorRepo) AdjustUnsettled(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, delta int64) error {
	query := `UPDATE vendors SET unsettled_revenue = unsettled_revenue + $2, updated_at = NOW() WHERE id = $1`

	tag, err := on(r.pool, tx).Exec(ctx, query, vendorID, delta)
	if err != nil {
		return fmt.Errorf("adjust unsettled revenue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vendor not found: %s", vendorID)
	}
	return nil
}

// MarkSettled moves gross out of unsettled revenue and stamps the settlement time.
func (r *VendorRepo) MarkSettled(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, gross int64, at time.Time) error {
	query := `UPDATE vendors SET unsettled_revenue = GREATEST(unsettled_revenue - $2, 0),
		last_settled_at = $3, updated_at = $3 WHERE id = $1`

	tag, err := on(r.pool, tx).Exec(ctx, query, vendorID, gross, at)
	if err != nil {
		return fmt.Errorf("mark vendor settled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vendor not found: %s", vendorID)
	}
	return nil
}

func (r *VendorRepo) scanVendor(row pgx.Row) (*domain.Vendor, error) {
	v := &domain.Vendor{}
	var rate string
	err := row.Scan(
		&v.ID, &v.CompanyName, &v.VendorType, &rate,
		&v.SettlementAccount.BankName, &v.SettlementAccount.AccountNumber, &v.SettlementAccount.AccountName,
		&v.SettlementAccount.BranchCode, &v.SettlementAccount.SwiftCode,
		&v.SettlementFrequency, &v.Status, &v.APIBaseURL,
		&v.TotalTransactions, &v.FailedTransactions, &v.TotalRevenue, &v.UnsettledRevenue, &v.AverageResponseMs,
		&v.LastActivityAt, &v.LastSettledAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan vendor: %w", err)
	}
	v.CommissionRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("parse commission rate %q: %w", rate, err)
	}
	return v, nil
}
