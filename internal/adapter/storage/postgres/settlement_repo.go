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

const settlementColumns = `id, vendor_id, period_start, period_end, gross_amount, commission_rate::text,
	commission_amount, net_amount, status, attempts, payout_reference, last_error,
	created_at, updated_at, paid_at`

// SettlementRepo implements ports.SettlementRepository. Membership is stored
// on transactions.settlement_id; TransactionIDs is loaded from there.
type SettlementRepo struct {
	pool Pool
}

// NewSettlementRepo creates a new SettlementRepo.
func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// Create inserts a new settlement within a database transaction.
func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	query := `INSERT INTO settlements (id, vendor_id, period_start, period_end, gross_amount, commission_rate,
		commission_amount, net_amount, status, attempts, payout_reference, last_error,
		created_at, updated_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := on(r.pool, tx).Exec(ctx, query,
		s.ID, s.VendorID, s.PeriodStart, s.PeriodEnd, s.GrossAmount, s.CommissionRate.String(),
		s.CommissionAmount, s.NetAmount, s.Status, s.Attempts, s.PayoutReference, s.LastError,
		s.CreatedAt, s.UpdatedAt, s.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// GetByID fetches a settlement and the IDs of its transactions.
func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`
	return r.load(ctx, r.pool.QueryRow(ctx, query, id))
}

// GetLatestForPeriod returns the most recently created settlement for the exact period.
func (r *SettlementRepo) GetLatestForPeriod(ctx context.Context, vendorID uuid.UUID, period domain.Period) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements
		WHERE vendor_id = $1 AND period_start = $2 AND period_end = $3
		ORDER BY created_at DESC LIMIT 1`
	return r.load(ctx, r.pool.QueryRow(ctx, query, vendorID, period.Start, period.End))
}

// Save persists the payout state if the stored status still equals expected.
func (r *SettlementRepo) Save(ctx context.Context, tx pgx.Tx, s *domain.Settlement, expected domain.SettlementStatus) error {
	query := `UPDATE settlements SET status = $3, attempts = $4, payout_reference = $5,
		last_error = $6, updated_at = $7, paid_at = $8
		WHERE id = $1 AND status = $2`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		s.ID, expected, s.Status, s.Attempts, s.PayoutReference, s.LastError, s.UpdatedAt, s.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("save settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

// ListStale returns the ids of settlements stuck in status since before olderThan.
func (r *SettlementRepo) ListStale(ctx context.Context, status domain.SettlementStatus, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM settlements
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at LIMIT $3`, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale settlements: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan settlement id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SettlementRepo) load(ctx context.Context, row pgx.Row) (*domain.Settlement, error) {
	s, err := r.scanSettlement(row)
	if err != nil || s == nil {
		return s, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id FROM transactions WHERE settlement_id = $1 ORDER BY processed_at, id`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list settlement transactions: %w", err)
	}
	defer rows.Close()

	s.TransactionIDs = []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan settlement transaction: %w", err)
		}
		s.TransactionIDs = append(s.TransactionIDs, id)
	}
	return s, rows.Err()
}

func (r *SettlementRepo) scanSettlement(row pgx.Row) (*domain.Settlement, error) {
	s := &domain.Settlement{}
	var rate string
	err := row.Scan(
		&s.ID, &s.VendorID, &s.PeriodStart, &s.PeriodEnd, &s.GrossAmount, &rate,
		&s.CommissionAmount, &s.NetAmount, &s.Status, &s.Attempts, &s.PayoutReference, &s.LastError,
		&s.CreatedAt, &s.UpdatedAt, &s.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	s.CommissionRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("parse commission rate %q: %w", rate, err)
	}
	return s, nil
}
