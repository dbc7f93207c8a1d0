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
)

const transactionColumns = `id, kind, user_id, vendor_id, service_ref, amount, payment_method,
	voucher_id, wallet_amount, voucher_amount, status, commission_amount, net_amount,
	vendor_reference, failure_reason, original_transaction_id, settlement_id,
	created_at, updated_at, processed_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := on(r.pool, tx).Exec(ctx, query,
		t.ID, t.Kind, t.UserID, t.VendorID, t.ServiceRef, t.Amount, t.PaymentMethod,
		t.VoucherID, t.WalletAmount, t.VoucherAmount, t.Status, t.CommissionAmount, t.NetAmount,
		t.VendorReference, t.FailureReason, t.OriginalTransactionID, t.SettlementID,
		t.CreatedAt, t.UpdatedAt, t.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction with a row-level lock.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return r.scanTransaction(tx.QueryRow(ctx, query, id))
}

// Transition moves a transaction from one status to another.
func (r *TransactionRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	query := `UPDATE transactions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	tag, err := on(r.pool, tx).Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

// Finalize writes the outcome of a processing transaction.
func (r *TransactionRepo) Finalize(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `UPDATE transactions SET status = $2, commission_amount = $3, net_amount = $4,
		vendor_reference = $5, failure_reason = $6, updated_at = $7, processed_at = $8
		WHERE id = $1 AND status = 'processing'`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		t.ID, t.Status, t.CommissionAmount, t.NetAmount,
		t.VendorReference, t.FailureReason, t.UpdatedAt, t.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

// SetPaymentSplit records the wallet and voucher portions of a purchase.
func (r *TransactionRepo) SetPaymentSplit(ctx context.Context, tx pgx.Tx, id uuid.UUID, walletAmount, voucherAmount int64, voucherID *uuid.UUID) error {
	query := `UPDATE transactions SET wallet_amount = $2, voucher_amount = $3, voucher_id = $4, updated_at = NOW()
		WHERE id = $1`

	tag, err := on(r.pool, tx).Exec(ctx, query, id, walletAmount, voucherAmount, voucherID)
	if err != nil {
		return fmt.Errorf("set payment split: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// ListSettleable returns completed, unsettled purchases processed within period.
func (r *TransactionRepo) ListSettleable(ctx context.Context, vendorID uuid.UUID, period domain.Period) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE vendor_id = $1 AND kind = 'purchase' AND status = 'completed'
		AND settlement_id IS NULL AND processed_at >= $2 AND processed_at < $3
		ORDER BY processed_at, id`

	return r.list(ctx, query, vendorID, period.Start, period.End)
}

// AttachToSettlement links transactions that are still unsettled and completed.
func (r *TransactionRepo) AttachToSettlement(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, ids []uuid.UUID) (int64, error) {
	query := `UPDATE transactions SET settlement_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND settlement_id IS NULL AND status = 'completed'`

	tag, err := on(r.pool, tx).Exec(ctx, query, settlementID, ids)
	if err != nil {
		return 0, fmt.Errorf("attach transactions to settlement: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListStale returns transactions stuck in status since before olderThan.
func (r *TransactionRepo) ListStale(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at LIMIT $3`

	return r.list(ctx, query, status, olderThan, limit)
}

func (r *TransactionRepo) list(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.Kind, &t.UserID, &t.VendorID, &t.ServiceRef, &t.Amount, &t.PaymentMethod,
		&t.VoucherID, &t.WalletAmount, &t.VoucherAmount, &t.Status, &t.CommissionAmount, &t.NetAmount,
		&t.VendorReference, &t.FailureReason, &t.OriginalTransactionID, &t.SettlementID,
		&t.CreatedAt, &t.UpdatedAt, &t.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}
