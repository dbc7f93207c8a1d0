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

const entryColumns = `id, user_id, seq, type, reason, amount, balance_after, transaction_id, reference, created_at`

// LedgerRepo implements ports.LedgerRepository over wallet_transactions and
// the balance projection kept on the users row.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append moves the projection with a guarded UPDATE and inserts the entry.
// Both statements run in tx so a failed insert leaves the projection untouched.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.WalletTransaction, expectedBalance, expectedSeq int64) error {
	if tx == nil {
		return errors.New("append requires a database transaction")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE users SET wallet_balance = $2, ledger_seq = $3, updated_at = $4
		 WHERE id = $1 AND wallet_balance = $5 AND ledger_seq = $6`,
		e.UserID, e.BalanceAfter, e.Seq, e.CreatedAt, expectedBalance, expectedSeq,
	)
	if err != nil {
		return fmt.Errorf("advance balance projection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_transactions (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.Seq, e.Type, e.Reason, e.Amount, e.BalanceAfter,
		e.TransactionID, e.Reference, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrConflict
		}
		return fmt.Errorf("insert wallet entry: %w", err)
	}
	return nil
}

// BalanceAsOf returns the balance after the last entry created at or before at.
func (r *LedgerRepo) BalanceAsOf(ctx context.Context, userID uuid.UUID, at time.Time) (int64, bool, error) {
	query := `SELECT balance_after FROM wallet_transactions
		WHERE user_id = $1 AND created_at <= $2
		ORDER BY seq DESC LIMIT 1`

	var balance int64
	err := r.pool.QueryRow(ctx, query, userID, at).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("balance as of: %w", err)
	}
	return balance, true, nil
}

// EntriesFor lists entries created in [from, to) in sequence order.
func (r *LedgerRepo) EntriesFor(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.WalletTransaction, error) {
	query := `SELECT ` + entryColumns + ` FROM wallet_transactions
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list wallet entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.WalletTransaction
	for rows.Next() {
		var e domain.WalletTransaction
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Seq, &e.Type, &e.Reason, &e.Amount, &e.BalanceAfter,
			&e.TransactionID, &e.Reference, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wallet entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasEntry reports whether transactionID already produced an entry with reason for userID.
func (r *LedgerRepo) HasEntry(ctx context.Context, tx pgx.Tx, userID, transactionID uuid.UUID, reason domain.EntryReason) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM wallet_transactions
		WHERE user_id = $1 AND transaction_id = $2 AND reason = $3)`

	var exists bool
	if err := on(r.pool, tx).QueryRow(ctx, query, userID, transactionID, reason).Scan(&exists); err != nil {
		return false, fmt.Errorf("check wallet entry: %w", err)
	}
	return exists, nil
}

// Sum recomputes a user's balance from the entries.
func (r *LedgerRepo) Sum(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, int64, error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0),
		COALESCE(MAX(seq), 0)
		FROM wallet_transactions WHERE user_id = $1`

	var balance, seq int64
	if err := on(r.pool, tx).QueryRow(ctx, query, userID).Scan(&balance, &seq); err != nil {
		return 0, 0, fmt.Errorf("sum wallet entries: %w", err)
	}
	return balance, seq, nil
}

// ResetProjection overwrites the projection on the user row.
func (r *LedgerRepo) ResetProjection(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balance, seq int64) error {
	tag, err := on(r.pool, tx).Exec(ctx,
		`UPDATE users SET wallet_balance = $2, ledger_seq = $3, updated_at = NOW() WHERE id = $1`,
		userID, balance, seq,
	)
	if err != nil {
		return fmt.Errorf("reset balance projection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}
