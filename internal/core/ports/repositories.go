package ports

import (
	"context"
	"errors"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrConflict is returned by guarded writes whose expected prior state no longer holds.
	ErrConflict = errors.New("stale write: expected state changed")
	// ErrDuplicateKey is returned when a unique constraint rejects an insert.
	ErrDuplicateKey = errors.New("duplicate key")
)

// UserRepository defines persistence operations for wallet holders.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error)
}

// VendorRepository defines persistence operations for vendors and their counters.
type VendorRepository interface {
	Create(ctx context.Context, vendor *domain.Vendor) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error)
	ListActive(ctx context.Context) ([]domain.Vendor, error)
	// RecordCharge bumps the counters after a vendor charge resolves.
	RecordCharge(ctx context.Context, tx pgx.Tx, outcome ChargeOutcome) error
	// AdjustUnsettled adds delta (may be negative) to the unsettled revenue.
	AdjustUnsettled(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, delta int64) error
	MarkSettled(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, gross int64, at time.Time) error
}

// ChargeOutcome is the result of one vendor charge as seen by the counters.
type ChargeOutcome struct {
	VendorID   uuid.UUID
	Success    bool
	Amount     int64
	ResponseMs int64
	At         time.Time
}

// LedgerRepository is the append-only store of wallet entries plus the
// balance projection on the user row.
type LedgerRepository interface {
	// Append writes entry and moves the user's projection from (expectedBalance,
	// expectedSeq) to (entry.BalanceAfter, entry.Seq). ErrConflict when stale.
	Append(ctx context.Context, tx pgx.Tx, entry *domain.WalletTransaction, expectedBalance, expectedSeq int64) error
	// BalanceAsOf returns balance_after of the last entry created at or before at.
	// found is false when the user had no entries by then.
	BalanceAsOf(ctx context.Context, userID uuid.UUID, at time.Time) (balance int64, found bool, err error)
	EntriesFor(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.WalletTransaction, error)
	// HasEntry reports whether a transaction already produced an entry with reason.
	HasEntry(ctx context.Context, tx pgx.Tx, userID, transactionID uuid.UUID, reason domain.EntryReason) (bool, error)
	// Sum returns credits minus debits and the highest sequence for a user.
	Sum(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (balance int64, seq int64, err error)
	ResetProjection(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balance, seq int64) error
}

// TransactionRepository defines persistence operations for purchases and reversals.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	// Transition moves a transaction from one status to another. ErrConflict if it was not in from.
	Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error
	// Finalize writes the outcome of a processing transaction. ErrConflict if it is no longer processing.
	Finalize(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	// SetPaymentSplit records how the purchase was funded.
	SetPaymentSplit(ctx context.Context, tx pgx.Tx, id uuid.UUID, walletAmount, voucherAmount int64, voucherID *uuid.UUID) error
	ListSettleable(ctx context.Context, vendorID uuid.UUID, period domain.Period) ([]domain.Transaction, error)
	// AttachToSettlement links unsettled completed transactions and returns how many were linked.
	AttachToSettlement(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, ids []uuid.UUID) (int64, error)
	ListStale(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error)
}

// VoucherRepository defines persistence operations for vouchers and their redemptions.
type VoucherRepository interface {
	Create(ctx context.Context, voucher *domain.Voucher) error
	GetByCodeHash(ctx context.Context, codeHash string) (*domain.Voucher, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Voucher, error)
	// CompareAndSwap persists voucher if its stored version still equals expectedVersion,
	// then bumps voucher.Version. ErrConflict otherwise.
	CompareAndSwap(ctx context.Context, tx pgx.Tx, voucher *domain.Voucher, expectedVersion int64) error
	CreateRedemption(ctx context.Context, tx pgx.Tx, redemption *domain.VoucherRedemption) error
}

// SettlementRepository defines persistence operations for vendor settlements.
type SettlementRepository interface {
	Create(ctx context.Context, tx pgx.Tx, settlement *domain.Settlement) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	// GetLatestForPeriod returns the most recent settlement for the exact vendor period.
	GetLatestForPeriod(ctx context.Context, vendorID uuid.UUID, period domain.Period) (*domain.Settlement, error)
	// Save persists status, attempts, payout reference and last error if the stored
	// status still equals expected. ErrConflict otherwise.
	Save(ctx context.Context, tx pgx.Tx, settlement *domain.Settlement, expected domain.SettlementStatus) error
	// ListStale returns ids of settlements in status last updated before olderThan, oldest first.
	ListStale(ctx context.Context, status domain.SettlementStatus, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	// Create returns ErrDuplicateKey when the key was claimed concurrently.
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
	// PurgeBefore deletes logs created before the cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	ListByTarget(ctx context.Context, targetType, targetID string) ([]domain.AuditLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
