package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// WalletServiceImpl implements ports.WalletService on top of the ledger store.
type WalletServiceImpl struct {
	users      ports.UserRepository
	entries    ports.LedgerRepository
	ledger     *LedgerService
	transactor ports.DBTransactor
	audit      ports.AuditService
	maxRetries int
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	users ports.UserRepository,
	entries ports.LedgerRepository,
	ledger *LedgerService,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	maxRetries int,
	log zerolog.Logger,
) *WalletServiceImpl {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &WalletServiceImpl{
		users:      users,
		entries:    entries,
		ledger:     ledger,
		transactor: transactor,
		audit:      audit,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Debit removes req.Amount from the wallet. Fails with InsufficientFunds
// rather than letting the balance go negative.
func (s *WalletServiceImpl) Debit(ctx context.Context, req ports.WalletRequest) (*domain.WalletTransaction, error) {
	return s.move(ctx, req, domain.EntryTypeDebit)
}

// Credit adds req.Amount to the wallet.
func (s *WalletServiceImpl) Credit(ctx context.Context, req ports.WalletRequest) (*domain.WalletTransaction, error) {
	return s.move(ctx, req, domain.EntryTypeCredit)
}

func (s *WalletServiceImpl) move(ctx context.Context, req ports.WalletRequest, typ domain.EntryType) (*domain.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, apperror.Validation("amount must be positive")
	}
	if req.Reason == "" {
		return nil, apperror.Validation("reason is required")
	}

	var (
		entry *domain.WalletTransaction
		err   error
	)
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		entry, err = s.moveOnce(ctx, req, typ)
		if err == nil || !apperror.Is(err, apperror.CodeConflict) {
			break
		}
		s.log.Debug().
			Str("user_id", req.UserID.String()).
			Int("attempt", attempt).
			Msg("wallet: stale append, retrying")
	}
	if err != nil {
		return nil, err
	}

	s.AfterCommit(ctx, req.Actor, entry)

	s.log.Info().
		Str("user_id", req.UserID.String()).
		Str("type", string(typ)).
		Str("reason", string(req.Reason)).
		Int64("amount", req.Amount).
		Int64("balance_after", entry.BalanceAfter).
		Msg("wallet movement applied")

	return entry, nil
}

func (s *WalletServiceImpl) moveOnce(ctx context.Context, req ports.WalletRequest, typ domain.EntryType) (*domain.WalletTransaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	entry, err := s.ApplyInTx(ctx, dbTx, req, typ)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return entry, nil
}

// ApplyInTx applies one movement inside a caller-owned transaction: it locks
// the user row, validates, and appends with the locked balance as the expected
// prior state. The caller commits and then calls AfterCommit.
func (s *WalletServiceImpl) ApplyInTx(ctx context.Context, tx pgx.Tx, req ports.WalletRequest, typ domain.EntryType) (*domain.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, apperror.Validation("amount must be positive")
	}

	user, err := s.users.GetByIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}

	if typ == domain.EntryTypeDebit {
		if !user.IsActive() {
			return nil, apperror.ErrAccountInactive("user")
		}
		if user.WalletBalance < req.Amount {
			return nil, apperror.ErrInsufficientFunds(user.WalletBalance, req.Amount)
		}
	}

	entry := &domain.WalletTransaction{
		Type:          typ,
		Reason:        req.Reason,
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
		Reference:     req.Reference,
	}
	prior := domain.BalanceSnapshot{UserID: user.ID, Seq: user.LedgerSeq, Balance: user.WalletBalance}
	if _, err := s.ledger.Append(ctx, tx, prior, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CompensateInTx credits amount back to the user for a purchase that failed,
// at most once per transaction. The check runs under the user lock, so a
// concurrent sweep and a purchase cannot both credit. Returns nil when the
// transaction was already compensated.
func (s *WalletServiceImpl) CompensateInTx(ctx context.Context, tx pgx.Tx, userID, transactionID uuid.UUID, amount int64) (*domain.WalletTransaction, error) {
	return s.creditOnceInTx(ctx, tx, ports.WalletRequest{
		UserID:        userID,
		Amount:        amount,
		Reason:        domain.EntryReasonCompensation,
		TransactionID: &transactionID,
		Reference:     "compensation:" + transactionID.String(),
	})
}

// RefundInTx credits amount back for a reversed purchase, at most once per transaction.
func (s *WalletServiceImpl) RefundInTx(ctx context.Context, tx pgx.Tx, userID, transactionID uuid.UUID, amount int64) (*domain.WalletTransaction, error) {
	return s.creditOnceInTx(ctx, tx, ports.WalletRequest{
		UserID:        userID,
		Amount:        amount,
		Reason:        domain.EntryReasonReversal,
		TransactionID: &transactionID,
		Reference:     "reversal:" + transactionID.String(),
	})
}

func (s *WalletServiceImpl) creditOnceInTx(ctx context.Context, tx pgx.Tx, req ports.WalletRequest) (*domain.WalletTransaction, error) {
	if req.Amount == 0 {
		return nil, nil
	}

	user, err := s.users.GetByIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}

	done, err := s.entries.HasEntry(ctx, tx, req.UserID, *req.TransactionID, req.Reason)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check %s entry: %w", req.Reason, err))
	}
	if done {
		s.log.Info().
			Str("user_id", req.UserID.String()).
			Str("tx_id", req.TransactionID.String()).
			Str("reason", string(req.Reason)).
			Msg("wallet: credit already applied, skipping")
		return nil, nil
	}

	return s.ApplyInTx(ctx, tx, req, domain.EntryTypeCredit)
}

// AfterCommit publishes committed entries to the balance cache and audits them.
// Nil entries are skipped.
func (s *WalletServiceImpl) AfterCommit(ctx context.Context, actor string, entries ...*domain.WalletTransaction) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		s.ledger.Publish(ctx, entry)

		action := domain.AuditActionWalletCredit
		if entry.Type == domain.EntryTypeDebit {
			action = domain.AuditActionWalletDebit
		}
		s.audit.Record(ctx, &domain.AuditLog{
			Actor:      actor,
			Action:     action,
			TargetType: domain.TargetWalletTransaction,
			TargetID:   entry.ID.String(),
			Before:     domain.Snapshot(map[string]int64{"balance": entry.BalanceAfter - entry.Signed(), "seq": entry.Seq - 1}),
			After:      domain.Snapshot(entry),
		})
	}
}

func (s *WalletServiceImpl) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

func (s *WalletServiceImpl) BalanceAsOf(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	return s.ledger.BalanceAsOf(ctx, userID, at)
}

func (s *WalletServiceImpl) Entries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.WalletTransaction, error) {
	return s.ledger.EntriesFor(ctx, userID, from, to)
}

func (s *WalletServiceImpl) Reconcile(ctx context.Context, userID uuid.UUID, repair bool) (*ports.Reconciliation, error) {
	return s.ledger.Reconcile(ctx, userID, repair)
}
