package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// LedgerService is the ledger store: the only writer of wallet entries and
// of the balance projection, and the owner of the balance cache.
type LedgerService struct {
	entries    ports.LedgerRepository
	users      ports.UserRepository
	cache      ports.BalanceCache
	transactor ports.DBTransactor
	cacheTTL   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	entries ports.LedgerRepository,
	users ports.UserRepository,
	cache ports.BalanceCache,
	transactor ports.DBTransactor,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		entries:    entries,
		users:      users,
		cache:      cache,
		transactor: transactor,
		cacheTTL:   cacheTTL,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Append writes entry on top of prior inside tx and returns the entry id.
// Seq and BalanceAfter are derived from prior; a stale prior yields a
// ConflictError and nothing is written.
func (l *LedgerService) Append(ctx context.Context, tx pgx.Tx, prior domain.BalanceSnapshot, entry *domain.WalletTransaction) (uuid.UUID, error) {
	if entry.Amount <= 0 {
		return uuid.Nil, apperror.Validation("amount must be positive")
	}
	if entry.Type != domain.EntryTypeCredit && entry.Type != domain.EntryTypeDebit {
		return uuid.Nil, apperror.Validation("unknown entry type")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	entry.UserID = prior.UserID
	entry.Seq = prior.Seq + 1
	entry.BalanceAfter = prior.Balance + entry.Signed()
	if entry.BalanceAfter < 0 {
		return uuid.Nil, apperror.ErrInsufficientFunds(prior.Balance, entry.Amount)
	}

	if err := l.entries.Append(ctx, tx, entry, prior.Balance, prior.Seq); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return uuid.Nil, apperror.ErrConflict(err)
		}
		return uuid.Nil, apperror.InternalError(fmt.Errorf("append entry: %w", err))
	}

	// Readers fall back to the projection until Publish runs after commit.
	if err := l.cache.Invalidate(ctx, prior.UserID); err != nil {
		l.log.Warn().Err(err).Str("user_id", prior.UserID.String()).Msg("ledger: balance cache invalidate failed")
	}
	return entry.ID, nil
}

// Publish records a committed entry as the user's high-water balance.
// Best-effort: a lost publish is healed by the cache TTL.
func (l *LedgerService) Publish(ctx context.Context, entry *domain.WalletTransaction) {
	snap := domain.BalanceSnapshot{UserID: entry.UserID, Seq: entry.Seq, Balance: entry.BalanceAfter}
	if err := l.cache.Set(ctx, snap, l.cacheTTL); err != nil {
		l.log.Warn().Err(err).Str("user_id", entry.UserID.String()).Int64("seq", entry.Seq).Msg("ledger: balance cache publish failed")
	}
}

// Balance returns the current balance in O(1): cache first, projection second.
func (l *LedgerService) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	snap, err := l.cache.Get(ctx, userID)
	if err != nil {
		l.log.Warn().Err(err).Str("user_id", userID.String()).Msg("ledger: balance cache read failed, falling through to DB")
	}
	if snap != nil {
		return snap.Balance, nil
	}

	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return 0, apperror.ErrNotFound("user")
	}

	fresh := domain.BalanceSnapshot{UserID: userID, Seq: user.LedgerSeq, Balance: user.WalletBalance}
	if err := l.cache.Set(ctx, fresh, l.cacheTTL); err != nil {
		l.log.Warn().Err(err).Str("user_id", userID.String()).Msg("ledger: balance cache fill failed")
	}
	return user.WalletBalance, nil
}

// BalanceAsOf returns the balance at a point in time. Instants at or after
// now are served like Balance; earlier ones read the ledger.
func (l *LedgerService) BalanceAsOf(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	if !at.Before(l.now()) {
		return l.Balance(ctx, userID)
	}

	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return 0, apperror.ErrNotFound("user")
	}

	balance, found, err := l.entries.BalanceAsOf(ctx, userID, at)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("balance as of: %w", err))
	}
	if !found {
		return 0, nil
	}
	return balance, nil
}

// EntriesFor returns a user's entries created in [from, to), oldest first.
func (l *LedgerService) EntriesFor(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.WalletTransaction, error) {
	if !from.Before(to) {
		return nil, apperror.Validation("from must be before to")
	}
	entries, err := l.entries.EntriesFor(ctx, userID, from, to)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list entries: %w", err))
	}
	if entries == nil {
		entries = []domain.WalletTransaction{}
	}
	return entries, nil
}

// Reconcile recomputes the balance from the ledger under the user lock and
// compares it with the projection. With repair set, a drifted projection is
// rewritten from the ledger.
func (l *LedgerService) Reconcile(ctx context.Context, userID uuid.UUID, repair bool) (*ports.Reconciliation, error) {
	dbTx, err := l.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	user, err := l.users.GetByIDForUpdate(ctx, dbTx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}

	balance, seq, err := l.entries.Sum(ctx, dbTx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum entries: %w", err))
	}

	rec := &ports.Reconciliation{
		UserID:        userID,
		LedgerBalance: balance,
		LedgerSeq:     seq,
		Projection:    user.WalletBalance,
		ProjectionSeq: user.LedgerSeq,
		Consistent:    balance == user.WalletBalance && seq == user.LedgerSeq,
	}
	if rec.Consistent || !repair {
		if !rec.Consistent {
			l.log.Error().
				Str("user_id", userID.String()).
				Int64("ledger", balance).
				Int64("projection", user.WalletBalance).
				Msg("ledger: projection drift detected")
		}
		return rec, nil
	}

	if err := l.RebuildProjection(ctx, dbTx, userID, balance, seq); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	rec.Repaired = true

	l.Publish(ctx, &domain.WalletTransaction{UserID: userID, Seq: seq, BalanceAfter: balance})
	l.log.Warn().
		Str("user_id", userID.String()).
		Int64("ledger", balance).
		Int64("projection", user.WalletBalance).
		Msg("ledger: projection rebuilt from entries")
	return rec, nil
}

// RebuildProjection overwrites the projection inside tx. The caller holds the user lock.
func (l *LedgerService) RebuildProjection(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balance, seq int64) error {
	if balance < 0 {
		return apperror.InternalError(fmt.Errorf("ledger sums to negative balance %d for user %s", balance, userID))
	}
	if err := l.entries.ResetProjection(ctx, tx, userID, balance, seq); err != nil {
		return apperror.InternalError(fmt.Errorf("reset projection: %w", err))
	}
	if err := l.cache.Invalidate(ctx, userID); err != nil {
		l.log.Warn().Err(err).Str("user_id", userID.String()).Msg("ledger: balance cache invalidate failed")
	}
	return nil
}
