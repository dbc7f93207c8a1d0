package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const staleSweepBatch = 100

// PurchaseConfig tunes the orchestrator.
type PurchaseConfig struct {
	ChargeTimeout  time.Duration
	IdempotencyTTL time.Duration
}

// cachedPurchase is what the idempotency cache holds for a finished purchase.
type cachedPurchase struct {
	Fingerprint string              `json:"fingerprint"`
	Transaction *domain.Transaction `json:"transaction"`
}

// PurchaseServiceImpl implements ports.PurchaseService: it drives a purchase
// through pending, processing and a terminal state, funding it from the
// wallet, a voucher or an external method, and undoing the funding when the
// vendor charge fails.
type PurchaseServiceImpl struct {
	vendors    ports.VendorRepository
	txRepo     ports.TransactionRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	wallet     *WalletServiceImpl
	vouchers   *VoucherServiceImpl
	transactor ports.DBTransactor
	identity   ports.IdentityVerifier
	vendorGW   ports.VendorGateway
	notifier   ports.Notifier
	audit      ports.AuditService
	cfg        PurchaseConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewPurchaseService creates a new PurchaseServiceImpl.
func NewPurchaseService(
	vendors ports.VendorRepository,
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	wallet *WalletServiceImpl,
	vouchers *VoucherServiceImpl,
	transactor ports.DBTransactor,
	identity ports.IdentityVerifier,
	vendorGW ports.VendorGateway,
	notifier ports.Notifier,
	audit ports.AuditService,
	cfg PurchaseConfig,
	log zerolog.Logger,
) *PurchaseServiceImpl {
	return &PurchaseServiceImpl{
		vendors:    vendors,
		txRepo:     txRepo,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		wallet:     wallet,
		vouchers:   vouchers,
		transactor: transactor,
		identity:   identity,
		vendorGW:   vendorGW,
		notifier:   notifier,
		audit:      audit,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Purchase buys a vendor service for a user. Retries with the same
// idempotency key return the transaction created by the first call.
func (s *PurchaseServiceImpl) Purchase(ctx context.Context, req ports.PurchaseRequest) (*domain.Transaction, error) {
	if err := validatePurchase(req); err != nil {
		return nil, err
	}

	idempKey := domain.BuildIdempotencyKey(req.UserID, req.IdempotencyKey)
	fingerprint := domain.PurchaseFingerprint(req.UserID, req.VendorID, req.ServiceRef, req.Amount, req.PaymentMethod, req.VoucherCode)

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.replayCached(cached, fingerprint)
	}

	// Layer 2: DB idempotency check
	existing, err := s.replay(ctx, idempKey, fingerprint)
	if err != nil || existing != nil {
		return existing, err
	}

	if err := s.identity.Verify(ctx, req.UserID); err != nil {
		return nil, err
	}
	vendor, err := s.vendors.GetByID(ctx, req.VendorID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get vendor: %w", err))
	}
	if vendor == nil {
		return nil, apperror.ErrNotFound("vendor")
	}
	if !vendor.IsActive() {
		return nil, apperror.ErrAccountInactive("vendor")
	}

	txn, created, err := s.createPending(ctx, req, idempKey, fingerprint)
	if err != nil || !created {
		return txn, err
	}

	// Only the caller that wins this transition runs the payment step.
	if err := s.txRepo.Transition(ctx, nil, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusProcessing); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return nil, apperror.ErrConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("start processing: %w", err))
	}
	txn.Status = domain.TransactionStatusProcessing

	if err := s.pay(ctx, txn, req); err != nil {
		if ferr := s.fail(ctx, txn, err.Error(), req.Actor, nil); ferr == nil {
			s.remember(ctx, idempKey, fingerprint, txn)
		}
		return txn, err
	}

	final, err := s.charge(ctx, txn, vendor, req.Actor)
	if final != nil && final.IsTerminal() {
		s.remember(ctx, idempKey, fingerprint, final)
	}
	return final, err
}

func validatePurchase(req ports.PurchaseRequest) error {
	switch {
	case req.Amount <= 0:
		return apperror.Validation("amount must be positive")
	case !req.PaymentMethod.Valid():
		return apperror.Validation("unknown payment method")
	case req.ServiceRef == "":
		return apperror.Validation("service_ref is required")
	case req.IdempotencyKey == "":
		return apperror.Validation("idempotency key is required")
	case req.PaymentMethod == domain.PaymentMethodVoucher && req.VoucherCode == "":
		return apperror.Validation("voucher_code is required for voucher payments")
	case req.PaymentMethod != domain.PaymentMethodVoucher && req.VoucherCode != "":
		return apperror.Validation("voucher_code is only accepted for voucher payments")
	}
	return nil
}

// createPending writes the pending transaction and claims the idempotency key
// in one DB transaction. A lost claim returns the winner's transaction with
// created set to false.
func (s *PurchaseServiceImpl) createPending(ctx context.Context, req ports.PurchaseRequest, idempKey, fingerprint string) (*domain.Transaction, bool, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	txn := &domain.Transaction{
		ID:            uuid.New(),
		Kind:          domain.TransactionKindPurchase,
		UserID:        req.UserID,
		VendorID:      req.VendorID,
		ServiceRef:    req.ServiceRef,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.TransactionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	err = s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txn.ID,
		Fingerprint:   fingerprint,
		CreatedAt:     now,
	})
	if errors.Is(err, ports.ErrDuplicateKey) {
		_ = dbTx.Rollback(ctx)
		existing, err := s.replay(ctx, idempKey, fingerprint)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			// The other claimant rolled back; the client may retry.
			return nil, false, apperror.ErrConflict(errors.New("idempotency key claimed concurrently"))
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, true, nil
}

// pay takes the purchase amount from the user in one DB transaction and
// records how it was funded. Nothing is taken when it fails.
func (s *PurchaseServiceImpl) pay(ctx context.Context, txn *domain.Transaction, req ports.PurchaseRequest) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock order: transaction, voucher, user.
	locked, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txn.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if locked == nil || locked.Status != domain.TransactionStatusProcessing {
		return apperror.ErrConflict(errors.New("transaction left processing"))
	}

	var (
		walletAmount, voucherAmount int64
		voucherID                   *uuid.UUID
		use                         *VoucherUse
		entries                     []*domain.WalletTransaction
	)
	debit := func(amount int64) error {
		entry, err := s.wallet.ApplyInTx(ctx, dbTx, ports.WalletRequest{
			UserID:        txn.UserID,
			Amount:        amount,
			Reason:        domain.EntryReasonPurchase,
			TransactionID: &txn.ID,
			Reference:     txn.ServiceRef,
		}, domain.EntryTypeDebit)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	}

	switch txn.PaymentMethod {
	case domain.PaymentMethodWallet:
		if err := debit(txn.Amount); err != nil {
			return err
		}
		walletAmount = txn.Amount

	case domain.PaymentMethodVoucher:
		use, err = s.vouchers.RedeemInTx(ctx, dbTx, req.VoucherCode, txn.UserID, &txn.VendorID, txn.Amount, &txn.ID)
		if err != nil {
			return err
		}
		voucherAmount = use.Redemption.Amount
		voucherID = &use.Voucher.ID
		if remainder := txn.Amount - voucherAmount; remainder > 0 {
			if err := debit(remainder); err != nil {
				return err
			}
			walletAmount = remainder
		}

	case domain.PaymentMethodExternal:
		// The vendor charge is the payment. Nothing is taken from the wallet,
		// so a failure or a reversal has nothing to credit back.
	}

	if err := s.txRepo.SetPaymentSplit(ctx, dbTx, txn.ID, walletAmount, voucherAmount, voucherID); err != nil {
		return apperror.InternalError(fmt.Errorf("record payment split: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.WalletAmount, txn.VoucherAmount, txn.VoucherID = walletAmount, voucherAmount, voucherID
	s.vouchers.Committed(ctx, req.Actor, use)
	s.wallet.AfterCommit(ctx, req.Actor, entries...)
	return nil
}

// charge calls the vendor under the charge timeout and settles the outcome.
// No row lock is held across the call.
func (s *PurchaseServiceImpl) charge(ctx context.Context, txn *domain.Transaction, vendor *domain.Vendor, actor string) (*domain.Transaction, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	start := time.Now()
	res, err := s.vendorGW.Charge(chargeCtx, ports.ChargeRequest{
		VendorID:      vendor.ID,
		BaseURL:       vendor.APIBaseURL,
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		ServiceRef:    txn.ServiceRef,
		Amount:        txn.Amount,
		PaymentMethod: txn.PaymentMethod,
	})
	elapsed := time.Since(start).Milliseconds()
	cancel()

	if err != nil {
		reason := "vendor charge failed: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "vendor charge timed out"
		}
		outcome := &ports.ChargeOutcome{VendorID: vendor.ID, Success: false, Amount: txn.Amount, ResponseMs: elapsed}
		if ferr := s.fail(ctx, txn, reason, actor, outcome); ferr != nil {
			return txn, ferr
		}
		return txn, apperror.ErrExternalService("vendor", err)
	}

	before := *txn
	now := s.now()
	commission, net := vendor.Commission(txn.Amount)
	txn.Status = domain.TransactionStatusCompleted
	txn.CommissionAmount = commission
	txn.NetAmount = net
	txn.VendorReference = &res.Reference
	txn.UpdatedAt = now
	txn.ProcessedAt = &now

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Finalize(ctx, dbTx, txn); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			s.log.Error().Str("tx_id", txn.ID.String()).Str("vendor_ref", res.Reference).
				Msg("purchase: charged by vendor after leaving processing")
			return nil, apperror.ErrConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("complete transaction: %w", err))
	}
	if err := s.vendors.RecordCharge(ctx, dbTx, ports.ChargeOutcome{
		VendorID: vendor.ID, Success: true, Amount: txn.Amount, ResponseMs: elapsed, At: now,
	}); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record vendor charge: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      actor,
		Action:     domain.AuditActionPurchaseCompleted,
		TargetType: domain.TargetTransaction,
		TargetID:   txn.ID.String(),
		Before:     domain.Snapshot(before),
		After:      domain.Snapshot(txn),
	})
	s.notify(ctx, domain.EventPurchaseCompleted, txn, "purchase completed")

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("vendor_id", vendor.ID.String()).
		Int64("amount", txn.Amount).
		Int64("commission", commission).
		Msg("purchase completed successfully")

	return txn, nil
}

// fail credits back everything the purchase took and marks it failed, in one
// DB transaction under the transaction row lock. outcome is nil when the
// vendor was never called. If this fails the transaction stays processing and
// the stale sweep finishes it.
func (s *PurchaseServiceImpl) fail(ctx context.Context, txn *domain.Transaction, reason, actor string, outcome *ports.ChargeOutcome) error {
	before := *txn
	now := s.now()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", txn.ID.String()).Msg("purchase: could not begin failure handling")
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txn.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if locked == nil || locked.Status != domain.TransactionStatusProcessing {
		return apperror.ErrConflict(errors.New("transaction left processing"))
	}

	refund, err := s.wallet.CompensateInTx(ctx, dbTx, locked.UserID, locked.ID, locked.Taken())
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", txn.ID.String()).Int64("amount", locked.Taken()).
			Msg("purchase: compensation failed, left for stale sweep")
		return err
	}

	locked.Status = domain.TransactionStatusFailed
	locked.FailureReason = &reason
	locked.UpdatedAt = now
	locked.ProcessedAt = &now
	if err := s.txRepo.Finalize(ctx, dbTx, locked); err != nil {
		return apperror.InternalError(fmt.Errorf("fail transaction: %w", err))
	}
	if outcome != nil {
		outcome.At = now
		if err := s.vendors.RecordCharge(ctx, dbTx, *outcome); err != nil {
			return apperror.InternalError(fmt.Errorf("record vendor charge: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	*txn = *locked

	s.wallet.AfterCommit(ctx, actor, refund)
	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      actor,
		Action:     domain.AuditActionPurchaseFailed,
		TargetType: domain.TargetTransaction,
		TargetID:   txn.ID.String(),
		Before:     domain.Snapshot(before),
		After:      domain.Snapshot(txn),
	})
	s.notify(ctx, domain.EventPurchaseFailed, txn, reason)

	s.log.Warn().
		Str("tx_id", txn.ID.String()).
		Int64("compensated", before.Taken()).
		Str("reason", reason).
		Msg("purchase failed")
	return nil
}

// GetTransaction returns a transaction by id.
func (s *PurchaseServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// Reverse undoes a completed, unsettled purchase: the wallet and voucher parts
// are credited back to the wallet, a reversal transaction links to the
// original and the vendor's unsettled revenue drops.
func (s *PurchaseServiceImpl) Reverse(ctx context.Context, req ports.ReverseRequest) (*domain.Transaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock order: transaction, user, vendor.
	orig, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, req.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if orig == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	switch {
	case orig.Kind != domain.TransactionKindPurchase:
		return nil, apperror.ErrInvalidReversal("not a purchase")
	case orig.Status != domain.TransactionStatusCompleted:
		return nil, apperror.ErrInvalidReversal("status is " + string(orig.Status))
	case orig.IsSettled():
		return nil, apperror.ErrInvalidReversal("already settled")
	}

	now := s.now()
	reason := req.Reason
	reversal := &domain.Transaction{
		ID:                    uuid.New(),
		Kind:                  domain.TransactionKindReversal,
		UserID:                orig.UserID,
		VendorID:              orig.VendorID,
		ServiceRef:            orig.ServiceRef,
		Amount:                orig.Amount,
		PaymentMethod:         orig.PaymentMethod,
		VoucherID:             orig.VoucherID,
		WalletAmount:          orig.WalletAmount,
		VoucherAmount:         orig.VoucherAmount,
		Status:                domain.TransactionStatusCompleted,
		FailureReason:         &reason,
		OriginalTransactionID: &orig.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
		ProcessedAt:           &now,
	}
	if err := s.txRepo.Create(ctx, dbTx, reversal); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create reversal: %w", err))
	}
	if err := s.txRepo.Transition(ctx, dbTx, orig.ID, domain.TransactionStatusCompleted, domain.TransactionStatusReversed); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return nil, apperror.ErrConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("mark reversed: %w", err))
	}

	refund, err := s.wallet.RefundInTx(ctx, dbTx, orig.UserID, orig.ID, orig.Taken())
	if err != nil {
		return nil, err
	}
	if err := s.vendors.AdjustUnsettled(ctx, dbTx, orig.VendorID, -orig.Amount); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("adjust unsettled revenue: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.wallet.AfterCommit(ctx, req.Actor, refund)
	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      req.Actor,
		Action:     domain.AuditActionTransactionReversed,
		TargetType: domain.TargetTransaction,
		TargetID:   reversal.ID.String(),
		Before:     domain.Snapshot(orig),
		After:      domain.Snapshot(reversal),
	})
	s.notify(ctx, domain.EventTransactionReversed, reversal, "purchase reversed")

	s.log.Info().
		Str("tx_id", reversal.ID.String()).
		Str("original_tx_id", orig.ID.String()).
		Int64("refund_amount", orig.Taken()).
		Msg("reversal processed successfully")

	return reversal, nil
}

// TopUp credits operator-captured funds to a wallet.
func (s *PurchaseServiceImpl) TopUp(ctx context.Context, req ports.WalletRequest) (*domain.WalletTransaction, error) {
	req.Reason = domain.EntryReasonTopup
	req.TransactionID = nil
	return s.wallet.Credit(ctx, req)
}

// ResolveStale finishes purchases abandoned by a crash: pending ones are
// failed, processing ones are compensated and failed. Returns how many
// transactions were resolved.
func (s *PurchaseServiceImpl) ResolveStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	resolved := 0

	pending, err := s.txRepo.ListStale(ctx, domain.TransactionStatusPending, cutoff, staleSweepBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale pending: %w", err))
	}
	for _, txn := range pending {
		err := s.txRepo.Transition(ctx, nil, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusFailed)
		if err == nil {
			resolved++
			continue
		}
		if !errors.Is(err, ports.ErrConflict) {
			s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("stale sweep: could not fail pending purchase")
		}
	}

	processing, err := s.txRepo.ListStale(ctx, domain.TransactionStatusProcessing, cutoff, staleSweepBatch)
	if err != nil {
		return resolved, apperror.InternalError(fmt.Errorf("list stale processing: %w", err))
	}
	for i := range processing {
		txn := processing[i]
		err := s.fail(ctx, &txn, "abandoned while processing", domain.SystemActor, nil)
		if err == nil {
			resolved++
			continue
		}
		if !apperror.Is(err, apperror.CodeConflict) {
			s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("stale sweep: could not fail processing purchase")
		}
	}

	if resolved > 0 {
		s.log.Info().Int("resolved", resolved).Msg("stale purchases resolved")
	}
	return resolved, nil
}

// PurgeIdempotency deletes idempotency logs older than retention. Retention is
// never shorter than the cache TTL, so a key still served from the cache keeps
// its durable record.
func (s *PurchaseServiceImpl) PurgeIdempotency(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < s.cfg.IdempotencyTTL {
		retention = s.cfg.IdempotencyTTL
	}
	n, err := s.idempRepo.PurgeBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("purge idempotency logs: %w", err))
	}
	if n > 0 {
		s.log.Info().Int64("purged", n).Dur("retention", retention).Msg("idempotency logs purged")
	}
	return n, nil
}

// replay returns the transaction already bound to idempKey, or nil.
func (s *PurchaseServiceImpl) replay(ctx context.Context, idempKey, fingerprint string) (*domain.Transaction, error) {
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog == nil {
		return nil, nil
	}
	if idempLog.Fingerprint != fingerprint {
		return nil, apperror.Validation("idempotency key was already used for a different request")
	}

	txn, err := s.txRepo.GetByID(ctx, idempLog.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency log %s points to missing transaction", idempKey))
	}
	if txn.IsTerminal() {
		s.remember(ctx, idempKey, fingerprint, txn)
	}
	return txn, nil
}

func (s *PurchaseServiceImpl) replayCached(data []byte, fingerprint string) (*domain.Transaction, error) {
	var cp cachedPurchase
	if err := json.Unmarshal(data, &cp); err != nil || cp.Transaction == nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached tx: %w", err))
	}
	if cp.Fingerprint != fingerprint {
		return nil, apperror.Validation("idempotency key was already used for a different request")
	}
	return cp.Transaction, nil
}

// remember caches a terminal purchase for fast replays (best-effort).
func (s *PurchaseServiceImpl) remember(ctx context.Context, idempKey, fingerprint string, txn *domain.Transaction) {
	data, err := json.Marshal(cachedPurchase{Fingerprint: fingerprint, Transaction: txn})
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to marshal idempotency entry")
		return
	}
	if err := s.idempCache.Set(ctx, idempKey, data, s.cfg.IdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
	}
}

func (s *PurchaseServiceImpl) notify(ctx context.Context, event string, txn *domain.Transaction, message string) {
	userID, vendorID, txID := txn.UserID, txn.VendorID, txn.ID
	s.notifier.Notify(ctx, domain.Notification{
		Event:         event,
		UserID:        &userID,
		VendorID:      &vendorID,
		TransactionID: &txID,
		Amount:        txn.Amount,
		Message:       message,
	})
}
