package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettlementConfig tunes the batcher.
type SettlementConfig struct {
	// RetryIntervals are the waits between payout attempts; len+1 attempts are made.
	RetryIntervals []time.Duration
	LockTTL        time.Duration
	LockRetries    int
	LockRetryWait  time.Duration
}

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	vendors     ports.VendorRepository
	txRepo      ports.TransactionRepository
	settlements ports.SettlementRepository
	transactor  ports.DBTransactor
	locker      ports.Locker
	payout      ports.PayoutGateway
	notifier    ports.Notifier
	audit       ports.AuditService
	cfg         SettlementConfig
	log         zerolog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	vendors ports.VendorRepository,
	txRepo ports.TransactionRepository,
	settlements ports.SettlementRepository,
	transactor ports.DBTransactor,
	locker ports.Locker,
	payout ports.PayoutGateway,
	notifier ports.Notifier,
	audit ports.AuditService,
	cfg SettlementConfig,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		vendors:     vendors,
		txRepo:      txRepo,
		settlements: settlements,
		transactor:  transactor,
		locker:      locker,
		payout:      payout,
		notifier:    notifier,
		audit:       audit,
		cfg:         cfg,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run settles a vendor's completed purchases in period and pays the net out.
// With nothing to settle it returns the settlement already made for that
// exact period, or EmptyBatch.
func (s *SettlementServiceImpl) Run(ctx context.Context, vendorID uuid.UUID, period domain.Period) (*domain.Settlement, error) {
	st, _, err := s.run(ctx, vendorID, period)
	return st, err
}

func (s *SettlementServiceImpl) run(ctx context.Context, vendorID uuid.UUID, period domain.Period) (*domain.Settlement, bool, error) {
	if err := period.Validate(); err != nil {
		return nil, false, apperror.Validation(err.Error())
	}
	vendor, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("get vendor: %w", err))
	}
	if vendor == nil {
		return nil, false, apperror.ErrNotFound("vendor")
	}
	if !vendor.IsActive() {
		return nil, false, apperror.ErrAccountInactive("vendor")
	}

	release, err := s.lock(ctx, lockKey(vendorID, period))
	if err != nil {
		return nil, false, err
	}
	defer release()

	txns, err := s.txRepo.ListSettleable(ctx, vendorID, period)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("list settleable: %w", err))
	}
	if len(txns) == 0 {
		existing, err := s.settlements.GetLatestForPeriod(ctx, vendorID, period)
		if err != nil {
			return nil, false, apperror.InternalError(fmt.Errorf("get settlement: %w", err))
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, apperror.ErrEmptyBatch()
	}

	st := domain.NewSettlement(vendor, period, txns, s.now())
	if err := s.create(ctx, st); err != nil {
		return nil, false, err
	}

	s.log.Info().
		Str("settlement_id", st.ID.String()).
		Str("vendor_id", vendorID.String()).
		Int("transactions", len(st.TransactionIDs)).
		Int64("gross", st.GrossAmount).
		Int64("net", st.NetAmount).
		Msg("settlement created")

	paid, err := s.pay(ctx, st, vendor, domain.SettlementStatusPending)
	return paid, true, err
}

// create writes the settlement and attaches its transactions in one DB
// transaction. A transaction claimed by another settlement in the meantime
// rolls everything back.
func (s *SettlementServiceImpl) create(ctx context.Context, st *domain.Settlement) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.settlements.Create(ctx, dbTx, st); err != nil {
		return apperror.InternalError(fmt.Errorf("create settlement: %w", err))
	}
	attached, err := s.txRepo.AttachToSettlement(ctx, dbTx, st.ID, st.TransactionIDs)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("attach transactions: %w", err))
	}
	if attached != int64(len(st.TransactionIDs)) {
		return apperror.ErrConflict(fmt.Errorf("attached %d of %d transactions", attached, len(st.TransactionIDs)))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      domain.SystemActor,
		Action:     domain.AuditActionSettlementCreated,
		TargetType: domain.TargetSettlement,
		TargetID:   st.ID.String(),
		After:      domain.Snapshot(st),
	})
	return nil
}

// pay moves st from `from` to processing and sends the payout, retrying on the
// configured backoff. Success marks it paid and clears the vendor's unsettled
// revenue; exhaustion or cancellation marks it failed.
func (s *SettlementServiceImpl) pay(ctx context.Context, st *domain.Settlement, vendor *domain.Vendor, from domain.SettlementStatus) (*domain.Settlement, error) {
	st.Status = domain.SettlementStatusProcessing
	st.UpdatedAt = s.now()
	if err := s.settlements.Save(ctx, nil, st, from); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return nil, apperror.ErrConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("start payout: %w", err))
	}

	var (
		res     *ports.PayoutResult
		sendErr error
	)
	maxAttempts := len(s.cfg.RetryIntervals) + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		st.Attempts++
		res, sendErr = s.payout.Send(ctx, ports.PayoutRequest{
			SettlementID: st.ID,
			VendorID:     st.VendorID,
			Account:      vendor.SettlementAccount,
			Amount:       st.NetAmount,
			Attempt:      st.Attempts,
		})
		if sendErr == nil {
			break
		}

		s.log.Warn().Err(sendErr).
			Str("settlement_id", st.ID.String()).
			Int("attempt", attempt).
			Msg("settlement: payout failed")

		if attempt == maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.cfg.RetryIntervals[attempt-1]); err != nil {
			sendErr = err
			break
		}
	}

	if sendErr != nil {
		return s.markFailed(ctx, st, sendErr)
	}
	return s.markPaid(ctx, st, res.Reference)
}

func (s *SettlementServiceImpl) markPaid(ctx context.Context, st *domain.Settlement, reference string) (*domain.Settlement, error) {
	now := s.now()
	st.Status = domain.SettlementStatusPaid
	st.PayoutReference = &reference
	st.LastError = nil
	st.UpdatedAt = now
	st.PaidAt = &now

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.settlements.Save(ctx, dbTx, st, domain.SettlementStatusProcessing); err != nil {
		s.log.Error().Err(err).Str("settlement_id", st.ID.String()).Str("payout_ref", reference).
			Msg("settlement: paid out but could not record it")
		return nil, apperror.InternalError(fmt.Errorf("mark paid: %w", err))
	}
	if err := s.vendors.MarkSettled(ctx, dbTx, st.VendorID, st.GrossAmount, now); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark vendor settled: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      domain.SystemActor,
		Action:     domain.AuditActionSettlementPaid,
		TargetType: domain.TargetSettlement,
		TargetID:   st.ID.String(),
		After:      domain.Snapshot(st),
	})
	s.notifyVendor(ctx, domain.EventSettlementPaid, st, "settlement paid")

	s.log.Info().
		Str("settlement_id", st.ID.String()).
		Str("payout_ref", reference).
		Int("attempts", st.Attempts).
		Msg("settlement paid")
	return st, nil
}

func (s *SettlementServiceImpl) markFailed(ctx context.Context, st *domain.Settlement, cause error) (*domain.Settlement, error) {
	msg := cause.Error()
	st.Status = domain.SettlementStatusFailed
	st.LastError = &msg
	st.UpdatedAt = s.now()

	// Recorded even when ctx was cancelled, so the settlement can be re-driven.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.settlements.Save(saveCtx, nil, st, domain.SettlementStatusProcessing); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark failed: %w", err))
	}

	s.audit.Record(saveCtx, &domain.AuditLog{
		Actor:      domain.SystemActor,
		Action:     domain.AuditActionSettlementFailed,
		TargetType: domain.TargetSettlement,
		TargetID:   st.ID.String(),
		After:      domain.Snapshot(st),
	})
	s.notifyVendor(saveCtx, domain.EventSettlementFailed, st, "settlement payout failed")

	s.log.Error().
		Str("settlement_id", st.ID.String()).
		Int("attempts", st.Attempts).
		Str("last_error", msg).
		Msg("settlement: payout attempts exhausted")
	return st, apperror.ErrExternalService("payout", cause)
}

// RetryPayout re-drives the payout of a failed settlement. A paid settlement
// is returned unchanged.
func (s *SettlementServiceImpl) RetryPayout(ctx context.Context, settlementID uuid.UUID) (*domain.Settlement, error) {
	st, err := s.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lockKey(st.VendorID, st.Period()))
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; a concurrent retry may have finished it.
	st, err = s.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case domain.SettlementStatusPaid:
		return st, nil
	case domain.SettlementStatusFailed:
	default:
		return nil, apperror.ErrConflict(fmt.Errorf("settlement is %s", st.Status))
	}

	vendor, err := s.vendors.GetByID(ctx, st.VendorID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get vendor: %w", err))
	}
	if vendor == nil {
		return nil, apperror.ErrNotFound("vendor")
	}
	return s.pay(ctx, st, vendor, domain.SettlementStatusFailed)
}

// ResolveStale fails settlements left in processing for longer than olderThan,
// which happens when the process died mid-payout. Each one is re-checked under
// the vendor-period lock, so a run still holding it is left alone. Failed
// settlements can then be re-driven with RetryPayout.
func (s *SettlementServiceImpl) ResolveStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	ids, err := s.settlements.ListStale(ctx, domain.SettlementStatusProcessing, cutoff, staleSweepBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale settlements: %w", err))
	}

	resolved := 0
	for _, id := range ids {
		ok, err := s.resolveStale(ctx, id, cutoff)
		if err != nil {
			s.log.Warn().Err(err).Str("settlement_id", id.String()).Msg("settlement: stale resolve failed")
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

func (s *SettlementServiceImpl) resolveStale(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	release, err := s.lock(ctx, lockKey(st.VendorID, st.Period()))
	if err != nil {
		return false, err
	}
	defer release()

	st, err = s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if st.Status != domain.SettlementStatusProcessing || !st.UpdatedAt.Before(cutoff) {
		return false, nil
	}

	msg := "payout interrupted"
	st.Status = domain.SettlementStatusFailed
	st.LastError = &msg
	st.UpdatedAt = s.now()
	if err := s.settlements.Save(ctx, nil, st, domain.SettlementStatusProcessing); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("mark failed: %w", err)
	}

	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      domain.SystemActor,
		Action:     domain.AuditActionSettlementFailed,
		TargetType: domain.TargetSettlement,
		TargetID:   st.ID.String(),
		After:      domain.Snapshot(st),
	})
	s.notifyVendor(ctx, domain.EventSettlementFailed, st, "settlement payout interrupted")

	s.log.Warn().
		Str("settlement_id", st.ID.String()).
		Int("attempts", st.Attempts).
		Msg("settlement: stale processing marked failed")
	return true, nil
}

// Get returns a settlement by id.
func (s *SettlementServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	st, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get settlement: %w", err))
	}
	if st == nil {
		return nil, apperror.ErrNotFound("settlement")
	}
	return st, nil
}

// RunDue settles the previous complete period of every active vendor, per its
// settlement frequency. Vendors run in parallel. Returns how many new
// settlements were created; failures of individual vendors are joined.
func (s *SettlementServiceImpl) RunDue(ctx context.Context, now time.Time) (int, error) {
	vendors, err := s.vendors.ListActive(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list vendors: %w", err))
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		created int
		errs    []error
	)
	for _, v := range vendors {
		wg.Add(1)
		go func(v domain.Vendor) {
			defer wg.Done()

			period := v.SettlementFrequency.PreviousPeriod(now)
			_, isNew, err := s.run(ctx, v.ID, period)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if isNew {
					created++
				}
			case apperror.Is(err, apperror.CodeEmptyBatch):
			default:
				s.log.Warn().Err(err).Str("vendor_id", v.ID.String()).Msg("settlement: scheduled run failed")
				errs = append(errs, fmt.Errorf("vendor %s: %w", v.ID, err))
			}
		}(v)
	}
	wg.Wait()

	return created, errors.Join(errs...)
}

// lock takes the single-writer lease for key, waiting a bounded number of
// times while another run holds it.
func (s *SettlementServiceImpl) lock(ctx context.Context, key string) (func(), error) {
	for attempt := 0; ; attempt++ {
		token, ok, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("acquire lock: %w", err))
		}
		if ok {
			return func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn().Err(err).Str("key", key).Msg("settlement: lock release failed")
				}
			}, nil
		}
		if attempt >= s.cfg.LockRetries {
			return nil, apperror.ErrConflict(errors.New("settlement already running for this vendor period"))
		}
		if err := s.sleep(ctx, s.cfg.LockRetryWait); err != nil {
			return nil, apperror.ErrConflict(err)
		}
	}
}

func lockKey(vendorID uuid.UUID, period domain.Period) string {
	return fmt.Sprintf("settlement:%s:%d:%d", vendorID, period.Start.Unix(), period.End.Unix())
}

func (s *SettlementServiceImpl) notifyVendor(ctx context.Context, event string, st *domain.Settlement, message string) {
	vendorID, settlementID := st.VendorID, st.ID
	s.notifier.Notify(ctx, domain.Notification{
		Event:        event,
		VendorID:     &vendorID,
		SettlementID: &settlementID,
		Amount:       st.NetAmount,
		Message:      message,
	})
}
