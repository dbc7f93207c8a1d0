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

// VoucherUse is one consumption of a voucher as written inside a transaction.
type VoucherUse struct {
	Before     domain.Voucher
	Voucher    *domain.Voucher
	Redemption *domain.VoucherRedemption
}

// VoucherServiceImpl implements ports.VoucherService.
type VoucherServiceImpl struct {
	vouchers   ports.VoucherRepository
	wallet     *WalletServiceImpl
	transactor ports.DBTransactor
	hasher     *CodeHasher
	audit      ports.AuditService
	notifier   ports.Notifier
	maxRetries int
	log        zerolog.Logger
	now        func() time.Time
}

// NewVoucherService creates a new VoucherServiceImpl.
func NewVoucherService(
	vouchers ports.VoucherRepository,
	wallet *WalletServiceImpl,
	transactor ports.DBTransactor,
	hasher *CodeHasher,
	audit ports.AuditService,
	notifier ports.Notifier,
	maxRetries int,
	log zerolog.Logger,
) *VoucherServiceImpl {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &VoucherServiceImpl{
		vouchers:   vouchers,
		wallet:     wallet,
		transactor: transactor,
		hasher:     hasher,
		audit:      audit,
		notifier:   notifier,
		maxRetries: maxRetries,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue stores a new voucher under the digest of its code.
func (s *VoucherServiceImpl) Issue(ctx context.Context, req ports.IssueVoucherRequest) (*domain.Voucher, error) {
	if req.Value <= 0 {
		return nil, apperror.Validation("voucher value must be positive")
	}
	if req.UsageLimit == 0 {
		req.UsageLimit = 1
	}
	if req.UsageLimit < 0 {
		return nil, apperror.Validation("usage limit must be positive")
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, apperror.Validation("expiry must be in the future")
	}

	codeHash, err := s.hasher.Hash(req.Code)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	v := &domain.Voucher{
		ID:             uuid.New(),
		CodeHash:       codeHash,
		Value:          req.Value,
		RemainingValue: req.Value,
		Status:         domain.VoucherStatusIssued,
		UsageLimit:     req.UsageLimit,
		AllowPartial:   req.AllowPartial,
		ExpiresAt:      req.ExpiresAt,
		OwnerUserID:    req.OwnerUserID,
		VendorID:       req.VendorID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.vouchers.Create(ctx, v); err != nil {
		if errors.Is(err, ports.ErrDuplicateKey) {
			return nil, apperror.Validation("voucher code already exists")
		}
		return nil, apperror.InternalError(fmt.Errorf("create voucher: %w", err))
	}

	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      req.Actor,
		Action:     domain.AuditActionVoucherIssued,
		TargetType: domain.TargetVoucher,
		TargetID:   v.ID.String(),
		After:      domain.Snapshot(v),
	})

	s.log.Info().Str("voucher_id", v.ID.String()).Int64("value", v.Value).Msg("voucher issued")
	return v, nil
}

// Redeem consumes the voucher without moving wallet money. It records the
// redemption only; the caller grants the value elsewhere.
func (s *VoucherServiceImpl) Redeem(ctx context.Context, req ports.RedeemRequest) (*ports.RedemptionResult, error) {
	return s.redeem(ctx, req, false)
}

// RedeemToWallet consumes the voucher and credits the granted value to the
// user's wallet. The CAS, the redemption row and the credit commit together.
func (s *VoucherServiceImpl) RedeemToWallet(ctx context.Context, req ports.RedeemRequest) (*ports.RedemptionResult, error) {
	return s.redeem(ctx, req, true)
}

func (s *VoucherServiceImpl) redeem(ctx context.Context, req ports.RedeemRequest, toWallet bool) (*ports.RedemptionResult, error) {
	if req.AmountRequested < 0 {
		return nil, apperror.Validation("amount must not be negative")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	use, err := s.RedeemInTx(ctx, dbTx, req.Code, req.UserID, nil, req.AmountRequested, nil)
	if err != nil {
		return nil, err
	}

	var entry *domain.WalletTransaction
	if toWallet {
		entry, err = s.wallet.ApplyInTx(ctx, dbTx, ports.WalletRequest{
			UserID:    req.UserID,
			Amount:    use.Redemption.Amount,
			Reason:    domain.EntryReasonVoucherCredit,
			Reference: "voucher:" + use.Voucher.ID.String(),
		}, domain.EntryTypeCredit)
		if err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.Committed(ctx, req.Actor, use)
	s.wallet.AfterCommit(ctx, req.Actor, entry)

	userID := req.UserID
	s.notifier.Notify(ctx, domain.Notification{
		Event:   domain.EventVoucherRedeemed,
		UserID:  &userID,
		Amount:  use.Redemption.Amount,
		Message: "voucher redeemed",
	})

	return &ports.RedemptionResult{Voucher: use.Voucher, Redemption: use.Redemption, WalletEntry: entry}, nil
}

// RedeemInTx consumes one use of the voucher named by code inside tx. A zero
// requested amount takes everything the voucher grants. vendorID is nil for
// redemptions not tied to a purchase.
//
// The write is a version CAS. After a lost CAS the voucher is re-read: if it
// can no longer be redeemed the matching error is returned, otherwise the
// attempt is repeated up to the configured limit.
func (s *VoucherServiceImpl) RedeemInTx(
	ctx context.Context,
	tx pgx.Tx,
	code string,
	userID uuid.UUID,
	vendorID *uuid.UUID,
	requested int64,
	transactionID *uuid.UUID,
) (*VoucherUse, error) {
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	var raced error
	for attempt := 1; ; attempt++ {
		v, err := s.vouchers.GetByCodeHash(ctx, codeHash)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get voucher: %w", err))
		}
		if v == nil {
			return nil, apperror.ErrNotFound("voucher")
		}

		now := s.now()
		if v.Status == domain.VoucherStatusIssued && v.IsPastExpiry(now) {
			s.expire(ctx, v)
			return nil, apperror.ErrVoucherExpired()
		}
		if err := v.Check(now, userID, vendorID); err != nil {
			return nil, voucherError(err)
		}
		// The winner's state is checked first, so only a still-usable voucher reports the race.
		if attempt > s.maxRetries {
			return nil, apperror.ErrConflict(raced)
		}

		before := *v
		want := requested
		if want == 0 {
			want = v.RemainingValue
		}
		granted := v.Apply(want, now)

		err = s.vouchers.CompareAndSwap(ctx, tx, v, before.Version)
		if err == nil {
			rd := &domain.VoucherRedemption{
				ID:            uuid.New(),
				VoucherID:     v.ID,
				UserID:        userID,
				TransactionID: transactionID,
				Amount:        granted,
				CreatedAt:     now,
			}
			if err := s.vouchers.CreateRedemption(ctx, tx, rd); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("create redemption: %w", err))
			}
			return &VoucherUse{Before: before, Voucher: v, Redemption: rd}, nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return nil, apperror.InternalError(fmt.Errorf("update voucher: %w", err))
		}
		raced = err

		s.log.Debug().
			Str("voucher_id", v.ID.String()).
			Int("attempt", attempt).
			Msg("voucher: lost version race, re-reading")
	}
}

// Committed audits a use once its transaction has committed.
func (s *VoucherServiceImpl) Committed(ctx context.Context, actor string, use *VoucherUse) {
	if use == nil {
		return
	}
	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      actor,
		Action:     domain.AuditActionVoucherRedeemed,
		TargetType: domain.TargetVoucher,
		TargetID:   use.Voucher.ID.String(),
		Before:     domain.Snapshot(use.Before),
		After:      domain.Snapshot(map[string]interface{}{"voucher": use.Voucher, "redemption": use.Redemption}),
	})
}

// Revoke withdraws a voucher. Revoking twice is a no-op.
func (s *VoucherServiceImpl) Revoke(ctx context.Context, code string, actor string) (*domain.Voucher, error) {
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	var raced error
	for attempt := 1; ; attempt++ {
		v, err := s.vouchers.GetByCodeHash(ctx, codeHash)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get voucher: %w", err))
		}
		if v == nil {
			return nil, apperror.ErrNotFound("voucher")
		}

		switch v.Status {
		case domain.VoucherStatusRevoked:
			return v, nil
		case domain.VoucherStatusRedeemed:
			return nil, apperror.ErrAlreadyRedeemed()
		case domain.VoucherStatusExpired:
			return nil, apperror.ErrVoucherExpired()
		}
		if attempt > s.maxRetries {
			return nil, apperror.ErrConflict(raced)
		}

		before := *v
		v.Status = domain.VoucherStatusRevoked
		v.UpdatedAt = s.now()

		err = s.vouchers.CompareAndSwap(ctx, nil, v, before.Version)
		if err == nil {
			s.audit.Record(ctx, &domain.AuditLog{
				Actor:      actor,
				Action:     domain.AuditActionVoucherRevoked,
				TargetType: domain.TargetVoucher,
				TargetID:   v.ID.String(),
				Before:     domain.Snapshot(before),
				After:      domain.Snapshot(v),
			})
			s.log.Info().Str("voucher_id", v.ID.String()).Str("actor", actor).Msg("voucher revoked")
			return v, nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return nil, apperror.InternalError(fmt.Errorf("update voucher: %w", err))
		}
		raced = err
	}
}

// expire moves an issued voucher past its expiry to expired. It commits on
// its own so the state sticks even though the calling redemption fails.
func (s *VoucherServiceImpl) expire(ctx context.Context, v *domain.Voucher) {
	before := *v
	v.Status = domain.VoucherStatusExpired
	v.UpdatedAt = s.now()

	if err := s.vouchers.CompareAndSwap(ctx, nil, v, before.Version); err != nil {
		if !errors.Is(err, ports.ErrConflict) {
			s.log.Warn().Err(err).Str("voucher_id", v.ID.String()).Msg("voucher: expiry update failed")
		}
		return
	}
	s.audit.Record(ctx, &domain.AuditLog{
		Actor:      domain.SystemActor,
		Action:     domain.AuditActionVoucherExpired,
		TargetType: domain.TargetVoucher,
		TargetID:   v.ID.String(),
		Before:     domain.Snapshot(before),
		After:      domain.Snapshot(v),
	})
}

// voucherError maps a domain redemption failure to its API error.
func voucherError(err error) error {
	switch {
	case errors.Is(err, domain.ErrVoucherRedeemed):
		return apperror.ErrAlreadyRedeemed()
	case errors.Is(err, domain.ErrVoucherExpired):
		return apperror.ErrVoucherExpired()
	case errors.Is(err, domain.ErrVoucherRevoked):
		return apperror.ErrVoucherRevoked()
	case errors.Is(err, domain.ErrVoucherScope):
		return apperror.Validation(err.Error())
	default:
		return apperror.InternalError(err)
	}
}
