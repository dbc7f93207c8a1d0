package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func (e *testEnv) completePurchases(t *testing.T, userID, vendorID uuid.UUID, amounts ...int64) []uuid.UUID {
	t.Helper()
	e.expectCharges(len(amounts))
	ids := make([]uuid.UUID, 0, len(amounts))
	for _, amount := range amounts {
		txn, err := e.purchases.Purchase(context.Background(), purchaseReq(userID, vendorID, amount))
		require.NoError(t, err)
		ids = append(ids, txn.ID)
	}
	return ids
}

func TestSettlementService_CommissionAndPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	txIDs := env.completePurchases(t, userID, vendorID, 100, 200)

	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.PayoutRequest) (*ports.PayoutResult, error) {
			assert.Equal(t, vendorID, req.VendorID)
			assert.Equal(t, int64(270), req.Amount)
			assert.Equal(t, "000123456", req.Account.AccountNumber)
			assert.Equal(t, 1, req.Attempt)
			return &ports.PayoutResult{Reference: "po-123"}, nil
		})

	st, err := env.settlement.Run(ctx, vendorID, currentPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.GrossAmount)
	assert.Equal(t, int64(30), st.CommissionAmount)
	assert.Equal(t, int64(270), st.NetAmount)
	assert.Equal(t, domain.SettlementStatusPaid, st.Status)
	require.NotNil(t, st.PayoutReference)
	assert.Equal(t, "po-123", *st.PayoutReference)
	assert.ElementsMatch(t, txIDs, st.TransactionIDs)

	for _, id := range txIDs {
		txn, err := env.purchases.GetTransaction(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, txn.SettlementID)
		assert.Equal(t, st.ID, *txn.SettlementID)
	}

	v, err := env.vendors.GetByID(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.UnsettledRevenue)
	assert.NotNil(t, v.LastSettledAt)

	got, err := env.settlement.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPaid, got.Status)
}

func TestSettlementService_RerunDoesNotReinclude(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 100)
	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&ports.PayoutResult{Reference: "po-1"}, nil)

	period := currentPeriod()
	first, err := env.settlement.Run(ctx, vendorID, period)
	require.NoError(t, err)

	again, err := env.settlement.Run(ctx, vendorID, period)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "a re-run returns the existing settlement")

	// New activity in the same period goes into a new batch, alone.
	newIDs := env.completePurchases(t, userID, vendorID, 40)
	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&ports.PayoutResult{Reference: "po-2"}, nil)

	second, err := env.settlement.Run(ctx, vendorID, period)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, newIDs, second.TransactionIDs)
	assert.Equal(t, int64(40), second.GrossAmount)
}

func TestSettlementService_EmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	vendorID := env.seedVendor(t, 10)
	yesterday := domain.SettlementDaily.PreviousPeriod(time.Now())

	_, err := env.settlement.Run(context.Background(), vendorID, yesterday)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeEmptyBatch))
}

func TestSettlementService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	vendorID := env.seedVendor(t, 10)
	suspended := &domain.Vendor{ID: uuid.New(), Status: domain.VendorStatusSuspended, SettlementFrequency: domain.SettlementDaily}
	require.NoError(t, env.vendors.Create(ctx, suspended))
	now := time.Now()

	tests := []struct {
		name     string
		vendorID uuid.UUID
		period   domain.Period
		code     string
	}{
		{"inverted period", vendorID, domain.Period{Start: now, End: now.Add(-time.Hour)}, apperror.CodeValidation},
		{"empty period", vendorID, domain.Period{Start: now, End: now}, apperror.CodeValidation},
		{"unknown vendor", uuid.New(), currentPeriod(), apperror.CodeNotFound},
		{"suspended vendor", suspended.ID, currentPeriod(), apperror.CodeAccountInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.settlement.Run(ctx, tt.vendorID, tt.period)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestSettlementService_PayoutRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 300)

	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, errors.New("bank offline")).Times(3)

	st, err := env.settlement.Run(ctx, vendorID, currentPeriod())
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeExternalService))
	require.NotNil(t, st)
	assert.Equal(t, domain.SettlementStatusFailed, st.Status)
	assert.Equal(t, 3, st.Attempts)
	require.NotNil(t, st.LastError)
	assert.Contains(t, *st.LastError, "bank offline")

	v, err := env.vendors.GetByID(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), v.UnsettledRevenue, "nothing is settled until the payout lands")

	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.PayoutRequest) (*ports.PayoutResult, error) {
			assert.Equal(t, 4, req.Attempt)
			return &ports.PayoutResult{Reference: "po-late"}, nil
		})

	paid, err := env.settlement.RetryPayout(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPaid, paid.Status)
	assert.Nil(t, paid.LastError)

	// Already paid: returned as is, no new payout.
	again, err := env.settlement.RetryPayout(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPaid, again.Status)

	_, err = env.settlement.RetryPayout(ctx, uuid.New())
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestSettlementService_CancelledRetryMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 100)

	ctx, cancel := context.WithCancel(context.Background())
	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, ports.PayoutRequest) (*ports.PayoutResult, error) {
			cancel()
			return nil, errors.New("timeout")
		})

	st, err := env.settlement.Run(ctx, vendorID, currentPeriod())
	require.Error(t, err)
	assert.Equal(t, domain.SettlementStatusFailed, st.Status)
	assert.Equal(t, 1, st.Attempts, "no attempts after cancellation")

	stored, err := env.settlement.Get(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusFailed, stored.Status)
}

func TestSettlementService_LockHeldElsewhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	vendorID := env.seedVendor(t, 10)
	period := currentPeriod()

	_, ok, err := env.locker.Acquire(ctx, lockKey(vendorID, period), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.settlement.Run(ctx, vendorID, period)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeConflict))
}

func TestSettlementService_ConcurrentRunsSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	env.settlement.sleep = sleepCtx
	env.settlement.cfg.LockRetries = 500
	env.settlement.cfg.LockRetryWait = 2 * time.Millisecond
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 100, 200)
	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&ports.PayoutResult{Reference: "po-once"}, nil).Times(1)

	period := currentPeriod()
	const runners = 6
	ids := make(chan uuid.UUID, runners)
	var wg sync.WaitGroup
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := env.settlement.Run(ctx, vendorID, period)
			if assert.NoError(t, err) {
				ids <- st.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestSettlementService_RunDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	busy := env.seedVendor(t, 5)
	env.seedVendor(t, 5) // no sales
	env.completePurchases(t, userID, busy, 100, 100)
	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&ports.PayoutResult{Reference: "po-due"}, nil)

	// Run as if tomorrow: today's purchases fall into the previous daily period.
	created, err := env.settlement.RunDue(ctx, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = env.settlement.RunDue(ctx, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, created, "already settled periods are not settled again")
}

func TestSettlementService_SettledWorkIsAudited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 100)
	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&ports.PayoutResult{Reference: "po-a"}, nil)

	st, err := env.settlement.Run(ctx, vendorID, currentPeriod())
	require.NoError(t, err)
	env.flushAudit(t)

	logs, err := env.auditRepo.ListByTarget(ctx, domain.TargetSettlement, st.ID.String())
	require.NoError(t, err)
	actions := make([]domain.AuditAction, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
		assert.Equal(t, domain.SystemActor, l.Actor)
	}
	assert.ElementsMatch(t, []domain.AuditAction{domain.AuditActionSettlementCreated, domain.AuditActionSettlementPaid}, actions)
}

// stuckInProcessing leaves a settlement the way a crash mid-payout would:
// processing, last touched an hour ago.
func (e *testEnv) stuckInProcessing(t *testing.T, vendorID uuid.UUID) *domain.Settlement {
	t.Helper()
	ctx := context.Background()
	e.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, errors.New("bank offline")).Times(3)
	st, err := e.settlement.Run(ctx, vendorID, currentPeriod())
	require.Error(t, err)
	require.NotNil(t, st)

	st.Status = domain.SettlementStatusProcessing
	st.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.settleRepo.Save(ctx, nil, st, domain.SettlementStatusFailed))
	return st
}

func TestSettlementService_ResolveStaleThenRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 200)
	st := env.stuckInProcessing(t, vendorID)

	_, err := env.settlement.RetryPayout(ctx, st.ID)
	assert.True(t, apperror.Is(err, apperror.CodeConflict), "processing is not retryable")

	resolved, err := env.settlement.ResolveStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	stored, err := env.settlement.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "payout interrupted", *stored.LastError)

	env.payoutGW.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&ports.PayoutResult{Reference: "po-recovered"}, nil)
	paid, err := env.settlement.RetryPayout(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPaid, paid.Status)

	v, err := env.vendors.GetByID(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.UnsettledRevenue)
}

func TestSettlementService_ResolveStaleSkipsLiveRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, 1000)
	vendorID := env.seedVendor(t, 10)
	env.completePurchases(t, userID, vendorID, 200)
	st := env.stuckInProcessing(t, vendorID)

	t.Run("younger than the cutoff", func(t *testing.T) {
		resolved, err := env.settlement.ResolveStale(ctx, 2*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, resolved)
	})

	t.Run("lock still held", func(t *testing.T) {
		key := lockKey(st.VendorID, st.Period())
		token, ok, err := env.locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer env.locker.Release(ctx, key, token) //nolint:errcheck

		resolved, err := env.settlement.ResolveStale(ctx, 15*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, resolved)
	})

	stored, err := env.settlement.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusProcessing, stored.Status)
}
