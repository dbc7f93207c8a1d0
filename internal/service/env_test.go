package service

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/adapter/gateway"
	"marketplace-ledger/internal/adapter/storage/memory"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

// testEnv wires every service over the in-memory backend. Vendor and payout
// gateways are gomock mocks; notifications are accepted and ignored.
type testEnv struct {
	store       *memory.Store
	users       *memory.UserRepo
	vendors     *memory.VendorRepo
	entries     *memory.LedgerRepo
	txns        *memory.TransactionRepo
	voucherRepo *memory.VoucherRepo
	settleRepo  *memory.SettlementRepo
	auditRepo   *memory.AuditRepo
	balances    *memory.BalanceCache
	locker      *memory.Locker

	ledger     *LedgerService
	wallet     *WalletServiceImpl
	vouchers   *VoucherServiceImpl
	purchases  *PurchaseServiceImpl
	settlement *SettlementServiceImpl
	audit      *AuditServiceImpl

	vendorGW *mocks.MockVendorGateway
	payoutGW *mocks.MockPayoutGateway
	notifier *mocks.MockNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := newTestLogger()

	store := memory.NewStore()
	e := &testEnv{
		store:       store,
		users:       memory.NewUserRepo(store),
		vendors:     memory.NewVendorRepo(store),
		entries:     memory.NewLedgerRepo(store),
		txns:        memory.NewTransactionRepo(store),
		voucherRepo: memory.NewVoucherRepo(store),
		settleRepo:  memory.NewSettlementRepo(store),
		auditRepo:   memory.NewAuditRepo(store),
		balances:    memory.NewBalanceCache(),
		locker:      memory.NewLocker(),
		vendorGW:    mocks.NewMockVendorGateway(ctrl),
		payoutGW:    mocks.NewMockPayoutGateway(ctrl),
		notifier:    mocks.NewMockNotifier(ctrl),
	}
	e.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).AnyTimes()

	e.audit = NewAuditService(e.auditRepo, nil, 256, 2, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.audit.Close(ctx)
	})

	e.ledger = NewLedgerService(e.entries, e.users, e.balances, store, time.Minute, log)
	e.wallet = NewWalletService(e.users, e.entries, e.ledger, store, e.audit, 3, log)
	e.vouchers = NewVoucherService(e.voucherRepo, e.wallet, store, NewCodeHasher("test-voucher-secret"), e.audit, e.notifier, 5, log)
	e.purchases = NewPurchaseService(
		e.vendors, e.txns, memory.NewIdempotencyRepo(store), memory.NewIdempotencyCache(),
		e.wallet, e.vouchers, store, gateway.NewUserVerifier(e.users),
		e.vendorGW, e.notifier, e.audit,
		PurchaseConfig{ChargeTimeout: time.Second, IdempotencyTTL: time.Hour},
		log,
	)
	e.settlement = NewSettlementService(
		e.vendors, e.txns, e.settleRepo, store, e.locker, e.payoutGW, e.notifier, e.audit,
		SettlementConfig{
			RetryIntervals: []time.Duration{time.Millisecond, time.Millisecond},
			LockTTL:        time.Minute,
			LockRetries:    0,
			LockRetryWait:  time.Millisecond,
		},
		log,
	)
	e.settlement.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

// seedUser creates an active user funded through a top-up, so the ledger and
// the projection agree from the start.
func (e *testEnv) seedUser(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@example.com",
		FullName:  "Test User",
		Role:      "customer",
		Status:    domain.UserStatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.users.Create(ctx, u))
	if balance > 0 {
		_, err := e.wallet.Credit(ctx, ports.WalletRequest{
			UserID: u.ID, Amount: balance, Reason: domain.EntryReasonTopup, Actor: "test",
		})
		require.NoError(t, err)
	}
	return u.ID
}

func (e *testEnv) seedVendor(t *testing.T, commissionRate int64) uuid.UUID {
	t.Helper()
	v := &domain.Vendor{
		ID:             uuid.New(),
		CompanyName:    "Acme Travel",
		VendorType:     "travel",
		CommissionRate: decimal.NewFromInt(commissionRate),
		SettlementAccount: domain.SettlementAccount{
			BankName: "First Bank", AccountNumber: "000123456", AccountName: "Acme Travel Ltd",
		},
		SettlementFrequency: domain.SettlementDaily,
		Status:              domain.VendorStatusActive,
		APIBaseURL:          "http://vendor.test",
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	require.NoError(t, e.vendors.Create(context.Background(), v))
	return v.ID
}

func (e *testEnv) issueVoucher(t *testing.T, code string, value int64, mutate func(*ports.IssueVoucherRequest)) *domain.Voucher {
	t.Helper()
	req := ports.IssueVoucherRequest{Code: code, Value: value, UsageLimit: 1, Actor: "admin"}
	if mutate != nil {
		mutate(&req)
	}
	v, err := e.vouchers.Issue(context.Background(), req)
	require.NoError(t, err)
	return v
}

func (e *testEnv) expectCharges(times int) {
	e.vendorGW.EXPECT().Charge(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
			return &ports.ChargeResult{Reference: "vref-" + req.TransactionID.String()[:8]}, nil
		}).Times(times)
}

func (e *testEnv) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	b, err := e.wallet.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func purchaseReq(userID, vendorID uuid.UUID, amount int64) ports.PurchaseRequest {
	return ports.PurchaseRequest{
		UserID:         userID,
		VendorID:       vendorID,
		ServiceRef:     "svc-" + uuid.NewString()[:8],
		Amount:         amount,
		PaymentMethod:  domain.PaymentMethodWallet,
		IdempotencyKey: uuid.NewString(),
		Actor:          "user",
	}
}

// flushAudit waits for queued audit entries to reach the repository.
func (e *testEnv) flushAudit(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.audit.Close(ctx))
}
