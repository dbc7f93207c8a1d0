package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/adapter/gateway"
	"marketplace-ledger/internal/adapter/storage/sqlite"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payoutSecret = "payout-test-secret"

// testApp runs the fully wired engine over the memory backend, with stub
// vendor and payout providers behind real HTTP servers.
type testApp struct {
	t         *testing.T
	app       *app
	be        *backend
	server    *httptest.Server
	vendorURL string
	charges   atomic.Int64
	payouts   chan map[string]interface{}
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ta := &testApp{t: t, payouts: make(chan map[string]interface{}, 8)}

	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ta.charges.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "vref-" + strconv.FormatInt(n, 10)})
	}))
	t.Cleanup(vendor.Close)

	payout := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(gateway.HeaderTimestamp), 10, 64)
		if !gateway.Verify(payoutSecret, gateway.CanonicalString(http.MethodPost, r.URL.Path, ts, string(body)), r.Header.Get(gateway.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]interface{}
		_ = json.Unmarshal(body, &req)
		ta.payouts <- req
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "payout-1"})
	}))
	t.Cleanup(payout.Close)

	cfg := &config.Config{
		JWT:        config.JWTConfig{Secret: "integration-secret-32-bytes-long!", Expiry: time.Hour, Issuer: "test-idp"},
		Wallet:     config.WalletConfig{MaxConflictRetries: 3, BalanceCacheTTL: time.Minute},
		Voucher:    config.VoucherConfig{CodeSecret: "voucher-secret", MaxCASRetries: 5},
		Purchase:   config.PurchaseConfig{IdempotencyTTL: time.Hour},
		Vendor:     config.VendorConfig{ChargeTimeout: 5 * time.Second},
		Payout:     config.PayoutConfig{BaseURL: payout.URL, Secret: payoutSecret, Timeout: 5 * time.Second},
		Settlement: config.SettlementConfig{RetryIntervals: []time.Duration{10 * time.Millisecond}, LockTTL: time.Minute},
		Audit:      config.AuditConfig{QueueSize: 64, Workers: 1},
	}

	spool, err := sqlite.NewAuditSpool(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = spool.Close() })

	ta.be = memoryBackend()
	ta.app = newApp(cfg, ta.be, spool, zerolog.Nop())
	ta.server = httptest.NewServer(ta.app.router)
	t.Cleanup(ta.server.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ta.app.audit.Close(ctx)
	})
	ta.vendorURL = vendor.URL
	return ta
}

func (ta *testApp) token(role, subject string) string {
	tok, _, err := ta.app.tokens.Generate(ports.ActorClaims{Subject: subject, Role: role})
	require.NoError(ta.t, err)
	return tok
}

func (ta *testApp) call(method, path, token string, body interface{}, headers ...string) (int, json.RawMessage) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ta.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ta.server.URL+path, &buf)
	require.NoError(ta.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ta.t, err)
	defer resp.Body.Close()

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(ta.t, err)
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env.Data
}

func (ta *testApp) seed() (userID, vendorID uuid.UUID) {
	ctx := context.Background()
	now := time.Now().UTC()
	user := &domain.User{
		ID: uuid.New(), Email: "buyer@example.com", FullName: "Buyer", Role: "customer",
		Status: domain.UserStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(ta.t, ta.be.users.Create(ctx, user))

	vendor := &domain.Vendor{
		ID:             uuid.New(),
		CompanyName:    "Skyline Airtime",
		VendorType:     "telecom",
		CommissionRate: decimal.NewFromInt(10),
		SettlementAccount: domain.SettlementAccount{
			BankName: "First Bank", AccountNumber: "0099887766", AccountName: "Skyline Ltd",
		},
		SettlementFrequency: domain.SettlementDaily,
		Status:              domain.VendorStatusActive,
		APIBaseURL:          ta.vendorURL,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(ta.t, ta.be.vendors.Create(ctx, vendor))
	return user.ID, vendor.ID
}

func TestEndToEnd_PurchaseVoucherSettlement(t *testing.T) {
	ta := newTestApp(t)
	userID, vendorID := ta.seed()
	admin := ta.token("admin", "ops-1")
	buyer := ta.token("user", userID.String())
	wallet := "/api/v1/wallets/" + userID.String()

	status, _ := ta.call(http.MethodPost, wallet+"/topup", admin, map[string]interface{}{"amount": 1000})
	require.Equal(t, http.StatusCreated, status)

	// 20 concurrent purchases of 100 against a balance of 1000.
	var (
		wg        sync.WaitGroup
		completed atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _ := ta.call(http.MethodPost, "/api/v1/purchases", buyer, map[string]interface{}{
				"user_id": userID, "vendor_id": vendorID, "service_ref": "airtime-" + strconv.Itoa(i),
				"amount": 100, "payment_method": "wallet",
			}, "Idempotency-Key", "buy-"+strconv.Itoa(i))
			switch status {
			case http.StatusCreated:
				completed.Add(1)
			case http.StatusPaymentRequired, http.StatusConflict:
				rejected.Add(1)
			default:
				t.Errorf("unexpected status %d", status)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(10), completed.Load(), "the balance covers exactly ten purchases")
	assert.Equal(t, int64(10), rejected.Load())
	assert.Equal(t, int64(10), ta.charges.Load(), "rejected purchases never reach the vendor")

	status, data := ta.call(http.MethodGet, wallet+"/balance", buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(data, &bal))
	assert.Equal(t, int64(0), bal.Balance)

	// Replaying a key returns the original transaction without charging again.
	status, _ = ta.call(http.MethodPost, "/api/v1/purchases", buyer, map[string]interface{}{
		"user_id": userID, "vendor_id": vendorID, "service_ref": "airtime-0", "amount": 100, "payment_method": "wallet",
	}, "Idempotency-Key", "buy-0")
	assert.Contains(t, []int{http.StatusCreated, http.StatusPaymentRequired, http.StatusConflict}, status)
	assert.Equal(t, int64(10), ta.charges.Load())

	// Voucher credited to the wallet.
	status, _ = ta.call(http.MethodPost, "/api/v1/vouchers", admin, map[string]interface{}{"code": "WELCOME-500", "value": 500})
	require.Equal(t, http.StatusCreated, status)
	status, _ = ta.call(http.MethodPost, "/api/v1/vouchers/redeem", buyer, map[string]interface{}{
		"code": "welcome 500", "user_id": userID, "to_wallet": true,
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = ta.call(http.MethodPost, "/api/v1/vouchers/redeem", buyer, map[string]interface{}{
		"code": "WELCOME-500", "user_id": userID,
	})
	assert.Equal(t, http.StatusConflict, status, "single-use voucher")

	_, data = ta.call(http.MethodGet, wallet+"/balance", buyer, nil)
	require.NoError(t, json.Unmarshal(data, &bal))
	assert.Equal(t, int64(500), bal.Balance)

	// Settlement: ten purchases of 100 at 10% commission.
	now := time.Now().UTC()
	status, data = ta.call(http.MethodPost, "/api/v1/settlements/run", admin, map[string]interface{}{
		"vendor_id": vendorID, "period_start": now.Add(-time.Hour), "period_end": now.Add(time.Hour),
	})
	require.Equal(t, http.StatusOK, status)
	var st domain.Settlement
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, domain.SettlementStatusPaid, st.Status)
	assert.Equal(t, int64(1000), st.GrossAmount)
	assert.Equal(t, int64(100), st.CommissionAmount)
	assert.Equal(t, int64(900), st.NetAmount)
	assert.Len(t, st.TransactionIDs, 10)

	select {
	case p := <-ta.payouts:
		assert.Equal(t, float64(900), p["amount"])
		assert.Equal(t, st.ID.String(), p["settlement_id"])
	default:
		t.Fatal("payout provider was not called")
	}

	// The ledger shows the top-up, ten purchases and the voucher credit.
	status, data = ta.call(http.MethodGet, wallet+"/ledger", buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var ledger struct {
		Entries []domain.WalletTransaction `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &ledger))
	assert.Len(t, ledger.Entries, 12)

	status, data = ta.call(http.MethodPost, wallet+"/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var rec ports.Reconciliation
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.True(t, rec.Consistent)
}

func TestEndToEnd_AuthAndHealth(t *testing.T) {
	ta := newTestApp(t)

	status, _ := ta.call(http.MethodGet, "/api/v1/settlements/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ta.call(http.MethodGet, "/api/v1/settlements/"+uuid.NewString(), "forged.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ta.call(http.MethodPost, "/api/v1/vouchers", ta.token("user", "u-1"), map[string]interface{}{"code": "X1", "value": 1})
	assert.Equal(t, http.StatusForbidden, status)

	resp, err := http.Get(ta.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Dependencies map[string]struct {
			Status string `json:"status"`
		} `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Dependencies["audit_spool"].Status)
}
