package ports

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// --- Cache & Coordination Ports ---

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached transaction JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// BalanceCache holds the high-water balance of each user.
type BalanceCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, userID uuid.UUID) (*domain.BalanceSnapshot, error)
	// Set stores snap unless the cache already holds a higher sequence.
	Set(ctx context.Context, snap domain.BalanceSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Locker grants short-lived exclusive leases keyed by name.
type Locker interface {
	// Acquire returns ok=false when another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release drops the lease only if token still owns it.
	Release(ctx context.Context, key string, token string) error
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult describes the window a request landed in.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // unix seconds
}

// AuditSpool is the local fallback for audit entries that could not be persisted.
type AuditSpool interface {
	Put(ctx context.Context, entry *domain.AuditLog) error
	// Drain hands up to limit spooled entries to fn, deleting each one fn accepts.
	Drain(ctx context.Context, limit int, fn func(*domain.AuditLog) error) (int, error)
	Close() error
}

// TokenService verifies actor tokens issued by the identity provider.
type TokenService interface {
	Generate(claims ActorClaims) (string, time.Time, error)
	Validate(tokenString string) (*ActorClaims, error)
}

// ActorClaims holds the parsed JWT claims.
type ActorClaims struct {
	Subject string
	Role    string
}

// --- Service Ports (Business Logic) ---

// WalletService is the wallet accounting engine.
type WalletService interface {
	Debit(ctx context.Context, req WalletRequest) (*domain.WalletTransaction, error)
	Credit(ctx context.Context, req WalletRequest) (*domain.WalletTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceAsOf(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	Entries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.WalletTransaction, error)
	Reconcile(ctx context.Context, userID uuid.UUID, repair bool) (*Reconciliation, error)
}

// WalletRequest holds validated input for a single wallet movement.
type WalletRequest struct {
	UserID        uuid.UUID
	Amount        int64
	Reason        domain.EntryReason
	TransactionID *uuid.UUID
	Reference     string
	Actor         string
}

// Reconciliation compares the ledger with the balance projection.
type Reconciliation struct {
	UserID        uuid.UUID `json:"user_id"`
	LedgerBalance int64     `json:"ledger_balance"`
	LedgerSeq     int64     `json:"ledger_seq"`
	Projection    int64     `json:"projection"`
	ProjectionSeq int64     `json:"projection_seq"`
	Consistent    bool      `json:"consistent"`
	Repaired      bool      `json:"repaired"`
}

// VoucherService is the voucher engine.
type VoucherService interface {
	Issue(ctx context.Context, req IssueVoucherRequest) (*domain.Voucher, error)
	Redeem(ctx context.Context, req RedeemRequest) (*RedemptionResult, error)
	RedeemToWallet(ctx context.Context, req RedeemRequest) (*RedemptionResult, error)
	Revoke(ctx context.Context, code string, actor string) (*domain.Voucher, error)
}

// IssueVoucherRequest holds input for issuing a voucher. Code is chosen by the issuer.
type IssueVoucherRequest struct {
	Code         string
	Value        int64
	UsageLimit   int
	AllowPartial bool
	ExpiresAt    *time.Time
	OwnerUserID  *uuid.UUID
	VendorID     *uuid.UUID
	Actor        string
}

// RedeemRequest holds input for a voucher redemption.
type RedeemRequest struct {
	Code            string
	UserID          uuid.UUID
	AmountRequested int64
	Actor           string
}

// RedemptionResult is the outcome of a successful redemption.
type RedemptionResult struct {
	Voucher     *domain.Voucher           `json:"voucher"`
	Redemption  *domain.VoucherRedemption `json:"redemption"`
	WalletEntry *domain.WalletTransaction `json:"wallet_entry,omitempty"`
}

// PurchaseService is the transaction orchestrator.
type PurchaseService interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Reverse(ctx context.Context, req ReverseRequest) (*domain.Transaction, error)
	TopUp(ctx context.Context, req WalletRequest) (*domain.WalletTransaction, error)
	ResolveStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// PurchaseRequest holds validated input for a purchase.
type PurchaseRequest struct {
	UserID         uuid.UUID
	VendorID       uuid.UUID
	ServiceRef     string
	Amount         int64
	PaymentMethod  domain.PaymentMethod
	VoucherCode    string
	IdempotencyKey string
	Actor          string
}

// ReverseRequest holds input for reversing a completed purchase.
type ReverseRequest struct {
	TransactionID uuid.UUID
	Reason        string
	Actor         string
}

// SettlementService is the settlement batcher.
type SettlementService interface {
	Run(ctx context.Context, vendorID uuid.UUID, period domain.Period) (*domain.Settlement, error)
	RetryPayout(ctx context.Context, settlementID uuid.UUID) (*domain.Settlement, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	RunDue(ctx context.Context, now time.Time) (int, error)
	ResolveStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Record(ctx context.Context, entry *domain.AuditLog)
}
