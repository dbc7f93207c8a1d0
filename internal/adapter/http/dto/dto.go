package dto

import (
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// --- Purchases ---

type PurchaseRequest struct {
	UserID        string `json:"user_id" binding:"required,uuid"`
	VendorID      string `json:"vendor_id" binding:"required,uuid"`
	ServiceRef    string `json:"service_ref" binding:"required,max=128,safe_id"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	PaymentMethod string `json:"payment_method" binding:"required,oneof=wallet voucher external"`
	VoucherCode   string `json:"voucher_code" binding:"omitempty,max=64,voucher_code"`
}

type ReverseRequest struct {
	Reason string `json:"reason" binding:"required,max=256"`
}

// --- Wallets ---

type TopupRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reference string `json:"reference" binding:"omitempty,max=128,safe_id"`
}

type BalanceResponse struct {
	UserID  uuid.UUID  `json:"user_id"`
	Balance int64      `json:"balance"`
	AsOf    *time.Time `json:"as_of,omitempty"`
}

type LedgerResponse struct {
	UserID  uuid.UUID                  `json:"user_id"`
	From    time.Time                  `json:"from"`
	To      time.Time                  `json:"to"`
	Entries []domain.WalletTransaction `json:"entries"`
}

// --- Vouchers ---

type IssueVoucherRequest struct {
	Code         string     `json:"code" binding:"required,max=64,voucher_code"`
	Value        int64      `json:"value" binding:"required,gt=0"`
	UsageLimit   int        `json:"usage_limit" binding:"omitempty,gte=1,lte=10000"`
	AllowPartial bool       `json:"allow_partial"`
	ExpiresAt    *time.Time `json:"expires_at"`
	OwnerUserID  *string    `json:"owner_user_id" binding:"omitempty,uuid"`
	VendorID     *string    `json:"vendor_id" binding:"omitempty,uuid"`
}

type RedeemVoucherRequest struct {
	Code     string `json:"code" binding:"required,max=64,voucher_code"`
	UserID   string `json:"user_id" binding:"required,uuid"`
	Amount   int64  `json:"amount" binding:"gte=0"` // 0 redeems the full remaining value
	ToWallet bool   `json:"to_wallet"`
}

type RevokeVoucherRequest struct {
	Code string `json:"code" binding:"required,max=64,voucher_code"`
}

// --- Settlements ---

type RunSettlementRequest struct {
	VendorID    string    `json:"vendor_id" binding:"required,uuid"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required,gtfield=PeriodStart"`
}
