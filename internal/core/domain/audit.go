package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionWalletDebit         AuditAction = "wallet_debit"
	AuditActionWalletCredit        AuditAction = "wallet_credit"
	AuditActionPurchaseCompleted   AuditAction = "purchase_completed"
	AuditActionPurchaseFailed      AuditAction = "purchase_failed"
	AuditActionTransactionReversed AuditAction = "transaction_reversed"
	AuditActionVoucherIssued       AuditAction = "voucher_issued"
	AuditActionVoucherRedeemed     AuditAction = "voucher_redeemed"
	AuditActionVoucherExpired      AuditAction = "voucher_expired"
	AuditActionVoucherRevoked      AuditAction = "voucher_revoked"
	AuditActionSettlementCreated   AuditAction = "settlement_created"
	AuditActionSettlementPaid      AuditAction = "settlement_paid"
	AuditActionSettlementFailed    AuditAction = "settlement_failed"
)

// Audit target types.
const (
	TargetTransaction       = "transaction"
	TargetWalletTransaction = "wallet_transaction"
	TargetVoucher           = "voucher"
	TargetSettlement        = "settlement"
)

// SystemActor is recorded when no caller identity is attached to the action.
const SystemActor = "system"

// AuditLog records a single audited action. Before and After are JSON snapshots.
type AuditLog struct {
	ID         uuid.UUID       `json:"id"`
	Actor      string          `json:"actor"`
	Action     AuditAction     `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Snapshot marshals v for an audit entry. Unmarshalable values yield nil.
func Snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
