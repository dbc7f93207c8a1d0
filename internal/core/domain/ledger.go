package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// EntryReason records why a wallet moved.
type EntryReason string

const (
	EntryReasonTopup         EntryReason = "topup"
	EntryReasonPurchase      EntryReason = "purchase"
	EntryReasonCompensation  EntryReason = "compensation"
	EntryReasonVoucherCredit EntryReason = "voucher_credit"
	EntryReasonReversal      EntryReason = "reversal"
)

// WalletTransaction is one append-only ledger entry. Seq is strictly
// increasing per user and BalanceAfter is the balance once the entry applied.
type WalletTransaction struct {
	ID            uuid.UUID   `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	Seq           int64       `json:"seq"`
	Type          EntryType   `json:"type"`
	Reason        EntryReason `json:"reason"`
	Amount        int64       `json:"amount"`
	BalanceAfter  int64       `json:"balance_after"`
	TransactionID *uuid.UUID  `json:"transaction_id,omitempty"`
	Reference     string      `json:"reference,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Signed returns the entry's effect on the balance.
func (e *WalletTransaction) Signed() int64 {
	if e.Type == EntryTypeDebit {
		return -e.Amount
	}
	return e.Amount
}

// BalanceSnapshot is the O(1) high-water mark of a user's balance.
type BalanceSnapshot struct {
	UserID  uuid.UUID `json:"user_id"`
	Seq     int64     `json:"seq"`
	Balance int64     `json:"balance"`
}
