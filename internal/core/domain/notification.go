package domain

import "github.com/google/uuid"

// Notification events.
const (
	EventPurchaseCompleted   = "purchase.completed"
	EventPurchaseFailed      = "purchase.failed"
	EventTransactionReversed = "transaction.reversed"
	EventVoucherRedeemed     = "voucher.redeemed"
	EventSettlementPaid      = "settlement.paid"
	EventSettlementFailed    = "settlement.failed"
)

// Notification is a user- or vendor-facing message handed to the notifier.
type Notification struct {
	Event         string     `json:"event"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	VendorID      *uuid.UUID `json:"vendor_id,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	SettlementID  *uuid.UUID `json:"settlement_id,omitempty"`
	Amount        int64      `json:"amount"`
	Message       string     `json:"message"`
}
