package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is how a purchase is funded.
type PaymentMethod string

const (
	PaymentMethodWallet   PaymentMethod = "wallet"
	PaymentMethodVoucher  PaymentMethod = "voucher"
	PaymentMethodExternal PaymentMethod = "external"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodWallet, PaymentMethodVoucher, PaymentMethodExternal:
		return true
	}
	return false
}

// TransactionKind separates purchases from the reversals that undo them.
type TransactionKind string

const (
	TransactionKindPurchase TransactionKind = "purchase"
	TransactionKindReversal TransactionKind = "reversal"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusReversed   TransactionStatus = "reversed"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusFailed},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted:  {TransactionStatusReversed},
}

// CanTransition reports whether a transaction may move from one status to another.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is a purchase of a vendor service, or the reversal of one.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	Kind                  TransactionKind   `json:"kind"`
	UserID                uuid.UUID         `json:"user_id"`
	VendorID              uuid.UUID         `json:"vendor_id"`
	ServiceRef            string            `json:"service_ref"`
	Amount                int64             `json:"amount"` // minor units
	PaymentMethod         PaymentMethod     `json:"payment_method"`
	VoucherID             *uuid.UUID        `json:"voucher_id,omitempty"`
	WalletAmount          int64             `json:"wallet_amount"`
	VoucherAmount         int64             `json:"voucher_amount"`
	Status                TransactionStatus `json:"status"`
	CommissionAmount      int64             `json:"commission_amount"`
	NetAmount             int64             `json:"net_amount"`
	VendorReference       *string           `json:"vendor_reference,omitempty"`
	FailureReason         *string           `json:"failure_reason,omitempty"`
	OriginalTransactionID *uuid.UUID        `json:"original_transaction_id,omitempty"`
	SettlementID          *uuid.UUID        `json:"settlement_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	ProcessedAt           *time.Time        `json:"processed_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusReversed
}

// IsSettled returns true once the transaction belongs to a settlement.
func (t *Transaction) IsSettled() bool {
	return t.SettlementID != nil
}

// IsReversible returns true for completed purchases that have not been settled.
func (t *Transaction) IsReversible() bool {
	return t.Kind == TransactionKindPurchase &&
		t.Status == TransactionStatusCompleted &&
		!t.IsSettled()
}

// Taken is what the purchase removed from the user: the wallet debit plus the voucher value.
func (t *Transaction) Taken() int64 {
	return t.WalletAmount + t.VoucherAmount
}
