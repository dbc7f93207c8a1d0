package ports

import (
	"context"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// IdentityVerifier confirms that a user may transact. Identity and KYC live elsewhere.
type IdentityVerifier interface {
	Verify(ctx context.Context, userID uuid.UUID) error
}

// VendorGateway charges a vendor for a service on behalf of a user.
type VendorGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ChargeRequest is sent to the vendor's API.
type ChargeRequest struct {
	VendorID      uuid.UUID
	BaseURL       string
	TransactionID uuid.UUID
	UserID        uuid.UUID
	ServiceRef    string
	Amount        int64
	PaymentMethod domain.PaymentMethod
}

// ChargeResult is the vendor's acknowledgement.
type ChargeResult struct {
	Reference string
}

// PayoutGateway sends settlement money to a vendor's bank account.
type PayoutGateway interface {
	Send(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

// PayoutRequest is sent to the payout provider. SettlementID doubles as the
// provider-side idempotency key.
type PayoutRequest struct {
	SettlementID uuid.UUID
	VendorID     uuid.UUID
	Account      domain.SettlementAccount
	Amount       int64
	Attempt      int
}

// PayoutResult is the provider's acknowledgement.
type PayoutResult struct {
	Reference string
}

// Notifier delivers user- and vendor-facing messages. Fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}
