package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrVoucherRedeemed = errors.New("voucher already redeemed")
	ErrVoucherExpired  = errors.New("voucher expired")
	ErrVoucherRevoked  = errors.New("voucher revoked")
	ErrVoucherScope    = errors.New("voucher not valid for this user or vendor")
)

// VoucherStatus represents the lifecycle state of a voucher.
type VoucherStatus string

const (
	VoucherStatusIssued   VoucherStatus = "issued"
	VoucherStatusRedeemed VoucherStatus = "redeemed"
	VoucherStatusExpired  VoucherStatus = "expired"
	VoucherStatusRevoked  VoucherStatus = "revoked"
)

// Voucher grants redeemable value. The clear-text code is never stored;
// CodeHash is its keyed digest. Version guards every state change.
type Voucher struct {
	ID             uuid.UUID     `json:"id"`
	CodeHash       string        `json:"-"`
	Value          int64         `json:"value"`
	RemainingValue int64         `json:"remaining_value"`
	Status         VoucherStatus `json:"status"`
	UsageLimit     int           `json:"usage_limit"`
	UsageCount     int           `json:"usage_count"`
	AllowPartial   bool          `json:"allow_partial"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	OwnerUserID    *uuid.UUID    `json:"owner_user_id,omitempty"`
	VendorID       *uuid.UUID    `json:"vendor_id,omitempty"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsPastExpiry reports whether the voucher's expiry has passed at now.
func (v *Voucher) IsPastExpiry(now time.Time) bool {
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}

// Check returns the reason the voucher cannot be redeemed by userID at vendorID, or nil.
// A nil vendorID means the redemption is not tied to a vendor (wallet credit).
func (v *Voucher) Check(now time.Time, userID uuid.UUID, vendorID *uuid.UUID) error {
	switch v.Status {
	case VoucherStatusRevoked:
		return ErrVoucherRevoked
	case VoucherStatusExpired:
		return ErrVoucherExpired
	case VoucherStatusRedeemed:
		return ErrVoucherRedeemed
	}
	if v.IsPastExpiry(now) {
		return ErrVoucherExpired
	}
	if v.UsageCount >= v.UsageLimit || v.RemainingValue <= 0 {
		return ErrVoucherRedeemed
	}
	if v.OwnerUserID != nil && *v.OwnerUserID != userID {
		return ErrVoucherScope
	}
	if v.VendorID != nil && (vendorID == nil || *v.VendorID != *vendorID) {
		return ErrVoucherScope
	}
	return nil
}

// Apply consumes one use worth at most requested and returns the value granted.
// The receiver is mutated; callers apply it to a copy and persist with a CAS on Version.
func (v *Voucher) Apply(requested int64, now time.Time) int64 {
	granted := requested
	if granted > v.RemainingValue {
		granted = v.RemainingValue
	}
	if v.AllowPartial {
		v.RemainingValue -= granted
	}
	v.UsageCount++
	if v.UsageCount >= v.UsageLimit || v.RemainingValue <= 0 {
		v.Status = VoucherStatusRedeemed
	}
	v.UpdatedAt = now
	return granted
}

// VoucherRedemption records one successful use of a voucher. Append-only.
type VoucherRedemption struct {
	ID            uuid.UUID  `json:"id"`
	VoucherID     uuid.UUID  `json:"voucher_id"`
	UserID        uuid.UUID  `json:"user_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Amount        int64      `json:"amount"`
	CreatedAt     time.Time  `json:"created_at"`
}
