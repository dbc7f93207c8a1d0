package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus represents the state of a marketplace user account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

// User is a wallet holder. WalletBalance is a projection of the user's
// ledger entries and LedgerSeq is the sequence of the last entry applied to it.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	Role          string     `json:"role"`
	WalletBalance int64      `json:"wallet_balance"` // minor units, never negative
	LedgerSeq     int64      `json:"ledger_seq"`
	LoyaltyPoints int64      `json:"loyalty_points"`
	CreditLimit   int64      `json:"credit_limit"`
	Status        UserStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsActive returns true if the user may spend from the wallet.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
