package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VendorStatus represents the state of a vendor account.
type VendorStatus string

const (
	VendorStatusPending   VendorStatus = "pending"
	VendorStatusActive    VendorStatus = "active"
	VendorStatusSuspended VendorStatus = "suspended"
	VendorStatusInactive  VendorStatus = "inactive"
)

// SettlementAccount is where a vendor's payouts are sent.
type SettlementAccount struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BranchCode    string `json:"branch_code,omitempty"`
	SwiftCode     string `json:"swift_code,omitempty"`
}

// Vendor sells services and is paid out through settlements.
type Vendor struct {
	ID                  uuid.UUID           `json:"id"`
	CompanyName         string              `json:"company_name"`
	VendorType          string              `json:"vendor_type"`
	CommissionRate      decimal.Decimal     `json:"commission_rate"` // percent, 0..100
	SettlementAccount   SettlementAccount   `json:"settlement_account"`
	SettlementFrequency SettlementFrequency `json:"settlement_frequency"`
	Status              VendorStatus        `json:"status"`
	APIBaseURL          string              `json:"api_base_url"`
	TotalTransactions   int64               `json:"total_transactions"`
	FailedTransactions  int64               `json:"failed_transactions"`
	TotalRevenue        int64               `json:"total_revenue"`
	UnsettledRevenue    int64               `json:"unsettled_revenue"`
	AverageResponseMs   int64               `json:"average_response_ms"`
	LastActivityAt      *time.Time          `json:"last_activity_at,omitempty"`
	LastSettledAt       *time.Time          `json:"last_settled_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// IsActive returns true if the vendor may sell and be settled.
func (v *Vendor) IsActive() bool {
	return v.Status == VendorStatusActive
}

// SuccessRate is the percentage of vendor charges that completed.
func (v *Vendor) SuccessRate() decimal.Decimal {
	if v.TotalTransactions == 0 {
		return decimal.NewFromInt(100)
	}
	ok := decimal.NewFromInt(v.TotalTransactions - v.FailedTransactions)
	return ok.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(v.TotalTransactions)).Round(2)
}

// Commission splits an amount into the platform's commission and the vendor's net,
// rounding the commission half-up to the minor unit.
func (v *Vendor) Commission(amount int64) (commission, net int64) {
	return SplitCommission(amount, v.CommissionRate)
}

// SplitCommission applies a percentage rate to amount.
func SplitCommission(amount int64, ratePercent decimal.Decimal) (commission, net int64) {
	c := decimal.NewFromInt(amount).
		Mul(ratePercent).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	return c, amount - c
}

// ValidCommissionRate reports whether rate is a percentage in [0, 100].
func ValidCommissionRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(100))
}
