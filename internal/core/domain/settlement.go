package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementFrequency controls how often a vendor is paid out.
type SettlementFrequency string

const (
	SettlementDaily   SettlementFrequency = "daily"
	SettlementWeekly  SettlementFrequency = "weekly"
	SettlementMonthly SettlementFrequency = "monthly"
)

// Period is a half-open UTC time range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks that the period is non-empty.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return errors.New("period bounds are required")
	}
	if !p.Start.Before(p.End) {
		return errors.New("period start must be before end")
	}
	return nil
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// PreviousPeriod returns the last complete period before now. Weeks start on Monday.
func (f SettlementFrequency) PreviousPeriod(now time.Time) Period {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch f {
	case SettlementWeekly:
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		end := today.AddDate(0, 0, -offset)
		return Period{Start: end.AddDate(0, 0, -7), End: end}
	case SettlementMonthly:
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: end.AddDate(0, -1, 0), End: end}
	default:
		return Period{Start: today.AddDate(0, 0, -1), End: today}
	}
}

// SettlementStatus represents the payout state of a settlement.
type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "pending"
	SettlementStatusProcessing SettlementStatus = "processing"
	SettlementStatusPaid       SettlementStatus = "paid"
	SettlementStatusFailed     SettlementStatus = "failed"
)

// Settlement is a vendor payout batch. It is immutable once paid.
type Settlement struct {
	ID               uuid.UUID        `json:"id"`
	VendorID         uuid.UUID        `json:"vendor_id"`
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	GrossAmount      int64            `json:"gross_amount"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	CommissionAmount int64            `json:"commission_amount"`
	NetAmount        int64            `json:"net_amount"`
	Status           SettlementStatus `json:"status"`
	TransactionIDs   []uuid.UUID      `json:"transaction_ids"`
	Attempts         int              `json:"attempts"`
	PayoutReference  *string          `json:"payout_reference,omitempty"`
	LastError        *string          `json:"last_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
}

// Period returns the settlement's period.
func (s *Settlement) Period() Period {
	return Period{Start: s.PeriodStart, End: s.PeriodEnd}
}

// NewSettlement builds a pending settlement over the given transactions.
func NewSettlement(vendor *Vendor, period Period, txns []Transaction, now time.Time) *Settlement {
	var gross int64
	ids := make([]uuid.UUID, 0, len(txns))
	for _, t := range txns {
		gross += t.Amount
		ids = append(ids, t.ID)
	}
	commission, net := SplitCommission(gross, vendor.CommissionRate)

	return &Settlement{
		ID:               uuid.New(),
		VendorID:         vendor.ID,
		PeriodStart:      period.Start,
		PeriodEnd:        period.End,
		GrossAmount:      gross,
		CommissionRate:   vendor.CommissionRate,
		CommissionAmount: commission,
		NetAmount:        net,
		Status:           SettlementStatusPending,
		TransactionIDs:   ids,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
