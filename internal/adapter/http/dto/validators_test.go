package dto

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeStruct(t *testing.T) {
	owner := "  6f1c2a9e-0c4b-4a53-9d7e-1f2a3b4c5d6e  "
	req := IssueVoucherRequest{Code: "  SPRING-10 ", Value: 10, OwnerUserID: &owner}
	SanitizeStruct(&req)

	assert.Equal(t, "SPRING-10", req.Code)
	assert.Equal(t, "6f1c2a9e-0c4b-4a53-9d7e-1f2a3b4c5d6e", *req.OwnerUserID)
	assert.Nil(t, req.VendorID)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := ReverseRequest{Reason: "duplicate <script>alert('x')</script> charge"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	SanitizeStruct("hello")
	SanitizeStruct(&[]string{"a"})
}

func TestSafeID(t *testing.T) {
	for _, tc := range []string{"svc-001", "PLAN_2", "a.b.c", "order:42"} {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
	for _, tc := range []string{"", "svc 001", "svc<1>", "a;DROP", "x\n1"} {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %q", tc)
	}
}

func TestPurchaseRequest_Binding(t *testing.T) {
	valid := func() PurchaseRequest {
		return PurchaseRequest{
			UserID:        "6f1c2a9e-0c4b-4a53-9d7e-1f2a3b4c5d6e",
			VendorID:      "0b7e4d1a-2c3f-4e5a-8b9c-0d1e2f3a4b5c",
			ServiceRef:    "airtime-500",
			Amount:        500,
			PaymentMethod: "wallet",
		}
	}

	tests := []struct {
		name   string
		mutate func(*PurchaseRequest)
		ok     bool
	}{
		{"valid", func(*PurchaseRequest) {}, true},
		{"with voucher code", func(r *PurchaseRequest) { r.VoucherCode = "gift 50" }, true},
		{"bad user id", func(r *PurchaseRequest) { r.UserID = "nope" }, false},
		{"zero amount", func(r *PurchaseRequest) { r.Amount = 0 }, false},
		{"negative amount", func(r *PurchaseRequest) { r.Amount = -1 }, false},
		{"unknown method", func(r *PurchaseRequest) { r.PaymentMethod = "card" }, false},
		{"unsafe service ref", func(r *PurchaseRequest) { r.ServiceRef = "a b" }, false},
		{"unsafe voucher code", func(r *PurchaseRequest) { r.VoucherCode = "x;y" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := binding.Validator.ValidateStruct(&req)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunSettlementRequest_PeriodOrder(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ok := RunSettlementRequest{VendorID: "0b7e4d1a-2c3f-4e5a-8b9c-0d1e2f3a4b5c", PeriodStart: start, PeriodEnd: start.Add(24 * time.Hour)}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))

	backwards := ok
	backwards.PeriodEnd = start.Add(-time.Hour)
	assert.Error(t, binding.Validator.ValidateStruct(&backwards))
}
