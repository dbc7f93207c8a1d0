package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// VoucherHandler handles voucher endpoints.
type VoucherHandler struct {
	vouchers ports.VoucherService
}

// NewVoucherHandler creates a new VoucherHandler.
func NewVoucherHandler(vouchers ports.VoucherService) *VoucherHandler {
	return &VoucherHandler{vouchers: vouchers}
}

// Issue handles POST /api/v1/vouchers.
func (h *VoucherHandler) Issue(c *gin.Context) {
	var req dto.IssueVoucherRequest
	if !bindJSON(c, &req) {
		return
	}
	owner, err := parseOptionalID(req.OwnerUserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid owner_user_id"))
		return
	}
	vendor, err := parseOptionalID(req.VendorID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid vendor_id"))
		return
	}

	v, err := h.vouchers.Issue(c.Request.Context(), ports.IssueVoucherRequest{
		Code:         req.Code,
		Value:        req.Value,
		UsageLimit:   req.UsageLimit,
		AllowPartial: req.AllowPartial,
		ExpiresAt:    req.ExpiresAt,
		OwnerUserID:  owner,
		VendorID:     vendor,
		Actor:        middleware.Actor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, v)
}

// Redeem handles POST /api/v1/vouchers/redeem. With to_wallet the value is
// credited to the user's wallet in the same database transaction.
func (h *VoucherHandler) Redeem(c *gin.Context) {
	var req dto.RedeemVoucherRequest
	if !bindJSON(c, &req) {
		return
	}

	in := ports.RedeemRequest{
		Code:            req.Code,
		UserID:          uuid.MustParse(req.UserID),
		AmountRequested: req.Amount,
		Actor:           middleware.Actor(c),
	}
	var (
		res *ports.RedemptionResult
		err error
	)
	if req.ToWallet {
		res, err = h.vouchers.RedeemToWallet(c.Request.Context(), in)
	} else {
		res, err = h.vouchers.Redeem(c.Request.Context(), in)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, res)
}

// Revoke handles POST /api/v1/vouchers/revoke.
func (h *VoucherHandler) Revoke(c *gin.Context) {
	var req dto.RevokeVoucherRequest
	if !bindJSON(c, &req) {
		return
	}

	v, err := h.vouchers.Revoke(c.Request.Context(), req.Code, middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, v)
}
