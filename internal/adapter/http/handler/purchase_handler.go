package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey carries the client's retry key for purchases.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderTransactionID names the transaction behind a failed purchase.
const HeaderTransactionID = "X-Transaction-ID"

// PurchaseHandler handles purchase and transaction endpoints.
type PurchaseHandler struct {
	purchases ports.PurchaseService
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(purchases ports.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

// Purchase handles POST /api/v1/purchases.
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" || len(key) > 128 {
		response.Error(c, apperror.Validation("Idempotency-Key header is required (max 128 chars)"))
		return
	}

	var req dto.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	txn, err := h.purchases.Purchase(c.Request.Context(), ports.PurchaseRequest{
		UserID:         uuid.MustParse(req.UserID),
		VendorID:       uuid.MustParse(req.VendorID),
		ServiceRef:     req.ServiceRef,
		Amount:         req.Amount,
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		VoucherCode:    req.VoucherCode,
		IdempotencyKey: key,
		Actor:          middleware.Actor(c),
	})
	if err != nil {
		if txn != nil {
			c.Header(HeaderTransactionID, txn.ID.String())
		}
		response.Error(c, err)
		return
	}

	response.Created(c, txn)
}

// GetTransaction handles GET /api/v1/transactions/:id.
func (h *PurchaseHandler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txn, err := h.purchases.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, txn)
}

// Reverse handles POST /api/v1/transactions/:id/reverse.
func (h *PurchaseHandler) Reverse(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ReverseRequest
	if !bindJSON(c, &req) {
		return
	}

	reversal, err := h.purchases.Reverse(c.Request.Context(), ports.ReverseRequest{
		TransactionID: id,
		Reason:        req.Reason,
		Actor:         middleware.Actor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, reversal)
}
