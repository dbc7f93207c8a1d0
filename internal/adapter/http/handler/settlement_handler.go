package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SettlementHandler handles settlement endpoints.
type SettlementHandler struct {
	settlements ports.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlements ports.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlements: settlements}
}

// Run handles POST /api/v1/settlements/run.
func (h *SettlementHandler) Run(c *gin.Context) {
	var req dto.RunSettlementRequest
	if !bindJSON(c, &req) {
		return
	}

	st, err := h.settlements.Run(c.Request.Context(), uuid.MustParse(req.VendorID), domain.Period{
		Start: req.PeriodStart.UTC(),
		End:   req.PeriodEnd.UTC(),
	})
	h.write(c, st, err)
}

// Get handles GET /api/v1/settlements/:id.
func (h *SettlementHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	st, err := h.settlements.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, st)
}

// Retry handles POST /api/v1/settlements/:id/retry.
func (h *SettlementHandler) Retry(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	st, err := h.settlements.RetryPayout(c.Request.Context(), id)
	h.write(c, st, err)
}

// write answers 202 when the settlement was recorded but its payout failed,
// so callers keep the id for a retry.
func (h *SettlementHandler) write(c *gin.Context, st *domain.Settlement, err error) {
	switch {
	case err == nil:
		response.OK(c, st)
	case st != nil && apperror.Is(err, apperror.CodeExternalService):
		response.Accepted(c, st)
	default:
		response.Error(c, err)
	}
}
