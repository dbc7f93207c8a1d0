package handler

import (
	"time"

	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// maxLedgerRange bounds a single ledger listing.
const maxLedgerRange = 93 * 24 * time.Hour

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	wallets   ports.WalletService
	purchases ports.PurchaseService
}

// NewWalletHandler creates a new WalletHandler. Top-ups go through the
// purchase service so they share its audit trail.
func NewWalletHandler(wallets ports.WalletService, purchases ports.PurchaseService) *WalletHandler {
	return &WalletHandler{wallets: wallets, purchases: purchases}
}

// Topup handles POST /api/v1/wallets/:user_id/topup.
func (h *WalletHandler) Topup(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req dto.TopupRequest
	if !bindJSON(c, &req) {
		return
	}

	entry, err := h.purchases.TopUp(c.Request.Context(), ports.WalletRequest{
		UserID:    userID,
		Amount:    req.Amount,
		Reason:    domain.EntryReasonTopup,
		Reference: req.Reference,
		Actor:     middleware.Actor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, entry)
}

// Balance handles GET /api/v1/wallets/:user_id/balance[?as_of=].
func (h *WalletHandler) Balance(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	asOf, ok := queryTime(c, "as_of")
	if !ok {
		return
	}

	var (
		balance int64
		err     error
	)
	if asOf != nil {
		balance, err = h.wallets.BalanceAsOf(c.Request.Context(), userID, *asOf)
	} else {
		balance, err = h.wallets.Balance(c.Request.Context(), userID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{UserID: userID, Balance: balance, AsOf: asOf})
}

// Ledger handles GET /api/v1/wallets/:user_id/ledger?from=&to=.
// Without bounds it lists the last 30 days.
func (h *WalletHandler) Ledger(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}

	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	start := end.Add(-30 * 24 * time.Hour)
	if from != nil {
		start = *from
	}
	if end.Sub(start) > maxLedgerRange {
		response.Error(c, apperror.Validation("ledger range is limited to 93 days"))
		return
	}

	entries, err := h.wallets.Entries(c.Request.Context(), userID, start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []domain.WalletTransaction{}
	}

	response.OK(c, dto.LedgerResponse{UserID: userID, From: start, To: end, Entries: entries})
}

// Reconcile handles POST /api/v1/wallets/:user_id/reconcile[?repair=true].
func (h *WalletHandler) Reconcile(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	result, err := h.wallets.Reconcile(c.Request.Context(), userID, c.Query("repair") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, result)
}
