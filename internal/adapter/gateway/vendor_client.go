package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// chargePayload is the JSON body posted to <api_base_url>/charges.
type chargePayload struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	ServiceRef    string `json:"service_ref"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

type chargeResponse struct {
	Reference string `json:"reference"`
}

// VendorClient implements ports.VendorGateway over the vendor's HTTP API.
type VendorClient struct {
	http HTTPClient
	log  zerolog.Logger
}

// NewVendorClient creates a vendor client. Deadlines come from the caller's ctx.
func NewVendorClient(httpClient HTTPClient, log zerolog.Logger) *VendorClient {
	return &VendorClient{http: httpClient, log: log}
}

// Charge asks the vendor to deliver a service. The transaction id is sent as
// the Idempotency-Key so a vendor can de-duplicate retried charges.
func (c *VendorClient) Charge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	if req.BaseURL == "" {
		return nil, errors.New("vendor has no api base url")
	}

	body, err := json.Marshal(chargePayload{
		TransactionID: req.TransactionID.String(),
		UserID:        req.UserID.String(),
		ServiceRef:    req.ServiceRef,
		Amount:        req.Amount,
		PaymentMethod: string(req.PaymentMethod),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge: %w", err)
	}

	start := time.Now()
	var out chargeResponse
	err = postJSON(ctx, c.http, strings.TrimRight(req.BaseURL, "/")+"/charges",
		map[string]string{"Idempotency-Key": req.TransactionID.String()}, body, &out)
	elapsed := time.Since(start)
	if err != nil {
		c.log.Warn().Err(err).
			Str("tx_id", req.TransactionID.String()).
			Str("vendor_id", req.VendorID.String()).
			Dur("elapsed", elapsed).
			Msg("vendor: charge failed")
		return nil, err
	}
	if out.Reference == "" {
		return nil, errors.New("vendor returned no reference")
	}

	c.log.Info().
		Str("tx_id", req.TransactionID.String()).
		Str("vendor_id", req.VendorID.String()).
		Str("reference", out.Reference).
		Dur("elapsed", elapsed).
		Msg("vendor: charge accepted")

	return &ports.ChargeResult{Reference: out.Reference}, nil
}
