package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

const payoutPath = "/payouts"

// Headers carried by signed payout requests.
const (
	HeaderTimestamp      = "X-Timestamp"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type payoutPayload struct {
	SettlementID string                   `json:"settlement_id"`
	VendorID     string                   `json:"vendor_id"`
	Amount       int64                    `json:"amount"`
	Attempt      int                      `json:"attempt"`
	Account      domain.SettlementAccount `json:"account"`
}

type payoutResponse struct {
	Reference string `json:"reference"`
}

// PayoutClient implements ports.PayoutGateway against the payout provider.
type PayoutClient struct {
	http    HTTPClient
	baseURL string
	secret  string
	log     zerolog.Logger
	now     func() time.Time
}

// NewPayoutClient creates a payout client. An empty secret sends unsigned requests.
func NewPayoutClient(httpClient HTTPClient, baseURL, secret string, log zerolog.Logger) *PayoutClient {
	return &PayoutClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		log:     log,
		now:     time.Now,
	}
}

// Send transfers req.Amount to the vendor's account. The settlement id is the
// provider-side idempotency key, so a retried attempt never pays twice.
func (c *PayoutClient) Send(ctx context.Context, req ports.PayoutRequest) (*ports.PayoutResult, error) {
	if req.Account.AccountNumber == "" {
		return nil, errors.New("vendor has no settlement account")
	}

	body, err := json.Marshal(payoutPayload{
		SettlementID: req.SettlementID.String(),
		VendorID:     req.VendorID.String(),
		Amount:       req.Amount,
		Attempt:      req.Attempt,
		Account:      req.Account,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payout: %w", err)
	}

	headers := map[string]string{HeaderIdempotencyKey: req.SettlementID.String()}
	if c.secret != "" {
		ts := c.now().Unix()
		headers[HeaderTimestamp] = strconv.FormatInt(ts, 10)
		headers[HeaderSignature] = Sign(c.secret, CanonicalString(http.MethodPost, payoutPath, ts, string(body)))
	}

	var out payoutResponse
	if err := postJSON(ctx, c.http, c.baseURL+payoutPath, headers, body, &out); err != nil {
		c.log.Warn().Err(err).
			Str("settlement_id", req.SettlementID.String()).
			Int("attempt", req.Attempt).
			Msg("payout: send failed")
		return nil, err
	}
	if out.Reference == "" {
		return nil, errors.New("payout provider returned no reference")
	}

	c.log.Info().
		Str("settlement_id", req.SettlementID.String()).
		Int64("amount", req.Amount).
		Str("reference", out.Reference).
		Msg("payout: sent")

	return &ports.PayoutResult{Reference: out.Reference}, nil
}
