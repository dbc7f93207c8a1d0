package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog binds a client idempotency key to the transaction it created.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "user:<user_id>:<client_key>"
	TransactionID uuid.UUID `json:"transaction_id"`
	Fingerprint   string    `json:"fingerprint"` // SHA-256 of the canonical request
	CreatedAt     time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a client key to the user that sent it.
func BuildIdempotencyKey(userID uuid.UUID, clientKey string) string {
	return "user:" + userID.String() + ":" + clientKey
}

// PurchaseFingerprint hashes the arguments of a purchase so a reused key with
// different arguments can be told apart from a retry.
func PurchaseFingerprint(userID, vendorID uuid.UUID, serviceRef string, amount int64, method PaymentMethod, voucherCode string) string {
	canonical := fmt.Sprintf("%s|%s|%s|%d|%s|%s", userID, vendorID, serviceRef, amount, method, voucherCode)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
