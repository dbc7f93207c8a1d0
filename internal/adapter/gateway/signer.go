package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload) in constant time.
func Verify(secretKey string, payload string, signature string) bool {
	return hmac.Equal([]byte(Sign(secretKey, payload)), []byte(signature))
}

// CanonicalString constructs the payload that is signed for an outbound request.
// Format: METHOD|PATH|TIMESTAMP|BODY
func CanonicalString(method, path string, timestamp int64, body string) string {
	return fmt.Sprintf("%s|%s|%d|%s", method, path, timestamp, body)
}
