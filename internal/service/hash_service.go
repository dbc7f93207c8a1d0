package service

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// CodeHasher derives the stored digest of a voucher code. Codes are never
// persisted in clear; lookups hash the presented code and match on the digest.
type CodeHasher struct {
	key []byte
}

// NewCodeHasher creates a keyed BLAKE2b-256 hasher. Secrets longer than the
// 64-byte BLAKE2b key limit are compressed first. An empty secret hashes unkeyed.
func NewCodeHasher(secret string) *CodeHasher {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &CodeHasher{key: key}
}

// Hash returns the lowercase hex digest of the normalized code.
func (h *CodeHasher) Hash(code string) (string, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return "", fmt.Errorf("voucher code is empty")
	}

	mac, err := blake2b.New256(h.key)
	if err != nil {
		return "", fmt.Errorf("init blake2b: %w", err)
	}
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// NormalizeCode makes codes case-insensitive and ignores spaces and dashes,
// so "abcd-1234" and "ABCD 1234" name the same voucher.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
