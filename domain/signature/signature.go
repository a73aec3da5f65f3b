// Package signature authenticates inbound usage reports with HMAC-SHA256.
// Verification runs against the raw request bytes, before any parsing, so
// byte-for-byte tampering is detected regardless of parser leniency.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
// This is a PURE function.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the expected signature of
// payload. Comparison is constant time. A missing or malformed signature
// is simply invalid; Verify never fails.
// This is a PURE function.
func Verify(payload []byte, provided, secret string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(provided), []byte(expected))
}
