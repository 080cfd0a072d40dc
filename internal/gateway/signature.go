// Package gateway implements the Intake Gateway (§4.A): signature
// verification, rate limiting, validation, deduplication, and enqueue for
// inbound alert webhooks.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// verifySignature recomputes HMAC-SHA256 over the raw request body using
// secret and compares it in constant time against header, which is expected
// in the form "sha256=<hex>".
func verifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	return hmac.Equal(given, want)
}
