package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// WebhookEvent is the payload the gateway posts on out-of-band status changes.
// Fee is the processor fee the finalized charge settled with; capture events
// carry it, other events may omit it.
type WebhookEvent struct {
	ChargeID       string          `json:"charge_id"`
	Status         string          `json:"status"`
	Fee            decimal.Decimal `json:"fee"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
}

// VerifyWebhookSignature checks the header-supplied signature against an
// HMAC-SHA256 of the raw, unparsed request body. The signature must never be
// checked against a re-serialized body: re-serialization can change the
// byte-for-byte content and produce false results. The comparison is
// constant time.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}
	signature = strings.ToLower(strings.TrimPrefix(signature, "sha256="))

	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignWebhookBody computes the signature the gateway would attach to a body.
// Exposed for tests and for replaying stored webhooks against a sandbox.
func SignWebhookBody(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
