package shared

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationRequest defines a Kafka message asking the worker to resolve
// a charge whose outcome the gateway never confirmed. The idempotency key is
// the one used on the original charge attempt, so the gateway-side lookup
// finds the charge even when no external id was ever returned.
type ReconciliationRequest struct {
	TransactionID  uuid.UUID `json:"transaction_id"`
	ExternalID     string    `json:"external_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	Attempt        int       `json:"attempt"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
