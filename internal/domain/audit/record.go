// Package audit defines the append-only record of outbound gateway calls.
// One record is written per HTTP attempt (success, retry, and terminal
// failure alike) so later reconciliation against the gateway's own records
// is possible. Sensitive payment fields are redacted before a record is
// built; nothing here may ever carry a card number, CVV, or token.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record captures one gateway HTTP attempt
type Record struct {
	ID             uuid.UUID `json:"id" bson:"id"`
	Operation      string    `json:"operation" bson:"operation"` // create_charge, create_customer, ...
	IdempotencyKey string    `json:"idempotency_key,omitempty" bson:"idempotency_key,omitempty"`
	Attempt        int       `json:"attempt" bson:"attempt"` // 1-based attempt number
	RequestBody    string    `json:"request_body,omitempty" bson:"request_body,omitempty"`
	ResponseStatus int       `json:"response_status,omitempty" bson:"response_status,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty" bson:"response_body,omitempty"` // Truncated
	Error          string    `json:"error,omitempty" bson:"error,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Repository persists gateway call records. Writes are best effort from the
// caller's point of view: an audit failure must never fail the payment path.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) ([]*Record, error)
	GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*Record, error)
}
