package shared

import (
	"time"

	"github.com/google/uuid"
)

// Payout notification event kinds
const (
	PayoutEventReleased = "payout_released"
	PayoutEventRefunded = "payout_refunded"
	PayoutEventRejected = "payout_rejected"
	PayoutEventPartial  = "payout_partial"
)

// PayoutNotification defines the Kafka message emitted after a settlement
// transition commits. Amounts are fixed-point decimal strings so downstream
// consumers never see binary floating point.
type PayoutNotification struct {
	Event          string    `json:"event"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	BookingID      uuid.UUID `json:"booking_id"`
	PayerID        uuid.UUID `json:"payer_id"`
	PayeeID        uuid.UUID `json:"payee_id"`
	Currency       string    `json:"currency"`
	ProviderAmount string    `json:"provider_amount"`
	CustomerAmount string    `json:"customer_amount"`
	ProcessedBy    string    `json:"processed_by,omitempty"`
	Remarks        string    `json:"remarks,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
