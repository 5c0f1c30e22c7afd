// Package payment holds the escrow ledger entry for a booking charge and its
// settlement state machine. A row is created once funds are captured (or a
// capture is pending confirmation) and is never deleted; settlement actions
// move it through a single-shot transition out of the held state.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrRemarksRequired     = errors.New("admin remarks are required for this action")
	ErrInvalidPercentage   = errors.New("percentage must be between 0 and 100")
	ErrNotCaptured         = errors.New("transaction has not been captured")
	ErrAlreadyFinalized    = errors.New("transaction capture state is already final")
	ErrMissingBooking      = errors.New("booking reference is required")
	ErrNegativeSplitAmount = errors.New("split amounts cannot be negative")
)

// SettlementStatus defines the escrow state of a transaction
type SettlementStatus string

const (
	// Pre-capture states: the row exists but funds are not confirmed held.
	StatusPendingAction       SettlementStatus = "pending_action"       // Awaiting 3-D Secure / redirect confirmation
	StatusPendingVerification SettlementStatus = "pending_verification" // Retries exhausted, awaiting gateway reconciliation
	StatusFailed              SettlementStatus = "failed"               // Capture never happened (terminal)

	// Escrow states.
	StatusHeld     SettlementStatus = "held"     // Captured, awaiting settlement (the only settleable state)
	StatusReleased SettlementStatus = "released" // Full amount credited to the provider (terminal)
	StatusRefunded SettlementStatus = "refunded" // Full amount returned to the customer (terminal)
	StatusRejected SettlementStatus = "rejected" // Dispute outcome, funds returned to the customer (terminal)
	StatusPartial  SettlementStatus = "partial"  // Held amount split between provider and customer (terminal)
)

// Transaction is the ledger entry recording money movement for one booking.
// Amount and HeldAmount are fixed at capture; settlement actions compute
// provider/customer splits from HeldAmount but never mutate it, so the
// captured amount is always reconstructable from the row.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	PayerID   uuid.UUID `json:"payer_id"`
	PayeeID   uuid.UUID `json:"payee_id"` // Service provider, resolved via the booking

	Amount     decimal.Decimal `json:"amount"`      // Gross charged amount
	GatewayFee decimal.Decimal `json:"gateway_fee"` // Fee withheld by the processor
	HeldAmount decimal.Decimal `json:"held_amount"` // Amount in escrow: Amount - GatewayFee
	Currency   string          `json:"currency"`

	Method         shared.PaymentMethod `json:"method"`
	ServiceType    string               `json:"service_type,omitempty"` // Booking's service category, for listing filters
	ExternalID     string               `json:"external_id,omitempty"`  // Gateway transaction id
	IdempotencyKey string               `json:"idempotency_key"`
	GatewayStatus  string               `json:"gateway_status,omitempty"` // Raw status for audit

	SettlementStatus SettlementStatus `json:"settlement_status"`
	ProviderAmount   decimal.Decimal  `json:"provider_amount"` // Set on release/partial
	CustomerAmount   decimal.Decimal  `json:"customer_amount"` // Set on refund/reject/partial
	ProcessedBy      string           `json:"processed_by,omitempty"`
	AdminRemarks     string           `json:"admin_remarks,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	CorrelationID    string           `json:"correlation_id,omitempty"`

	ReleasedAt *time.Time `json:"released_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewTransaction creates a ledger entry for a gateway charge. The initial
// settlement status depends on how the gateway answered: a confirmed capture
// enters held, a redirect flow enters pending_action, and an ambiguous
// outcome enters pending_verification.
func NewTransaction(
	bookingID, payerID, payeeID uuid.UUID,
	amount, gatewayFee decimal.Decimal,
	currency string,
	method shared.PaymentMethod,
	idempotencyKey string,
	status SettlementStatus,
) (*Transaction, error) {
	if bookingID == uuid.Nil {
		return nil, ErrMissingBooking
	}
	if len(currency) != 3 {
		return nil, shared.ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if gatewayFee.IsNegative() || gatewayFee.GreaterThanOrEqual(amount) {
		return nil, ErrInvalidAmount
	}
	switch status {
	case StatusHeld, StatusPendingAction, StatusPendingVerification:
	default:
		return nil, fmt.Errorf("invalid initial settlement status %q", status)
	}

	now := time.Now()
	return &Transaction{
		ID:               uuid.New(),
		BookingID:        bookingID,
		PayerID:          payerID,
		PayeeID:          payeeID,
		Amount:           amount,
		GatewayFee:       gatewayFee,
		HeldAmount:       amount.Sub(gatewayFee),
		Currency:         currency,
		Method:           method,
		IdempotencyKey:   idempotencyKey,
		SettlementStatus: status,
		ProviderAmount:   decimal.Zero,
		CustomerAmount:   decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanSettle reports whether a settlement action may be attempted
func (t *Transaction) CanSettle() bool {
	return t.SettlementStatus == StatusHeld
}

// IsPending reports whether the capture outcome is still unconfirmed
func (t *Transaction) IsPending() bool {
	return t.SettlementStatus == StatusPendingAction || t.SettlementStatus == StatusPendingVerification
}

// guardHeld rejects any transition attempted on a row not in held
func (t *Transaction) guardHeld() error {
	if !t.CanSettle() {
		return ErrSettlementConflict{TransactionID: t.ID, Current: t.SettlementStatus}
	}
	return nil
}

// Release credits the full held amount to the provider
func (t *Transaction) Release(actor string) error {
	if err := t.guardHeld(); err != nil {
		return err
	}
	now := time.Now()
	t.SettlementStatus = StatusReleased
	t.ProviderAmount = t.HeldAmount
	t.CustomerAmount = decimal.Zero
	t.ProcessedBy = actor
	t.ReleasedAt = &now
	t.UpdatedAt = now
	return nil
}

// Refund returns the full held amount to the customer
func (t *Transaction) Refund(actor string) error {
	if err := t.guardHeld(); err != nil {
		return err
	}
	now := time.Now()
	t.SettlementStatus = StatusRefunded
	t.ProviderAmount = decimal.Zero
	t.CustomerAmount = t.HeldAmount
	t.ProcessedBy = actor
	t.RefundedAt = &now
	t.UpdatedAt = now
	return nil
}

// Reject performs the same fund movement as Refund but records a dispute
// outcome; the textual justification is mandatory.
func (t *Transaction) Reject(actor, remarks string) error {
	if remarks == "" {
		return ErrRemarksRequired
	}
	if err := t.guardHeld(); err != nil {
		return err
	}
	now := time.Now()
	t.SettlementStatus = StatusRejected
	t.ProviderAmount = decimal.Zero
	t.CustomerAmount = t.HeldAmount
	t.ProcessedBy = actor
	t.AdminRemarks = remarks
	t.RefundedAt = &now
	t.UpdatedAt = now
	return nil
}

// PartialSettle splits the held amount between provider and customer. The two
// parts must sum exactly to HeldAmount; nothing may be invented or lost.
func (t *Transaction) PartialSettle(providerAmount, customerAmount decimal.Decimal, actor, remarks string) error {
	if remarks == "" {
		return ErrRemarksRequired
	}
	if providerAmount.IsNegative() || customerAmount.IsNegative() {
		return ErrNegativeSplitAmount
	}
	if !providerAmount.Add(customerAmount).Equal(t.HeldAmount) {
		return ErrSplitMismatch{
			ProviderAmount: providerAmount,
			CustomerAmount: customerAmount,
			HeldAmount:     t.HeldAmount,
		}
	}
	if err := t.guardHeld(); err != nil {
		return err
	}
	now := time.Now()
	t.SettlementStatus = StatusPartial
	t.ProviderAmount = providerAmount
	t.CustomerAmount = customerAmount
	t.ProcessedBy = actor
	t.AdminRemarks = remarks
	t.UpdatedAt = now
	return nil
}

// MarkCaptured promotes a pending row to held once the gateway confirms the
// capture, recording the external id and raw status for audit. The fee the
// confirmed charge reports replaces the creation-time one and the held amount
// is recomputed from it; a zero fee keeps whatever was recorded at creation,
// since not every webhook carries one.
func (t *Transaction) MarkCaptured(externalID, gatewayStatus string, fee decimal.Decimal) error {
	if !t.IsPending() {
		return ErrAlreadyFinalized
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(t.Amount) {
		return ErrInvalidAmount
	}
	t.SettlementStatus = StatusHeld
	if externalID != "" {
		t.ExternalID = externalID
	}
	t.GatewayStatus = gatewayStatus
	if fee.IsPositive() {
		t.GatewayFee = fee
		t.HeldAmount = t.Amount.Sub(fee)
	}
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailed finalizes a pending row whose capture the gateway denied
func (t *Transaction) MarkFailed(gatewayStatus, reason string) error {
	if !t.IsPending() {
		return ErrAlreadyFinalized
	}
	t.SettlementStatus = StatusFailed
	t.GatewayStatus = gatewayStatus
	t.FailureReason = reason
	t.UpdatedAt = time.Now()
	return nil
}

// SplitByPercentage computes a provider/customer split of held for the given
// provider percentage. The provider share is rounded to two decimals and the
// remainder goes to the customer side, so the parts always sum exactly to
// held. Percentages 0 and 100 are legal.
func SplitByPercentage(held decimal.Decimal, percentage decimal.Decimal) (provider, customer decimal.Decimal, err error) {
	hundred := decimal.NewFromInt(100)
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return decimal.Zero, decimal.Zero, ErrInvalidPercentage
	}
	provider = held.Mul(percentage).Div(hundred).Round(2)
	customer = held.Sub(provider)
	return provider, customer, nil
}
