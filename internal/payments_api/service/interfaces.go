package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/gateway"
	"github.com/shopspring/decimal"
)

// ChargeParams carries everything needed to charge a booking
type ChargeParams struct {
	BookingID   uuid.UUID
	PayerID     uuid.UUID
	PayeeID     uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Method      shared.PaymentMethod
	ServiceType string // Booking's service category, recorded for listing filters
	Token       string // One-time token from the client-side SDK
	CustomerID  string // Gateway customer id, for saved-card charges
	SavedCardID string
	Description string
	RedirectURL string // Where the gateway sends the payer after 3-D Secure

	// IdempotencyKey is optional. When the caller supplies one, a repeated
	// request returns the row recorded by the first attempt instead of
	// charging again.
	IdempotencyKey string
}

// ChargeResult is what the API returns for a charge attempt. Exactly one of
// the terminal fields is meaningful depending on the transaction's settlement
// status: a redirect URL for pending_action, nothing extra for held, and a
// reconciliation promise for pending_verification.
type ChargeResult struct {
	Transaction *payment.Transaction
	RedirectURL string
}

// ChargeService defines the charge orchestration operations
type ChargeService interface {
	// CreateCharge performs one logical charge and records its ledger row.
	// A gateway decline returns *DeclineError carrying the user-facing message;
	// no ledger row is written because no funds were ever held.
	CreateCharge(ctx context.Context, params ChargeParams) (*ChargeResult, error)

	// HandleWebhook applies a verified gateway status event to the ledger.
	// Events for unknown charges or already-final rows are ignored.
	HandleWebhook(ctx context.Context, event gateway.WebhookEvent) error

	// GetTransaction retrieves a ledger row by id.
	// Returns payment.ErrTransactionNotFound if it doesn't exist.
	GetTransaction(ctx context.Context, id uuid.UUID) (*payment.Transaction, error)
}

// PartialSplit carries the provider/customer division of a held amount.
// Either explicit amounts or a provider percentage, never both. When only one
// explicit amount is set, the other side is computed as the complement of the
// held amount.
type PartialSplit struct {
	ProviderAmount *decimal.Decimal
	CustomerAmount *decimal.Decimal
	Percentage     *decimal.Decimal // Provider share, 0-100
}

// SettlementService defines the administrative settlement operations. Every
// operation is a single-shot transition out of held: a second attempt on the
// same row returns payment.ErrSettlementConflict.
type SettlementService interface {
	Release(ctx context.Context, id uuid.UUID, adminID string) (*payment.Transaction, error)
	Refund(ctx context.Context, id uuid.UUID, adminID, remarks string) (*payment.Transaction, error)
	Reject(ctx context.Context, id uuid.UUID, adminID, remarks string) (*payment.Transaction, error)
	PartialSettle(ctx context.Context, id uuid.UUID, adminID string, split PartialSplit, remarks string) (*payment.Transaction, error)

	// ListPending returns held rows awaiting a decision plus the total count
	ListPending(ctx context.Context, filter payment.PendingFilter, page, perPage int) ([]*payment.Transaction, int64, error)
}

// GatewayAPI is the slice of the gateway client the services need
type GatewayAPI interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error)
	GetCharge(ctx context.Context, chargeID string) (*gateway.Outcome, error)
	VerifyWebhookSignature(rawBody []byte, signature string) bool
}

// TxRunner runs a function inside one database transaction. Satisfied by
// *persistence.PostgresDB.
type TxRunner interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// DeclineError is returned when the gateway definitively declined a charge.
// The UserMessage is safe to surface; Code is for logs and support tooling.
type DeclineError struct {
	Code        string
	UserMessage string
}

func (e *DeclineError) Error() string {
	return "charge declined by gateway (code " + e.Code + ")"
}
