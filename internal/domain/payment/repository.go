package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PendingFilter narrows the pending-settlement listing
type PendingFilter struct {
	PayeeID     *uuid.UUID // Service provider
	ServiceType *string    // Booking's service category
	From        *time.Time // Capture time lower bound
	To          *time.Time // Capture time upper bound
}

// Repository defines payment transaction persistence operations
type Repository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)
	ListPending(ctx context.Context, filter PendingFilter, limit, offset int) ([]*Transaction, error)
	CountPending(ctx context.Context, filter PendingFilter) (int64, error)

	// LockForUpdate acquires a pessimistic row lock for settlement processing
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// UpdateSettlement persists a settlement transition. The write is guarded
	// by the held precondition in SQL; zero rows affected means another actor
	// settled the row first and yields ErrSettlementConflict.
	UpdateSettlement(ctx context.Context, txn *Transaction) error

	// UpdateCaptureState finalizes a pending row (held or failed). Guarded by
	// the pending precondition so a webhook and the reconciliation worker
	// cannot both promote the same row.
	UpdateCaptureState(ctx context.Context, txn *Transaction) error

	WithTx(tx pgx.Tx) Repository
}

// ErrSettlementConflict indicates an action attempted on a row not in the
// required precondition state; the caller must surface it as a conflict,
// never retry it as if it were benign.
type ErrSettlementConflict struct {
	TransactionID uuid.UUID
	Current       SettlementStatus
}

func (e ErrSettlementConflict) Error() string {
	return "transaction " + e.TransactionID.String() + " is not settleable (status: " + string(e.Current) + ")"
}

// Is matches any ErrSettlementConflict when the target carries a nil id
func (e ErrSettlementConflict) Is(target error) bool {
	t, ok := target.(ErrSettlementConflict)
	if !ok {
		return false
	}
	if t.TransactionID == uuid.Nil {
		return true
	}
	return e.TransactionID == t.TransactionID
}

// ErrSplitMismatch indicates partial-split amounts that do not sum to the
// held amount; rejected before any mutation.
type ErrSplitMismatch struct {
	ProviderAmount decimal.Decimal
	CustomerAmount decimal.Decimal
	HeldAmount     decimal.Decimal
}

func (e ErrSplitMismatch) Error() string {
	return "split amounts " + e.ProviderAmount.String() + " + " + e.CustomerAmount.String() +
		" do not equal held amount " + e.HeldAmount.String()
}

// Is matches any ErrSplitMismatch regardless of amounts
func (e ErrSplitMismatch) Is(target error) bool {
	_, ok := target.(ErrSplitMismatch)
	return ok
}

// ErrTransactionNotFound indicates a missing ledger row
type ErrTransactionNotFound struct {
	TransactionID uuid.UUID
}

func (e ErrTransactionNotFound) Error() string {
	return "payment transaction not found: " + e.TransactionID.String()
}

// Is matches any ErrTransactionNotFound when the target carries a nil id
func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	if t.TransactionID == uuid.Nil {
		return true
	}
	return e.TransactionID == t.TransactionID
}

// ErrDuplicateTransaction indicates idempotency key uniqueness violation
type ErrDuplicateTransaction struct {
	IdempotencyKey string
}

func (e ErrDuplicateTransaction) Error() string {
	return "payment transaction already exists for idempotency key: " + e.IdempotencyKey
}
