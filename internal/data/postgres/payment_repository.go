// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all database operations while keeping the
// settlement preconditions enforced in SQL, so concurrent actors cannot both
// win a transition.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/platform/persistence"
)

const uniqueViolationCode = "23505"

const transactionColumns = `id, booking_id, payer_id, payee_id, amount, gateway_fee, held_amount, currency,
		method, service_type, external_id, idempotency_key, gateway_status, settlement_status,
		provider_amount, customer_amount, processed_by, admin_remarks, failure_reason, correlation_id,
		released_at, refunded_at, created_at, updated_at`

// PaymentRepository implements the payment.Repository interface for PostgreSQL
type PaymentRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewPaymentRepository(logger *slog.Logger, db *persistence.PostgresDB) payment.Repository {
	return &PaymentRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so settlement reads and
// writes share one unit of work.
func (r *PaymentRepository) WithTx(tx pgx.Tx) payment.Repository {
	return &PaymentRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new payment transaction. A duplicate idempotency key means
// the same logical charge was already recorded and yields
// ErrDuplicateTransaction.
func (r *PaymentRepository) Create(ctx context.Context, txn *payment.Transaction) error {
	query := `
		INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.querier.Exec(ctx, query,
		txn.ID,
		txn.BookingID,
		txn.PayerID,
		txn.PayeeID,
		txn.Amount,
		txn.GatewayFee,
		txn.HeldAmount,
		txn.Currency,
		txn.Method,
		txn.ServiceType,
		txn.ExternalID,
		txn.IdempotencyKey,
		txn.GatewayStatus,
		txn.SettlementStatus,
		txn.ProviderAmount,
		txn.CustomerAmount,
		txn.ProcessedBy,
		txn.AdminRemarks,
		txn.FailureReason,
		txn.CorrelationID,
		txn.ReleasedAt,
		txn.RefundedAt,
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return payment.ErrDuplicateTransaction{IdempotencyKey: txn.IdempotencyKey}
		}
		r.logger.Error("Failed to create payment transaction", "error", err)
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a payment transaction by its ID
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE id = $1
	`

	txn, err := r.scanOne(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound{TransactionID: id}
		}
		r.logger.Error("Failed to get payment transaction", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}

	return txn, nil
}

// GetByIdempotencyKey retrieves the transaction recorded for a charge attempt.
// Returns nil, nil when no transaction exists for the key.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE idempotency_key = $1
	`

	txn, err := r.scanOne(r.querier.QueryRow(ctx, query, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get payment transaction by idempotency key", "error", err)
		return nil, fmt.Errorf("failed to get payment transaction by idempotency key: %w", err)
	}

	return txn, nil
}

// GetByExternalID retrieves the transaction holding a gateway charge id.
// Webhooks identify rows this way. Returns nil, nil when no row matches.
func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE external_id = $1
	`

	txn, err := r.scanOne(r.querier.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get payment transaction by external id", "externalID", externalID, "error", err)
		return nil, fmt.Errorf("failed to get payment transaction by external id: %w", err)
	}

	return txn, nil
}

// ListPending returns held transactions awaiting a settlement decision,
// newest first, narrowed by the optional filter fields.
func (r *PaymentRepository) ListPending(ctx context.Context, filter payment.PendingFilter, limit, offset int) ([]*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE settlement_status = $1
	`
	args := []interface{}{payment.StatusHeld}
	query, args = appendPendingFilter(query, args, filter)

	query += "\n\t\tORDER BY created_at DESC"
	query += "\n\t\tLIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pending settlements", "error", err)
		return nil, fmt.Errorf("failed to list pending settlements: %w", err)
	}
	defer rows.Close()

	var txns []*payment.Transaction
	for rows.Next() {
		txn, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending settlement row: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending settlements: %w", err)
	}

	return txns, nil
}

// CountPending returns the total number of held transactions matching the filter
func (r *PaymentRepository) CountPending(ctx context.Context, filter payment.PendingFilter) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM payment_transactions
		WHERE settlement_status = $1
	`
	args := []interface{}{payment.StatusHeld}
	query, args = appendPendingFilter(query, args, filter)

	var count int64
	if err := r.querier.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		r.logger.Error("Failed to count pending settlements", "error", err)
		return 0, fmt.Errorf("failed to count pending settlements: %w", err)
	}

	return count, nil
}

// LockForUpdate obtains a pessimistic lock on the transaction row and returns
// its current state. Must be called within a transaction; the lock is held
// until commit so concurrent settlement attempts serialize here.
func (r *PaymentRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE id = $1
		FOR UPDATE
	`

	txn, err := r.scanOne(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound{TransactionID: id}
		}
		r.logger.Error("Failed to lock payment transaction", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock payment transaction: %w", err)
	}

	return txn, nil
}

// UpdateSettlement persists a settlement transition. The held precondition is
// repeated in SQL so the write itself is the arbiter: zero rows affected means
// another actor settled the row first.
func (r *PaymentRepository) UpdateSettlement(ctx context.Context, txn *payment.Transaction) error {
	query := `
		UPDATE payment_transactions
		SET settlement_status = $1, provider_amount = $2, customer_amount = $3,
		    processed_by = $4, admin_remarks = $5, released_at = $6, refunded_at = $7, updated_at = $8
		WHERE id = $9 AND settlement_status = 'held'
	`

	result, err := r.querier.Exec(ctx, query,
		txn.SettlementStatus,
		txn.ProviderAmount,
		txn.CustomerAmount,
		txn.ProcessedBy,
		txn.AdminRemarks,
		txn.ReleasedAt,
		txn.RefundedAt,
		txn.UpdatedAt,
		txn.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update settlement", "id", txn.ID.String(), "error", err)
		return fmt.Errorf("failed to update settlement: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.settlementConflict(ctx, txn.ID)
	}

	return nil
}

// UpdateCaptureState finalizes a pending row to held or failed, persisting the
// fee and held amount the confirmed charge reported. Guarded by the pending
// precondition so a webhook and the reconciliation worker cannot both promote
// the same row.
func (r *PaymentRepository) UpdateCaptureState(ctx context.Context, txn *payment.Transaction) error {
	query := `
		UPDATE payment_transactions
		SET settlement_status = $1, external_id = $2, gateway_status = $3,
		    gateway_fee = $4, held_amount = $5, failure_reason = $6, updated_at = $7
		WHERE id = $8 AND settlement_status IN ('pending_action', 'pending_verification')
	`

	result, err := r.querier.Exec(ctx, query,
		txn.SettlementStatus,
		txn.ExternalID,
		txn.GatewayStatus,
		txn.GatewayFee,
		txn.HeldAmount,
		txn.FailureReason,
		txn.UpdatedAt,
		txn.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update capture state", "id", txn.ID.String(), "error", err)
		return fmt.Errorf("failed to update capture state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.settlementConflict(ctx, txn.ID)
	}

	return nil
}

// settlementConflict reports the losing side of a guarded write, reading the
// winner's status for the error detail.
func (r *PaymentRepository) settlementConflict(ctx context.Context, id uuid.UUID) error {
	var current payment.SettlementStatus
	err := r.querier.QueryRow(ctx,
		`SELECT settlement_status FROM payment_transactions WHERE id = $1`, id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.ErrTransactionNotFound{TransactionID: id}
		}
		return fmt.Errorf("failed to read settlement status after conflict: %w", err)
	}
	return payment.ErrSettlementConflict{TransactionID: id, Current: current}
}

// appendPendingFilter extends a WHERE clause with the optional filter fields
func appendPendingFilter(query string, args []interface{}, filter payment.PendingFilter) (string, []interface{}) {
	if filter.PayeeID != nil {
		args = append(args, *filter.PayeeID)
		query += "\n\t\tAND payee_id = $" + strconv.Itoa(len(args))
	}
	if filter.ServiceType != nil {
		args = append(args, *filter.ServiceType)
		query += "\n\t\tAND service_type = $" + strconv.Itoa(len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += "\n\t\tAND created_at >= $" + strconv.Itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += "\n\t\tAND created_at <= $" + strconv.Itoa(len(args))
	}
	return query, args
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PaymentRepository) scanOne(row rowScanner) (*payment.Transaction, error) {
	var txn payment.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.BookingID,
		&txn.PayerID,
		&txn.PayeeID,
		&txn.Amount,
		&txn.GatewayFee,
		&txn.HeldAmount,
		&txn.Currency,
		&txn.Method,
		&txn.ServiceType,
		&txn.ExternalID,
		&txn.IdempotencyKey,
		&txn.GatewayStatus,
		&txn.SettlementStatus,
		&txn.ProviderAmount,
		&txn.CustomerAmount,
		&txn.ProcessedBy,
		&txn.AdminRemarks,
		&txn.FailureReason,
		&txn.CorrelationID,
		&txn.ReleasedAt,
		&txn.RefundedAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
