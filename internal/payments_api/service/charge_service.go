package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/gateway"
	"github.com/marketplace-escrow/internal/platform/messaging/producers"
)

// ChargeServiceImpl implements the ChargeService interface
type ChargeServiceImpl struct {
	paymentRepo         payment.Repository
	gatewayAPI          GatewayAPI
	reconciliationQueue producers.MessagePublisher
	logger              *slog.Logger
}

// NewChargeService creates a new charge orchestration service
func NewChargeService(logger *slog.Logger, paymentRepo payment.Repository, gatewayAPI GatewayAPI, reconciliationQueue producers.MessagePublisher) ChargeService {
	return &ChargeServiceImpl{
		paymentRepo:         paymentRepo,
		gatewayAPI:          gatewayAPI,
		reconciliationQueue: reconciliationQueue,
		logger:              logger,
	}
}

// CreateCharge performs one logical charge attempt. The gateway call happens
// before any ledger write, so retry sleeps never run inside a database
// transaction. The ledger row is written only when funds are confirmed held
// or their state is genuinely unresolved.
func (s *ChargeServiceImpl) CreateCharge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	correlationID := correlationFromContext(ctx)

	idempotencyKey := params.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = gateway.NewChargeIdempotencyKey()
	} else {
		// A replayed key short-circuits to the row the first attempt wrote.
		existing, err := s.paymentRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("Replayed idempotency key, returning existing transaction",
				"transaction_id", existing.ID.String(),
				"idempotency_key", idempotencyKey,
			)
			return &ChargeResult{Transaction: existing}, nil
		}
	}

	outcome, err := s.gatewayAPI.CreateCharge(ctx, gateway.ChargeRequest{
		Amount:         params.Amount,
		Currency:       params.Currency,
		Method:         params.Method,
		Token:          params.Token,
		CustomerID:     params.CustomerID,
		SavedCardID:    params.SavedCardID,
		Description:    params.Description,
		BookingRef:     params.BookingID.String(),
		RedirectURL:    params.RedirectURL,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.logger.Error("Failed to build charge request",
			"booking_id", params.BookingID.String(),
			"error", err,
		)
		return nil, err
	}

	switch outcome.Status {
	case gateway.OutcomeSucceeded:
		initial := payment.StatusHeld
		if outcome.RequiresAction {
			initial = payment.StatusPendingAction
		}
		txn, err := s.recordTransaction(ctx, params, idempotencyKey, outcome, initial, correlationID)
		if err != nil {
			return nil, err
		}
		return &ChargeResult{Transaction: txn, RedirectURL: outcome.RedirectURL}, nil

	case gateway.OutcomeTerminal:
		// Nothing was captured, so nothing enters the ledger.
		s.logger.Info("Charge declined by gateway",
			"booking_id", params.BookingID.String(),
			"decline_code", outcome.DeclineCode,
		)
		return nil, &DeclineError{Code: outcome.DeclineCode, UserMessage: outcome.UserMessage}

	case gateway.OutcomeExhausted:
		// The charge may or may not exist remotely. Record the ambiguity and
		// hand it to the reconciliation worker; never guess either way.
		txn, err := s.recordTransaction(ctx, params, idempotencyKey, outcome, payment.StatusPendingVerification, correlationID)
		if err != nil {
			return nil, err
		}
		s.enqueueReconciliation(ctx, txn, 1)
		return &ChargeResult{Transaction: txn}, nil

	default:
		return nil, fmt.Errorf("unexpected gateway outcome status %q", outcome.Status)
	}
}

// recordTransaction writes the ledger row for a charge outcome
func (s *ChargeServiceImpl) recordTransaction(
	ctx context.Context,
	params ChargeParams,
	idempotencyKey string,
	outcome *gateway.Outcome,
	initial payment.SettlementStatus,
	correlationID string,
) (*payment.Transaction, error) {
	txn, err := payment.NewTransaction(
		params.BookingID, params.PayerID, params.PayeeID,
		params.Amount, outcome.Fee,
		params.Currency, params.Method,
		idempotencyKey, initial,
	)
	if err != nil {
		return nil, err
	}
	txn.ServiceType = params.ServiceType
	txn.ExternalID = outcome.ChargeID
	txn.GatewayStatus = outcome.GatewayStatus
	txn.CorrelationID = correlationID

	if err := s.paymentRepo.Create(ctx, txn); err != nil {
		s.logger.Error("Failed to record payment transaction",
			"booking_id", params.BookingID.String(),
			"idempotency_key", idempotencyKey,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Payment transaction recorded",
		"transaction_id", txn.ID.String(),
		"booking_id", params.BookingID.String(),
		"settlement_status", string(txn.SettlementStatus),
	)
	return txn, nil
}

// enqueueReconciliation publishes a reconciliation request for an ambiguous
// outcome. A publish failure is logged but not raised: the row is already in
// pending_verification and a webhook or manual sweep can still resolve it.
func (s *ChargeServiceImpl) enqueueReconciliation(ctx context.Context, txn *payment.Transaction, attempt int) {
	req := &shared.ReconciliationRequest{
		TransactionID:  txn.ID,
		ExternalID:     txn.ExternalID,
		IdempotencyKey: txn.IdempotencyKey,
		Attempt:        attempt,
		CorrelationID:  txn.CorrelationID,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.reconciliationQueue.Publish(ctx, txn.ID.String(), req); err != nil {
		s.logger.Error("Failed to enqueue reconciliation request",
			"transaction_id", txn.ID.String(),
			"error", err,
		)
	}
}

// HandleWebhook applies a verified gateway event to the ledger. Capture-state
// writes are guarded in SQL, so a concurrent reconciliation worker racing this
// webhook cannot double-promote the row.
func (s *ChargeServiceImpl) HandleWebhook(ctx context.Context, event gateway.WebhookEvent) error {
	txn, err := s.findWebhookTarget(ctx, event)
	if err != nil {
		return err
	}
	if txn == nil {
		s.logger.Warn("Webhook for unknown charge ignored",
			"charge_id", event.ChargeID,
			"status", event.Status,
		)
		return nil
	}
	if !txn.IsPending() {
		s.logger.Debug("Webhook for finalized transaction ignored",
			"transaction_id", txn.ID.String(),
			"settlement_status", string(txn.SettlementStatus),
		)
		return nil
	}

	switch event.Status {
	case gateway.StatusCaptured, gateway.StatusAuthorized:
		if err := txn.MarkCaptured(event.ChargeID, event.Status, event.Fee); err != nil {
			return err
		}
	case gateway.StatusInitiated, gateway.StatusInProgress:
		// Still in flight; nothing to apply.
		return nil
	default:
		if err := txn.MarkFailed(event.Status, "gateway webhook reported "+event.Status); err != nil {
			return err
		}
	}

	if err := s.paymentRepo.UpdateCaptureState(ctx, txn); err != nil {
		var conflict payment.ErrSettlementConflict
		if errors.As(err, &conflict) {
			// Lost the race to the reconciliation worker; the row is already final.
			s.logger.Info("Webhook lost capture-state race",
				"transaction_id", txn.ID.String(),
				"current_status", string(conflict.Current),
			)
			return nil
		}
		return err
	}

	s.logger.Info("Webhook applied to transaction",
		"transaction_id", txn.ID.String(),
		"gateway_status", event.Status,
		"settlement_status", string(txn.SettlementStatus),
	)
	return nil
}

// findWebhookTarget resolves the ledger row a webhook refers to, by external
// id first and idempotency key as fallback for charges that never returned an
// id on the synchronous path.
func (s *ChargeServiceImpl) findWebhookTarget(ctx context.Context, event gateway.WebhookEvent) (*payment.Transaction, error) {
	if event.ChargeID != "" {
		txn, err := s.paymentRepo.GetByExternalID(ctx, event.ChargeID)
		if err != nil {
			return nil, err
		}
		if txn != nil {
			return txn, nil
		}
	}
	if event.IdempotencyKey != "" {
		return s.paymentRepo.GetByIdempotencyKey(ctx, event.IdempotencyKey)
	}
	return nil, nil
}

// GetTransaction retrieves a ledger row by id
func (s *ChargeServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return s.paymentRepo.GetByID(ctx, id)
}

// correlationContextKey is the context key the HTTP layer stores the request
// correlation id under.
type correlationContextKey struct{}

// WithCorrelationID returns a context carrying the request correlation id
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationContextKey{}, correlationID)
}

func correlationFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationContextKey{}).(string); ok {
		return id
	}
	return ""
}
