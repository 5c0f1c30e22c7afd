package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/gateway"
)

// ErrOutcomeStillAmbiguous signals that the gateway could not give a
// definitive answer yet. The message offset is not committed so the request
// is redelivered and retried later.
var ErrOutcomeStillAmbiguous = errors.New("charge outcome is still ambiguous at the gateway")

// ReconciliationServiceImpl resolves pending_verification rows by querying
// the gateway for the authoritative charge state. It never guesses: a row is
// promoted to held or finalized as failed only on a definitive gateway
// answer, and an ambiguous answer leaves the row untouched for a later pass.
type ReconciliationServiceImpl struct {
	paymentRepo payment.Repository
	gatewayAPI  GatewayStatusAPI
	logger      *slog.Logger
}

func NewReconciliationService(
	logger *slog.Logger,
	paymentRepo payment.Repository,
	gatewayAPI GatewayStatusAPI,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		paymentRepo: paymentRepo,
		gatewayAPI:  gatewayAPI,
		logger:      logger,
	}
}

// Reconcile looks up the ledger row and the gateway-side charge and converges
// the two. Rows already finalized by a webhook are skipped; losing the
// capture-state race to a webhook that lands mid-flight is equally benign.
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, request *shared.ReconciliationRequest) error {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}

	txn, err := s.paymentRepo.GetByID(ctx, request.TransactionID)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound{}) {
			logger.Warn("Reconciliation request references a missing ledger row, dropping",
				"transaction_id", request.TransactionID.String(),
			)
			return nil
		}
		return fmt.Errorf("failed to load transaction %s: %w", request.TransactionID.String(), err)
	}

	if !txn.IsPending() {
		logger.Info("Transaction already finalized, nothing to reconcile",
			"transaction_id", txn.ID.String(),
			"settlement_status", string(txn.SettlementStatus),
		)
		return nil
	}

	outcome, err := s.lookupCharge(ctx, txn)
	if err != nil {
		if errors.Is(err, gateway.ErrChargeNotFound) {
			// The charge never reached the gateway. The payer was not
			// debited, so the row can be finalized safely.
			logger.Info("Gateway has no record of the charge, finalizing as failed",
				"transaction_id", txn.ID.String(),
				"idempotency_key", txn.IdempotencyKey,
			)
			if markErr := txn.MarkFailed(gateway.StatusUnknown, "gateway has no record of the charge"); markErr != nil {
				return nil
			}
			return s.applyCaptureState(ctx, logger, txn)
		}
		return fmt.Errorf("gateway lookup failed for transaction %s: %w", txn.ID.String(), err)
	}

	switch outcome.Status {
	case gateway.OutcomeSucceeded:
		if outcome.RequiresAction {
			// The payer has not completed the redirect step. Leave the row
			// pending and let the request redeliver.
			logger.Info("Charge is awaiting payer action, deferring",
				"transaction_id", txn.ID.String(),
				"gateway_status", outcome.GatewayStatus,
			)
			return ErrOutcomeStillAmbiguous
		}
		if markErr := txn.MarkCaptured(outcome.ChargeID, outcome.GatewayStatus, outcome.Fee); markErr != nil {
			return nil
		}
		logger.Info("Gateway confirmed capture, promoting transaction to held",
			"transaction_id", txn.ID.String(),
			"external_id", outcome.ChargeID,
		)
		return s.applyCaptureState(ctx, logger, txn)

	case gateway.OutcomeTerminal:
		if markErr := txn.MarkFailed(outcome.GatewayStatus, outcome.DeclineCode); markErr != nil {
			return nil
		}
		logger.Info("Gateway reported a terminal charge state, finalizing as failed",
			"transaction_id", txn.ID.String(),
			"gateway_status", outcome.GatewayStatus,
			"decline_code", outcome.DeclineCode,
		)
		return s.applyCaptureState(ctx, logger, txn)

	default:
		// Exhausted again. Nothing definitive, try later.
		logger.Warn("Gateway lookup exhausted its retry budget, deferring",
			"transaction_id", txn.ID.String(),
			"attempt", request.Attempt,
			"last_error", outcome.LastError,
		)
		return ErrOutcomeStillAmbiguous
	}
}

// lookupCharge prefers the external id when the original attempt got far
// enough to receive one
func (s *ReconciliationServiceImpl) lookupCharge(ctx context.Context, txn *payment.Transaction) (*gateway.Outcome, error) {
	if txn.ExternalID != "" {
		return s.gatewayAPI.GetCharge(ctx, txn.ExternalID)
	}
	return s.gatewayAPI.GetChargeByIdempotencyKey(ctx, txn.IdempotencyKey)
}

// applyCaptureState persists the finalized row. A conflict means a webhook
// finalized it first, which is the desired end state either way.
func (s *ReconciliationServiceImpl) applyCaptureState(ctx context.Context, logger *slog.Logger, txn *payment.Transaction) error {
	if err := s.paymentRepo.UpdateCaptureState(ctx, txn); err != nil {
		var conflict payment.ErrSettlementConflict
		if errors.As(err, &conflict) {
			logger.Info("Transaction was finalized by another actor during reconciliation",
				"transaction_id", txn.ID.String(),
				"current_status", string(conflict.Current),
			)
			return nil
		}
		return fmt.Errorf("failed to persist capture state for transaction %s: %w", txn.ID.String(), err)
	}
	return nil
}
