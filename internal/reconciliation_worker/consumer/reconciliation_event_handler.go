package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/platform/messaging/producers"
	"github.com/marketplace-escrow/internal/reconciliation_worker/service"
)

// ReconciliationEventHandler handles incoming reconciliation request messages
// from Kafka
type ReconciliationEventHandler struct {
	reconciliationService service.ReconciliationService
	producer              producers.DeadLetterPublisher
	logger                *slog.Logger
}

// NewReconciliationEventHandler creates a new handler
func NewReconciliationEventHandler(
	logger *slog.Logger,
	reconciliationService service.ReconciliationService,
	producer producers.DeadLetterPublisher,
) *ReconciliationEventHandler {
	return &ReconciliationEventHandler{
		reconciliationService: reconciliationService,
		producer:              producer,
		logger:                logger,
	}
}

// HandleMessage processes Kafka messages. Unparseable messages go to the DLQ
// so one poison message cannot block the partition.
func (h *ReconciliationEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var request shared.ReconciliationRequest
	if err := json.Unmarshal(value, &request); err != nil {
		unmarshalErrorMsg := "Failed to unmarshal reconciliation request from Kafka message"
		h.logger.Error(unmarshalErrorMsg,
			"error", err,
			"message_key", string(key),
		)

		if h.producer != nil {
			dlqReason := fmt.Sprintf("%s: %s", unmarshalErrorMsg, err.Error())
			if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, dlqReason); dlqErr != nil {
				h.logger.Error("Failed to publish message to DLQ after unmarshal error",
					"dlq_error", dlqErr,
					"original_error", err,
					"message_key", string(key),
				)
			} else {
				h.logger.Info("Successfully published unprocessable message to DLQ",
					"message_key", string(key),
					"reason", dlqReason,
				)
				// Message handled, commit offset
				return nil
			}
		}
		// Allow Kafka retries
		return fmt.Errorf("failed to unmarshal message value: %w", err)
	}

	logger := h.logger
	if request.CorrelationID != "" {
		logger = h.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Received reconciliation request",
		"transaction_id", request.TransactionID.String(),
		"idempotency_key", request.IdempotencyKey,
		"attempt", request.Attempt,
	)

	if err := h.reconciliationService.Reconcile(ctx, &request); err != nil {
		logger.Error("Failed to reconcile transaction",
			"transaction_id", request.TransactionID.String(),
			"error", err,
		)
		return fmt.Errorf("reconciling transaction %s failed: %w", request.TransactionID.String(), err)
	}

	logger.Info("Successfully reconciled transaction", "transaction_id", request.TransactionID.String())
	return nil
}
