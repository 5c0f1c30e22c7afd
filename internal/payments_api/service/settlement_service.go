package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/platform/messaging/producers"
	"github.com/shopspring/decimal"
)

// SettlementServiceImpl implements the SettlementService interface. Every
// transition runs inside one database transaction: lock the row, apply the
// domain transition, write it back with the SQL-level precondition guard.
// Notifications are published only after the transaction commits.
type SettlementServiceImpl struct {
	paymentRepo payment.Repository
	txRunner    TxRunner
	notifier    producers.MessagePublisher
	logger      *slog.Logger
}

// NewSettlementService creates a new settlement service
func NewSettlementService(logger *slog.Logger, paymentRepo payment.Repository, txRunner TxRunner, notifier producers.MessagePublisher) SettlementService {
	return &SettlementServiceImpl{
		paymentRepo: paymentRepo,
		txRunner:    txRunner,
		notifier:    notifier,
		logger:      logger,
	}
}

// Release credits the full held amount to the provider
func (s *SettlementServiceImpl) Release(ctx context.Context, id uuid.UUID, adminID string) (*payment.Transaction, error) {
	return s.settle(ctx, id, shared.PayoutEventReleased, func(txn *payment.Transaction) error {
		return txn.Release(adminID)
	})
}

// Refund returns the full held amount to the customer
func (s *SettlementServiceImpl) Refund(ctx context.Context, id uuid.UUID, adminID, remarks string) (*payment.Transaction, error) {
	return s.settle(ctx, id, shared.PayoutEventRefunded, func(txn *payment.Transaction) error {
		if err := txn.Refund(adminID); err != nil {
			return err
		}
		txn.AdminRemarks = remarks
		return nil
	})
}

// Reject resolves a dispute against the provider; remarks are mandatory
func (s *SettlementServiceImpl) Reject(ctx context.Context, id uuid.UUID, adminID, remarks string) (*payment.Transaction, error) {
	return s.settle(ctx, id, shared.PayoutEventRejected, func(txn *payment.Transaction) error {
		return txn.Reject(adminID, remarks)
	})
}

// PartialSettle splits the held amount between provider and customer, by
// explicit amounts or by provider percentage.
func (s *SettlementServiceImpl) PartialSettle(ctx context.Context, id uuid.UUID, adminID string, split PartialSplit, remarks string) (*payment.Transaction, error) {
	return s.settle(ctx, id, shared.PayoutEventPartial, func(txn *payment.Transaction) error {
		providerAmount, customerAmount, err := resolveSplit(txn.HeldAmount, split)
		if err != nil {
			return err
		}
		return txn.PartialSettle(providerAmount, customerAmount, adminID, remarks)
	})
}

// settle runs one settlement transition. The row lock and the guarded write
// both live inside the transaction; transition is the domain-level state
// change applied between them.
func (s *SettlementServiceImpl) settle(ctx context.Context, id uuid.UUID, event string, transition func(*payment.Transaction) error) (*payment.Transaction, error) {
	var settled *payment.Transaction

	err := s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.paymentRepo.WithTx(tx)

		txn, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := transition(txn); err != nil {
			return err
		}
		if err := repo.UpdateSettlement(ctx, txn); err != nil {
			return err
		}

		settled = txn
		return nil
	})
	if err != nil {
		s.logger.Warn("Settlement transition failed",
			"transaction_id", id.String(),
			"event", event,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Settlement transition committed",
		"transaction_id", settled.ID.String(),
		"event", event,
		"provider_amount", settled.ProviderAmount.StringFixed(3),
		"customer_amount", settled.CustomerAmount.StringFixed(3),
		"processed_by", settled.ProcessedBy,
	)

	s.notify(ctx, event, settled)
	return settled, nil
}

// notify publishes the payout notification after commit. A publish failure
// never unwinds the settlement: the ledger is the source of truth and
// downstream systems can re-derive missed events from it.
func (s *SettlementServiceImpl) notify(ctx context.Context, event string, txn *payment.Transaction) {
	msg := &shared.PayoutNotification{
		Event:          event,
		TransactionID:  txn.ID,
		BookingID:      txn.BookingID,
		PayerID:        txn.PayerID,
		PayeeID:        txn.PayeeID,
		Currency:       txn.Currency,
		ProviderAmount: txn.ProviderAmount.StringFixed(3),
		CustomerAmount: txn.CustomerAmount.StringFixed(3),
		ProcessedBy:    txn.ProcessedBy,
		Remarks:        txn.AdminRemarks,
		CorrelationID:  txn.CorrelationID,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.notifier.Publish(ctx, txn.ID.String(), msg); err != nil {
		s.logger.Error("Failed to publish payout notification",
			"transaction_id", txn.ID.String(),
			"event", event,
			"error", err,
		)
	}
}

// ListPending returns held rows awaiting a decision plus the total count
func (s *SettlementServiceImpl) ListPending(ctx context.Context, filter payment.PendingFilter, page, perPage int) ([]*payment.Transaction, int64, error) {
	offset := (page - 1) * perPage

	txns, err := s.paymentRepo.ListPending(ctx, filter, perPage, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.paymentRepo.CountPending(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	return txns, total, nil
}

// resolveSplit turns a PartialSplit into concrete amounts. Percentage splits
// are derived from the held amount with the remainder on the customer side;
// when only one explicit amount is given, the other side is the complement of
// the held amount.
func resolveSplit(held decimal.Decimal, split PartialSplit) (decimal.Decimal, decimal.Decimal, error) {
	if split.Percentage != nil {
		return payment.SplitByPercentage(held, *split.Percentage)
	}

	switch {
	case split.ProviderAmount != nil && split.CustomerAmount != nil:
		return *split.ProviderAmount, *split.CustomerAmount, nil
	case split.ProviderAmount != nil:
		return *split.ProviderAmount, held.Sub(*split.ProviderAmount), nil
	case split.CustomerAmount != nil:
		return held.Sub(*split.CustomerAmount), *split.CustomerAmount, nil
	default:
		// Nothing supplied; the domain validation rejects the zero split.
		return decimal.Zero, decimal.Zero, nil
	}
}
