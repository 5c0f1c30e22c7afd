package service

import (
	"context"

	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/gateway"
)

// ReconciliationService resolves charges whose outcome the gateway never
// confirmed during the synchronous attempt.
type ReconciliationService interface {
	Reconcile(ctx context.Context, request *shared.ReconciliationRequest) error
}

// GatewayStatusAPI is the read-only slice of the gateway client the worker
// needs. Charges are looked up by external id when one exists, otherwise by
// the idempotency key sent on the original attempt.
type GatewayStatusAPI interface {
	GetCharge(ctx context.Context, chargeID string) (*gateway.Outcome, error)
	GetChargeByIdempotencyKey(ctx context.Context, idempotencyKey string) (*gateway.Outcome, error)
}
