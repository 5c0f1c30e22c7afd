package handler

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/gateway"
	"github.com/marketplace-escrow/internal/payments_api/service"
	"github.com/stretchr/testify/mock"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// MockChargeService mocks service.ChargeService
type MockChargeService struct {
	mock.Mock
}

func (m *MockChargeService) CreateCharge(ctx context.Context, params service.ChargeParams) (*service.ChargeResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ChargeResult), args.Error(1)
}

func (m *MockChargeService) HandleWebhook(ctx context.Context, event gateway.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockChargeService) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

// MockSettlementService mocks service.SettlementService
type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) Release(ctx context.Context, id uuid.UUID, adminID string) (*payment.Transaction, error) {
	args := m.Called(ctx, id, adminID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockSettlementService) Refund(ctx context.Context, id uuid.UUID, adminID, remarks string) (*payment.Transaction, error) {
	args := m.Called(ctx, id, adminID, remarks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockSettlementService) Reject(ctx context.Context, id uuid.UUID, adminID, remarks string) (*payment.Transaction, error) {
	args := m.Called(ctx, id, adminID, remarks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockSettlementService) PartialSettle(ctx context.Context, id uuid.UUID, adminID string, split service.PartialSplit, remarks string) (*payment.Transaction, error) {
	args := m.Called(ctx, id, adminID, split, remarks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockSettlementService) ListPending(ctx context.Context, filter payment.PendingFilter, page, perPage int) ([]*payment.Transaction, int64, error) {
	args := m.Called(ctx, filter, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*payment.Transaction), args.Get(1).(int64), args.Error(2)
}

// MockGatewayAPI mocks service.GatewayAPI for webhook verification
type MockGatewayAPI struct {
	mock.Mock
}

func (m *MockGatewayAPI) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Outcome), args.Error(1)
}

func (m *MockGatewayAPI) GetCharge(ctx context.Context, chargeID string) (*gateway.Outcome, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Outcome), args.Error(1)
}

func (m *MockGatewayAPI) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	args := m.Called(rawBody, signature)
	return args.Bool(0)
}
