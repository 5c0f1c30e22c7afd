package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/marketplace-escrow/internal/payments_api/middleware"
	"github.com/marketplace-escrow/internal/payments_api/service"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader lets the caller replay a charge request safely. A
// repeated key returns the row the first attempt wrote instead of charging
// again.
const IdempotencyKeyHeader = "Idempotency-Key"

// ChargeHandler handles HTTP requests for charge operations
type ChargeHandler struct {
	chargeService service.ChargeService
	logger        *slog.Logger
}

// NewChargeHandler creates a new charge handler
func NewChargeHandler(logger *slog.Logger, chargeService service.ChargeService) *ChargeHandler {
	return &ChargeHandler{
		chargeService: chargeService,
		logger:        logger,
	}
}

// Create charges a booking. A confirmed capture returns 201 with the held
// row; a redirect flow returns 201 with the URL the payer must visit; a
// decline returns 402 with a user-facing message only.
func (h *ChargeHandler) Create(c *gin.Context) {
	var req CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid charge request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	params, err := h.chargeParams(req)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	params.IdempotencyKey = c.GetHeader(IdempotencyKeyHeader)

	ctx := service.WithCorrelationID(c.Request.Context(), middleware.GetCorrelationID(c))
	result, err := h.chargeService.CreateCharge(ctx, params)
	if err != nil {
		var decline *service.DeclineError
		if errors.As(err, &decline) {
			RespondPaymentDeclined(c, decline.Code, decline.UserMessage)
			return
		}
		if errors.Is(err, payment.ErrInvalidAmount) || errors.Is(err, shared.ErrInvalidCurrency) {
			RespondBadRequest(c, err.Error())
			return
		}
		h.logger.Error("Failed to create charge", "error", err)
		RespondInternalError(c)
		return
	}

	resp := mapTransactionToResponse(result.Transaction)
	resp.RedirectURL = result.RedirectURL

	if result.Transaction.SettlementStatus == payment.StatusPendingVerification {
		// Outcome unknown; tell the caller to poll rather than claim success.
		RespondAccepted(c, resp)
		return
	}
	RespondCreated(c, resp)
}

// GetByID retrieves a payment transaction by its ID, returns 404 if not found
func (h *ChargeHandler) GetByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid transaction ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid transaction ID")
		return
	}

	txn, err := h.chargeService.GetTransaction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound{}) {
			RespondNotFound(c, "Transaction not found")
			return
		}
		h.logger.Error("Failed to get transaction", "id", idParam, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapTransactionToResponse(txn))
}

// chargeParams validates and converts the request body into service params
func (h *ChargeHandler) chargeParams(req CreateChargeRequest) (service.ChargeParams, error) {
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		return service.ChargeParams{}, errors.New("invalid booking_id")
	}
	payerID, err := uuid.Parse(req.PayerID)
	if err != nil {
		return service.ChargeParams{}, errors.New("invalid payer_id")
	}
	payeeID, err := uuid.Parse(req.PayeeID)
	if err != nil {
		return service.ChargeParams{}, errors.New("invalid payee_id")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return service.ChargeParams{}, errors.New("invalid amount")
	}
	if !amount.IsPositive() {
		return service.ChargeParams{}, errors.New("amount must be positive")
	}

	method, err := shared.ParsePaymentMethod(req.Method)
	if err != nil {
		return service.ChargeParams{}, err
	}

	if req.Token == "" && req.SavedCardID == "" {
		return service.ChargeParams{}, errors.New("either token or saved_card_id is required")
	}

	return service.ChargeParams{
		BookingID:   bookingID,
		PayerID:     payerID,
		PayeeID:     payeeID,
		Amount:      amount,
		Currency:    req.Currency,
		Method:      method,
		ServiceType: req.ServiceType,
		Token:       req.Token,
		CustomerID:  req.CustomerID,
		SavedCardID: req.SavedCardID,
		Description: req.Description,
		RedirectURL: req.RedirectURL,
	}, nil
}
