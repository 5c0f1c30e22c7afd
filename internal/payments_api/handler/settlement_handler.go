package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/domain/payment"
	"github.com/marketplace-escrow/internal/payments_api/middleware"
	"github.com/marketplace-escrow/internal/payments_api/service"
	"github.com/shopspring/decimal"
)

// SettlementHandler handles the administrative escrow settlement endpoints.
// All routes behind it require admin authentication; the acting admin id
// comes from the middleware and is recorded on the row.
type SettlementHandler struct {
	settlementService service.SettlementService
	logger            *slog.Logger
}

// NewSettlementHandler creates a new settlement handler
func NewSettlementHandler(logger *slog.Logger, settlementService service.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
		logger:            logger,
	}
}

// Release credits the full held amount to the provider
func (h *SettlementHandler) Release(c *gin.Context) {
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	txn, err := h.settlementService.Release(c.Request.Context(), id, middleware.GetAdminID(c))
	if err != nil {
		h.respondSettlementError(c, err)
		return
	}

	RespondOK(c, mapTransactionToResponse(txn))
}

// Refund returns the full held amount to the customer
func (h *SettlementHandler) Refund(c *gin.Context) {
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	// Body is optional for refunds; remarks default to empty.
	var req RefundRequest
	_ = c.ShouldBindJSON(&req)

	txn, err := h.settlementService.Refund(c.Request.Context(), id, middleware.GetAdminID(c), req.Remarks)
	if err != nil {
		h.respondSettlementError(c, err)
		return
	}

	RespondOK(c, mapTransactionToResponse(txn))
}

// Reject resolves a dispute against the provider; remarks are mandatory
func (h *SettlementHandler) Reject(c *gin.Context) {
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "remarks are required for a rejection")
		return
	}

	txn, err := h.settlementService.Reject(c.Request.Context(), id, middleware.GetAdminID(c), req.Remarks)
	if err != nil {
		h.respondSettlementError(c, err)
		return
	}

	RespondOK(c, mapTransactionToResponse(txn))
}

// PartialSettle splits the held amount between provider and customer
func (h *SettlementHandler) PartialSettle(c *gin.Context) {
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	var req PartialSettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	split, err := h.parseSplit(req)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	txn, err := h.settlementService.PartialSettle(c.Request.Context(), id, middleware.GetAdminID(c), split, req.Remarks)
	if err != nil {
		h.respondSettlementError(c, err)
		return
	}

	RespondOK(c, mapTransactionToResponse(txn))
}

// ListPending returns held transactions awaiting a settlement decision
func (h *SettlementHandler) ListPending(c *gin.Context) {
	var params PendingListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters")
		return
	}

	filter, err := h.pendingFilter(params)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	txns, total, err := h.settlementService.ListPending(c.Request.Context(), filter, params.Page, params.PerPage)
	if err != nil {
		h.logger.Error("Failed to list pending settlements", "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		responses = append(responses, mapTransactionToResponse(txn))
	}

	RespondWithPaginatedData(c, 200, responses, params.Page, params.PerPage, int(total))
}

// transactionID parses the :id path parameter, responding 400 on failure
func (h *SettlementHandler) transactionID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid transaction ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid transaction ID")
		return uuid.Nil, false
	}
	return id, true
}

// parseSplit validates the partial settlement body into a service split. One
// explicit amount is enough; the service computes the other side from the
// held amount.
func (h *SettlementHandler) parseSplit(req PartialSettleRequest) (service.PartialSplit, error) {
	hasAmounts := req.ProviderAmount != nil || req.CustomerAmount != nil
	hasPercentage := req.Percentage != nil

	if hasAmounts == hasPercentage {
		return service.PartialSplit{}, errors.New("provide provider_amount and/or customer_amount, or percentage")
	}

	if hasPercentage {
		pct, err := decimal.NewFromString(*req.Percentage)
		if err != nil {
			return service.PartialSplit{}, errors.New("invalid percentage")
		}
		return service.PartialSplit{Percentage: &pct}, nil
	}

	var split service.PartialSplit
	if req.ProviderAmount != nil {
		providerAmount, err := decimal.NewFromString(*req.ProviderAmount)
		if err != nil {
			return service.PartialSplit{}, errors.New("invalid provider_amount")
		}
		split.ProviderAmount = &providerAmount
	}
	if req.CustomerAmount != nil {
		customerAmount, err := decimal.NewFromString(*req.CustomerAmount)
		if err != nil {
			return service.PartialSplit{}, errors.New("invalid customer_amount")
		}
		split.CustomerAmount = &customerAmount
	}
	return split, nil
}

// pendingFilter converts validated query params into a repository filter
func (h *SettlementHandler) pendingFilter(params PendingListParams) (payment.PendingFilter, error) {
	var filter payment.PendingFilter

	if params.PayeeID != "" {
		payeeID, err := uuid.Parse(params.PayeeID)
		if err != nil {
			return filter, errors.New("invalid payee_id")
		}
		filter.PayeeID = &payeeID
	}
	if params.ServiceType != "" {
		serviceType := params.ServiceType
		filter.ServiceType = &serviceType
	}
	if params.From != "" {
		from, err := time.Parse(time.RFC3339, params.From)
		if err != nil {
			return filter, errors.New("invalid from timestamp, expected RFC3339")
		}
		filter.From = &from
	}
	if params.To != "" {
		to, err := time.Parse(time.RFC3339, params.To)
		if err != nil {
			return filter, errors.New("invalid to timestamp, expected RFC3339")
		}
		filter.To = &to
	}

	return filter, nil
}

// respondSettlementError maps domain errors onto HTTP statuses. Conflicts are
// 409: the caller must refetch and see what actually happened to the row.
func (h *SettlementHandler) respondSettlementError(c *gin.Context, err error) {
	var conflict payment.ErrSettlementConflict
	if errors.As(err, &conflict) {
		RespondConflict(c, conflict.Error())
		return
	}
	var mismatch payment.ErrSplitMismatch
	if errors.As(err, &mismatch) {
		RespondUnprocessable(c, "SPLIT_MISMATCH", mismatch.Error())
		return
	}
	if errors.Is(err, payment.ErrTransactionNotFound{}) {
		RespondNotFound(c, "Transaction not found")
		return
	}
	if errors.Is(err, payment.ErrRemarksRequired) ||
		errors.Is(err, payment.ErrInvalidPercentage) ||
		errors.Is(err, payment.ErrNegativeSplitAmount) {
		RespondBadRequest(c, err.Error())
		return
	}

	h.logger.Error("Settlement operation failed", "error", err)
	RespondInternalError(c)
}
