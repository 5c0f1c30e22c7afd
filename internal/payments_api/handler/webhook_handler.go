package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/marketplace-escrow/internal/gateway"
	"github.com/marketplace-escrow/internal/payments_api/service"
)

// SignatureHeader carries the gateway's HMAC signature of the raw body
const SignatureHeader = "X-Gateway-Signature"

// maxWebhookBodyBytes bounds the raw body read for signature verification
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler receives the payment gateway's status callbacks
type WebhookHandler struct {
	chargeService service.ChargeService
	verifier      service.GatewayAPI
	logger        *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(logger *slog.Logger, chargeService service.ChargeService, verifier service.GatewayAPI) *WebhookHandler {
	return &WebhookHandler{
		chargeService: chargeService,
		verifier:      verifier,
		logger:        logger,
	}
}

// Receive verifies and applies one gateway webhook. Verification runs against
// the raw body bytes before any JSON parsing; a failed signature is a hard
// 401 and the payload is not looked at further.
func (h *WebhookHandler) Receive(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		RespondBadRequest(c, "Unreadable request body")
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if !h.verifier.VerifyWebhookSignature(rawBody, signature) {
		h.logger.Warn("Webhook signature verification failed",
			"client_ip", c.ClientIP(),
		)
		RespondUnauthorized(c, "Invalid webhook signature")
		return
	}

	var event gateway.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		h.logger.Error("Failed to parse webhook payload", "error", err)
		RespondBadRequest(c, "Invalid webhook payload")
		return
	}

	if err := h.chargeService.HandleWebhook(c.Request.Context(), event); err != nil {
		// Non-2xx makes the gateway redeliver; that is what we want for
		// transient failures.
		h.logger.Error("Failed to apply webhook",
			"charge_id", event.ChargeID,
			"status", event.Status,
			"error", err,
		)
		RespondInternalError(c)
		return
	}

	c.Status(http.StatusOK)
}
