package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/marketplace-escrow/internal/gateway"
	"github.com/marketplace-escrow/internal/payments_api/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func webhookTestRouter(svc service.ChargeService, verifier service.GatewayAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(newTestLogger(), svc, verifier)
	r.POST("/api/v1/webhooks/gateway", h.Receive)
	return r
}

func TestWebhookHandler_Receive(t *testing.T) {
	body := []byte(`{"charge_id":"chg_ext_1","status":"CAPTURED"}`)

	t.Run("ValidSignatureApplied", func(t *testing.T) {
		svc := new(MockChargeService)
		verifier := new(MockGatewayAPI)
		router := webhookTestRouter(svc, verifier)

		verifier.On("VerifyWebhookSignature", body, "good-signature").Return(true).Once()
		svc.On("HandleWebhook", mock.Anything, gateway.WebhookEvent{
			ChargeID: "chg_ext_1",
			Status:   "CAPTURED",
		}).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, "good-signature")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
		verifier.AssertExpectations(t)
	})

	t.Run("FeeParsedFromPayload", func(t *testing.T) {
		svc := new(MockChargeService)
		verifier := new(MockGatewayAPI)
		router := webhookTestRouter(svc, verifier)
		feeBody := []byte(`{"charge_id":"chg_ext_1","status":"CAPTURED","fee":"1.250"}`)

		verifier.On("VerifyWebhookSignature", feeBody, "good-signature").Return(true).Once()
		svc.On("HandleWebhook", mock.Anything, mock.MatchedBy(func(event gateway.WebhookEvent) bool {
			return event.Fee.Equal(decimal.RequireFromString("1.250"))
		})).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(feeBody))
		req.Header.Set(SignatureHeader, "good-signature")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("TamperedBodyRejectedBeforeParsing", func(t *testing.T) {
		svc := new(MockChargeService)
		verifier := new(MockGatewayAPI)
		router := webhookTestRouter(svc, verifier)
		tampered := []byte(`{"charge_id":"chg_ext_1","status":"DECLINED"}`)

		verifier.On("VerifyWebhookSignature", tampered, "stale-signature").Return(false).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(tampered))
		req.Header.Set(SignatureHeader, "stale-signature")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		svc.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything)
	})

	t.Run("MissingSignatureRejected", func(t *testing.T) {
		svc := new(MockChargeService)
		verifier := new(MockGatewayAPI)
		router := webhookTestRouter(svc, verifier)

		verifier.On("VerifyWebhookSignature", body, "").Return(false).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ProcessingFailureReturns500ForRedelivery", func(t *testing.T) {
		svc := new(MockChargeService)
		verifier := new(MockGatewayAPI)
		router := webhookTestRouter(svc, verifier)

		verifier.On("VerifyWebhookSignature", body, "good-signature").Return(true).Once()
		svc.On("HandleWebhook", mock.Anything, mock.Anything).Return(assert.AnError).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, "good-signature")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
