package payments_api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marketplace-escrow/internal/config"
	"github.com/marketplace-escrow/internal/payments_api/handler"
	"github.com/marketplace-escrow/internal/payments_api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	cfg *config.Config,
	r *gin.Engine,
	chargeHandler *handler.ChargeHandler,
	webhookHandler *handler.WebhookHandler,
	settlementHandler *handler.SettlementHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Charge operations
		charges := v1.Group("/charges")
		{
			charges.POST("", chargeHandler.Create)
			charges.GET("/:id", chargeHandler.GetByID)
		}

		// Gateway status callbacks; authenticated by HMAC signature, not admin token
		v1.POST("/webhooks/gateway", webhookHandler.Receive)

		// Administrative settlement operations
		settlements := v1.Group("/settlements")
		settlements.Use(middleware.AdminAuth(cfg.Admin.APIToken))
		{
			settlements.GET("/pending", settlementHandler.ListPending)
			settlements.POST("/:id/release", settlementHandler.Release)
			settlements.POST("/:id/refund", settlementHandler.Refund)
			settlements.POST("/:id/reject", settlementHandler.Reject)
			settlements.POST("/:id/partial", settlementHandler.PartialSettle)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
