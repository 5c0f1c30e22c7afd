package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// AdminTokenHeader carries the shared admin API secret
	AdminTokenHeader = "X-Admin-Token"

	// AdminIDHeader identifies the admin performing the action; it is recorded
	// on the ledger row as processed_by.
	AdminIDHeader = "X-Admin-ID"

	// AdminIDKey is the key used to store the admin id in the context
	AdminIDKey = "admin_id"
)

// AdminAuth guards the settlement endpoints. The token comparison is constant
// time, and the admin id is mandatory: every settlement decision must be
// attributable to a person.
func AdminAuth(apiToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Invalid or missing admin token",
				},
			})
			return
		}

		adminID := c.GetHeader(AdminIDHeader)
		if adminID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "BAD_REQUEST",
					"message": "X-Admin-ID header is required",
				},
			})
			return
		}

		c.Set(AdminIDKey, adminID)
		c.Next()
	}
}

// GetAdminID retrieves the authenticated admin id from the gin context
func GetAdminID(c *gin.Context) string {
	if id, exists := c.Get(AdminIDKey); exists {
		if adminID, ok := id.(string); ok {
			return adminID
		}
	}
	return ""
}
