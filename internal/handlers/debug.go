package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dm-service/internal/auth"
	"dm-service/internal/telemetry"
)

const debugTokenTTL = 24 * time.Hour

// RegisterDebugRoutes wires debug-only endpoints. The token route is only
// mounted when a signing secret is configured.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool, jwtSecret string) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	if jwtSecret == "" {
		return
	}
	router.GET("/debug/token/:user_id", func(c *gin.Context) {
		token, err := auth.Issue(jwtSecret, c.Param("user_id"), debugTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
	})
}
