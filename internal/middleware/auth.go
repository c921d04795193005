package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/auth"
)

// AuthMiddleware resolves the caller from a bearer token (or a "token"
// header) and stores the user id under "userID".
func AuthMiddleware(resolver auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromHeader(c.Request.Header)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing authorization"})
			return
		}

		userID, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
