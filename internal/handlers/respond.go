package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/apperr"
)

// statusFor maps an error kind to the HTTP status of its envelope.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpload:
		return http.StatusBadGateway
	case apperr.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c *gin.Context, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(apperr.KindOf(err)), gin.H{"success": false, "message": apperr.Message(err)})
}
