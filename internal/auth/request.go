package auth

import (
	"net/http"
	"strings"
)

// TokenFromHeader returns the bearer token from Authorization, falling back
// to a bare "token" header.
func TokenFromHeader(h http.Header) string {
	if authz := strings.TrimSpace(h.Get("Authorization")); authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(h.Get("token"))
}
