package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta is the caller identity a request carries in its headers.
type ClientMeta struct {
	DeviceID  string
	RequestID string
	IP        string
}

func ClientMetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		DeviceID:  strings.TrimSpace(r.Header.Get("X-Device-Id")),
		RequestID: strings.TrimSpace(r.Header.Get("X-Request-Id")),
		IP:        IPFromRequest(r),
	}
}

// IPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the socket peer.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
