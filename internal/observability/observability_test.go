package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingPublisher struct {
	keys []string
	err  error
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	p.keys = append(p.keys, routingKey)
	return p.err
}

func TestPublishEventWithoutPublisherIsNoop(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingMessageEvents, EventEnvelope{}, nil))
}

func TestPublishEventDelegates(t *testing.T) {
	pub := &recordingPublisher{err: assert.AnError}
	SetPublisher(pub)
	defer SetPublisher(nil)

	err := PublishEvent(context.Background(), RoutingPresenceEvents, EventEnvelope{EventName: "presence_changed"}, nil)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{RoutingPresenceEvents}, pub.keys)
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Equal(t, map[string]string{"x-request-id": "r"}, BuildHeaders("r", ""))
}

func TestIPFromRequestPrefersForwarded(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.5:4242"
	assert.Equal(t, "192.168.1.5", IPFromRequest(req))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bad")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestClientMetaFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Device-Id", "phone")
	req.Header.Set("X-Request-Id", "req-9")
	req.Header.Set("X-Real-IP", "172.16.0.3")

	assert.Equal(t, ClientMeta{DeviceID: "phone", RequestID: "req-9", IP: "172.16.0.3"}, ClientMetaFromRequest(req))
}
