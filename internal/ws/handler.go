package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"dm-service/internal/auth"
	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// Dispatcher handles inbound live events for a connected user. A non-nil
// reply is pushed back to that user's connection.
type Dispatcher interface {
	Connected(userID, connID string)
	Dispatch(ctx context.Context, userID, connID string, in models.InboundEvent) *models.Event
	Disconnected(userID, connID string)
}

// Handler upgrades authenticated requests into registered live channels.
type Handler struct {
	registry         *Registry
	resolver         auth.Resolver
	dispatcher       Dispatcher
	allowQueryUserID bool
	readLimit        int64
	log              *zap.Logger
}

// NewHandler constructs a Handler. When allowQueryUserID is set a bare
// userId query parameter is accepted in place of a token.
func NewHandler(registry *Registry, resolver auth.Resolver, dispatcher Dispatcher, allowQueryUserID bool, readLimit int64, log *zap.Logger) *Handler {
	return &Handler{
		registry:         registry,
		resolver:         resolver,
		dispatcher:       dispatcher,
		allowQueryUserID: allowQueryUserID,
		readLimit:        readLimit,
		log:              log.Named("ws"),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the connection.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.identify(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	meta := observability.ClientMetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info, h.readLimit, h.log)

	go client.WritePump()
	h.dispatcher.Connected(userID, info.ConnID)
	h.registry.Register(userID, client)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publish(ctx, "ws_connect", info, "")
	h.log.Info("connected", zap.String("user_id", userID), zap.String("conn_id", info.ConnID))

	// The request context ends when this handler returns; the session keeps
	// its trace but gets its own lifetime.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go h.serve(sessionCtx, cancel, client)
}

func (h *Handler) serve(ctx context.Context, cancel context.CancelFunc, client *Client) {
	info := client.Info()
	var closeReason string
	defer func() {
		cancel()
		h.registry.Unregister(info.UserID, client)
		h.dispatcher.Disconnected(info.UserID, info.ConnID)
		client.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publish(ctx, "ws_disconnect", info, closeReason)
		h.log.Info("disconnected", zap.String("user_id", info.UserID), zap.String("conn_id", info.ConnID), zap.String("reason", closeReason))
	}()

	err := client.ReadFrames(func(in models.InboundEvent) {
		observability.IncWSEvent(eventLabel(in.Event))
		reply := h.dispatcher.Dispatch(ctx, info.UserID, info.ConnID, in)
		if reply == nil {
			return
		}
		if err := client.Push(*reply); err != nil {
			observability.IncPushFailure(reply.Event)
			h.registry.Evict(client)
		}
	})
	closeReason = err.Error()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		observability.IncWSEvent("ws_error")
	}
}

func (h *Handler) identify(c *gin.Context) (string, error) {
	token := auth.TokenFromHeader(c.Request.Header)
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token != "" {
		return h.resolver.Resolve(c.Request.Context(), token)
	}
	if h.allowQueryUserID {
		if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
			return userID, nil
		}
	}
	return "", auth.ErrInvalidToken
}

func (h *Handler) publish(ctx context.Context, event string, info ConnInfo, reason string) {
	err := observability.PublishEvent(ctx, observability.RoutingWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	if err != nil {
		h.log.Debug("ws event publish failed", zap.String("event", event), zap.Error(err))
	}
}

// eventLabel bounds the metric label set to known inbound events.
func eventLabel(event string) string {
	switch event {
	case models.EventSendMessage, models.EventOpenConversation:
		return event
	default:
		return "unknown_event"
	}
}
