package chat

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"dm-service/internal/apperr"
	"dm-service/internal/assets"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/repositories"
	"dm-service/internal/ws"
)

var tracer = otel.Tracer("dm-service/chat")

// Router validates, stores and delivers direct messages.
type Router struct {
	store    repositories.MessageRepository
	uploader assets.Uploader
	registry *ws.Registry
	tracker  *ViewTracker
	locks    *ConversationLocks
	log      *zap.Logger
}

func NewRouter(store repositories.MessageRepository, uploader assets.Uploader, registry *ws.Registry, tracker *ViewTracker, locks *ConversationLocks, log *zap.Logger) *Router {
	return &Router{
		store:    store,
		uploader: uploader,
		registry: registry,
		tracker:  tracker,
		locks:    locks,
		log:      log.Named("router"),
	}
}

// Route persists a message from senderID to receiverID and pushes it to
// both parties when they are connected. Nothing is stored when the image
// upload fails. Push failures never fail the call.
func (r *Router) Route(ctx context.Context, senderID, receiverID string, content models.Content) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "chat.route", trace.WithAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("receiver_id", receiverID),
	))
	defer span.End()

	msg, err := r.route(ctx, senderID, receiverID, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
		observability.IncMessageRouted(string(apperr.KindOf(err)))
		return models.Message{}, err
	}
	observability.IncMessageRouted("delivered")

	if err := observability.PublishEvent(ctx, observability.RoutingMessageEvents, observability.EventEnvelope{
		EventType: "message_events",
		EventName: "message_routed",
		Payload: map[string]interface{}{
			"message_id":  msg.ID,
			"sender_id":   msg.SenderID,
			"receiver_id": msg.ReceiverID,
			"has_image":   msg.Image != "",
			"seen":        msg.Seen,
		},
	}, observability.BuildHeaders("", span.SpanContext().TraceID().String())); err != nil {
		r.log.Debug("message event publish failed", zap.Error(err))
	}
	return msg, nil
}

func (r *Router) route(ctx context.Context, senderID, receiverID string, content models.Content) (models.Message, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" || receiverID == "" {
		return models.Message{}, apperr.Validation("sender and receiver are required")
	}
	if senderID == receiverID {
		return models.Message{}, apperr.Validation("cannot message yourself")
	}
	if !content.HasText() && !content.HasImage() {
		return models.Message{}, apperr.Validation("message must contain text or an image")
	}

	var imageURL string
	if content.HasImage() {
		start := time.Now()
		url, err := r.uploader.Upload(ctx, content.Image)
		if err != nil {
			observability.ObserveUpload("error", time.Since(start))
			r.log.Warn("image upload failed", zap.String("sender_id", senderID), zap.Error(err))
			return models.Message{}, apperr.Upload(err)
		}
		observability.ObserveUpload("ok", time.Since(start))
		imageURL = url
	}

	var text string
	if content.HasText() {
		text = content.Text
	}

	key := models.NewConversationKey(senderID, receiverID)
	unlock := r.locks.Lock(key.String())
	defer unlock()

	msg, err := r.store.Append(ctx, models.NewMessage{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      imageURL,
	})
	if err != nil {
		r.log.Error("append failed", zap.String("conversation", key.String()), zap.Error(err))
		return models.Message{}, apperr.Persistence("failed to store message", err)
	}

	return r.deliver(ctx, msg), nil
}

// deliver pushes msg to the receiver then echoes it to the sender. Callers
// hold the conversation lock so deliveries keep store order.
func (r *Router) deliver(ctx context.Context, msg models.Message) models.Message {
	if h, ok := r.registry.Lookup(msg.ReceiverID); ok {
		seenNow, notify := r.tracker.Arrive(msg.ReceiverID, h.ID(), msg.SenderID)
		if seenNow {
			if _, err := r.store.MarkSeen(ctx, []string{msg.ID}); err != nil {
				r.log.Warn("auto mark seen failed", zap.String("message_id", msg.ID), zap.Error(err))
			} else {
				msg.Seen = true
			}
		}
		r.push(h, models.NewMessageEvent(msg))
		if notify {
			counts, err := unseenCounts(ctx, r.store, msg.ReceiverID)
			if err != nil {
				r.log.Warn("unseen tally failed", zap.String("user_id", msg.ReceiverID), zap.Error(err))
			} else {
				r.push(h, models.UnseenMessagesEvent(counts))
			}
		}
	}
	if h, ok := r.registry.Lookup(msg.SenderID); ok {
		r.push(h, models.NewMessageEvent(msg))
	}
	return msg
}

func (r *Router) push(h ws.Handle, event models.Event) {
	if err := h.Push(event); err != nil {
		r.log.Info("push failed, dropping connection", zap.String("user_id", h.UserID()), zap.String("event", event.Event), zap.Error(err))
		observability.IncPushFailure(event.Event)
		r.registry.Evict(h)
	}
}
