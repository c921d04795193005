package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"dm-service/internal/apperr"
	"dm-service/internal/models"
)

// Dispatcher routes inbound live events to one handler per event name.
type Dispatcher struct {
	router        *Router
	conversations *ConversationService
	tracker       *ViewTracker
	handlers      map[string]func(ctx context.Context, userID, connID string, data json.RawMessage) *models.Event
	log           *zap.Logger
}

func NewDispatcher(router *Router, conversations *ConversationService, tracker *ViewTracker, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		router:        router,
		conversations: conversations,
		tracker:       tracker,
		log:           log.Named("dispatch"),
	}
	d.handlers = map[string]func(context.Context, string, string, json.RawMessage) *models.Event{
		models.EventSendMessage:      d.sendMessage,
		models.EventOpenConversation: d.openConversation,
	}
	return d
}

// Connected starts view state for the user's new connection.
func (d *Dispatcher) Connected(userID, connID string) {
	d.tracker.Begin(userID, connID)
}

// Dispatch handles one inbound frame from userID's connection connID. The
// returned event, if any, goes back to the same connection.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, connID string, in models.InboundEvent) *models.Event {
	handler, ok := d.handlers[in.Event]
	if !ok {
		return errorEvent(apperr.Validation("unknown event " + in.Event))
	}
	return handler(ctx, userID, connID, in.Data)
}

// Disconnected drops view state unless a newer connection already owns it.
func (d *Dispatcher) Disconnected(userID, connID string) {
	d.tracker.End(userID, connID)
}

func (d *Dispatcher) sendMessage(ctx context.Context, userID, _ string, data json.RawMessage) *models.Event {
	var intent models.SendMessageIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return errorEvent(apperr.Validation("malformed sendMessage payload"))
	}
	if intent.SenderID != "" && intent.SenderID != userID {
		return errorEvent(apperr.Validation("senderId does not match the connection"))
	}
	// the sender sees the stored message through the router's echo
	if _, err := d.router.Route(ctx, userID, intent.ReceiverID, intent.Content); err != nil {
		d.log.Debug("sendMessage failed", zap.String("user_id", userID), zap.Error(err))
		return errorEvent(err)
	}
	return nil
}

func (d *Dispatcher) openConversation(ctx context.Context, userID, connID string, data json.RawMessage) *models.Event {
	var open models.OpenConversation
	if len(data) > 0 {
		if err := json.Unmarshal(data, &open); err != nil {
			return errorEvent(apperr.Validation("malformed openConversation payload"))
		}
	}
	if err := d.conversations.Open(ctx, userID, connID, open.PeerID); err != nil {
		return errorEvent(err)
	}
	if !d.tracker.Seeded(userID) {
		return nil
	}
	counts, err := d.conversations.UnseenCounts(ctx, userID)
	if err != nil {
		return errorEvent(err)
	}
	ev := models.UnseenMessagesEvent(counts)
	return &ev
}

func errorEvent(err error) *models.Event {
	ev := models.ErrorEvent(string(apperr.KindOf(err)), apperr.Message(err))
	return &ev
}
