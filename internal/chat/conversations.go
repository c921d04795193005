package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"dm-service/internal/apperr"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

// ConversationService serves the read side: the sidebar, conversation
// history and explicit read receipts.
type ConversationService struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	tracker  *ViewTracker
	locks    *ConversationLocks
	log      *zap.Logger
}

func NewConversationService(messages repositories.MessageRepository, users repositories.UserRepository, tracker *ViewTracker, locks *ConversationLocks, log *zap.Logger) *ConversationService {
	return &ConversationService{
		messages: messages,
		users:    users,
		tracker:  tracker,
		locks:    locks,
		log:      log.Named("conversations"),
	}
}

// Sidebar lists every other user with the caller's unseen count per sender.
// Senders with nothing unseen are omitted from counts.
func (s *ConversationService) Sidebar(ctx context.Context, me string) ([]models.User, map[string]int, error) {
	ctx, span := tracer.Start(ctx, "chat.sidebar")
	defer span.End()

	if strings.TrimSpace(me) == "" {
		return nil, nil, apperr.Unauthenticated("missing user")
	}
	users, err := s.users.ListUsersExcept(ctx, me)
	if err != nil {
		return nil, nil, apperr.Persistence("failed to list users", err)
	}
	counts, err := unseenCounts(ctx, s.messages, me)
	if err != nil {
		return nil, nil, err
	}
	s.tracker.Seed(me)
	return users, counts, nil
}

// Fetch returns the whole conversation between me and peer in send order and
// marks peer's messages to me as seen. Only messages in the returned
// snapshot are marked; their copies come back with Seen set.
func (s *ConversationService) Fetch(ctx context.Context, me, peer string) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "chat.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", me), attribute.String("peer_id", peer))

	me, peer = strings.TrimSpace(me), strings.TrimSpace(peer)
	if me == "" {
		return nil, apperr.Unauthenticated("missing user")
	}
	if peer == "" {
		return nil, apperr.Validation("peer is required")
	}

	key := models.NewConversationKey(me, peer)
	unlock := s.locks.Lock(key.String())
	defer unlock()

	msgs, err := s.messages.Query(ctx, key, time.Time{})
	if err != nil {
		return nil, apperr.Persistence("failed to load conversation", err)
	}

	var ids []string
	var positions []int
	for i, m := range msgs {
		if m.SenderID == peer && m.ReceiverID == me && !m.Seen {
			ids = append(ids, m.ID)
			positions = append(positions, i)
		}
	}
	if len(ids) > 0 {
		if _, err := s.messages.MarkSeen(ctx, ids); err != nil {
			return nil, apperr.Persistence("failed to mark messages seen", err)
		}
		for _, i := range positions {
			msgs[i].Seen = true
		}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// MarkSeen marks one message seen on behalf of its receiver.
func (s *ConversationService) MarkSeen(ctx context.Context, me, messageID string) error {
	ctx, span := tracer.Start(ctx, "chat.mark_seen")
	defer span.End()

	if strings.TrimSpace(me) == "" {
		return apperr.Unauthenticated("missing user")
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return apperr.Persistence("failed to load message", err)
	}
	if msg.ReceiverID != me {
		return apperr.Forbidden("only the receiver can mark a message seen")
	}
	if _, err := s.messages.MarkSeen(ctx, []string{msg.ID}); err != nil {
		return apperr.Persistence("failed to mark message seen", err)
	}
	return nil
}

// Open makes peer the active conversation of the caller's session, marking
// what peer sent so far as seen. An empty peer closes the active
// conversation. A replaced session changes nothing.
func (s *ConversationService) Open(ctx context.Context, me, session, peer string) error {
	peer = strings.TrimSpace(peer)
	if !s.tracker.Open(me, session, peer) || peer == "" {
		return nil
	}
	if _, err := s.Fetch(ctx, me, peer); err != nil {
		return err
	}
	return nil
}

// UnseenCounts returns the caller's unseen messages per sender, omitting
// senders with nothing unseen.
func (s *ConversationService) UnseenCounts(ctx context.Context, me string) (map[string]int, error) {
	return unseenCounts(ctx, s.messages, me)
}

func unseenCounts(ctx context.Context, store repositories.MessageRepository, me string) (map[string]int, error) {
	counts, err := store.UnseenCounts(ctx, me)
	if err != nil {
		return nil, apperr.Persistence("failed to count unseen messages", err)
	}
	out := make(map[string]int, len(counts))
	for peer, n := range counts {
		if n > 0 {
			out[peer] = n
		}
	}
	return out, nil
}
