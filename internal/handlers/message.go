package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/apperr"
	"dm-service/internal/models"
	"dm-service/internal/telemetry"
)

type MessageRouter interface {
	Route(ctx context.Context, senderID, receiverID string, content models.Content) (models.Message, error)
}

type Conversations interface {
	Sidebar(ctx context.Context, me string) ([]models.User, map[string]int, error)
	Fetch(ctx context.Context, me, peer string) ([]models.Message, error)
	MarkSeen(ctx context.Context, me, messageID string) error
}

// MessageHandler serves the direct message endpoints. Every response uses
// the {success, message?, ...} envelope.
type MessageHandler struct {
	router        MessageRouter
	conversations Conversations
	audit         *telemetry.AuditEmitter
}

func NewMessageHandler(router MessageRouter, conversations Conversations, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{router: router, conversations: conversations, audit: audit}
}

// ListUsers returns the sidebar: every other user plus unseen counts.
func (h *MessageHandler) ListUsers(c *gin.Context) {
	users, counts, err := h.conversations.Sidebar(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	if counts == nil {
		counts = map[string]int{}
	}
	respondOK(c, gin.H{"users": users, "unseenMessages": counts})
}

// GetMessages returns the conversation with :id and marks it read.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	messages, err := h.conversations.Fetch(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"messages": messages})
}

// SendMessage sends a message to :id.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var body models.Content
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	userID := c.GetString("userID")
	msg, err := h.router.Route(c.Request.Context(), userID, c.Param("id"), body)
	if err != nil {
		if !apperr.Is(err, apperr.KindValidation) {
			h.audit.Emit(c.Request.Context(), "WARN", "message send failed", requestIDFromContext(c), userIDFromContext(c),
				telemetry.F("receiver_id", c.Param("id")), telemetry.F("kind", string(apperr.KindOf(err))))
		}
		respondError(c, err)
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", "message sent", requestIDFromContext(c), userIDFromContext(c),
		telemetry.F("receiver_id", msg.ReceiverID), telemetry.F("message_id", msg.ID))
	respondOK(c, gin.H{"message": msg})
}

// MarkSeen marks message :id read for its receiver.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	if err := h.conversations.MarkSeen(c.Request.Context(), c.GetString("userID"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// OnlineReader reports the users currently online.
type OnlineReader interface {
	Online(ctx context.Context) ([]string, error)
}

// Status is the unauthenticated liveness probe. It also reports how many
// users are online when that can be read.
func Status(online OnlineReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"success": true, "message": "Server is live"}
		if online != nil {
			if users, err := online.Online(c.Request.Context()); err == nil {
				body["online"] = len(users)
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
