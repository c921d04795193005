package models

import (
	"strings"
	"time"
)

// Message is a persisted direct message. Only Seen changes after creation.
type Message struct {
	ID         string    `db:"id" json:"id" bson:"-"`
	SenderID   string    `db:"sender_id" json:"senderId" bson:"sender_id"`
	ReceiverID string    `db:"receiver_id" json:"receiverId" bson:"receiver_id"`
	Text       string    `db:"text" json:"text,omitempty" bson:"text,omitempty"`
	Image      string    `db:"image" json:"image,omitempty" bson:"image,omitempty"`
	Seen       bool      `db:"seen" json:"seen" bson:"seen"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt" bson:"created_at"`
}

// Content is an outbound message intent body. Image holds the raw payload
// (data URI or base64) before it is resolved through the asset store.
type Content struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// HasText reports whether the intent carries non-blank text.
func (c Content) HasText() bool {
	return strings.TrimSpace(c.Text) != ""
}

func (c Content) HasImage() bool {
	return strings.TrimSpace(c.Image) != ""
}

// NewMessage is what the router hands to the durable store. ID and
// CreatedAt are assigned by the store.
type NewMessage struct {
	SenderID   string
	ReceiverID string
	Text       string
	Image      string
}

// ConversationKey is the unordered pair of participants.
type ConversationKey struct {
	A string
	B string
}

// NewConversationKey normalizes the pair so that (a,b) and (b,a) are equal.
func NewConversationKey(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey{A: a, B: b}
}

func (k ConversationKey) String() string {
	return k.A + ":" + k.B
}

// Includes reports whether m belongs to the conversation.
func (k ConversationKey) Includes(m Message) bool {
	return NewConversationKey(m.SenderID, m.ReceiverID) == k
}
