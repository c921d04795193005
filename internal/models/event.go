package models

import "encoding/json"

// Live channel event names.
const (
	EventSendMessage      = "sendMessage"
	EventOpenConversation = "openConversation"

	EventNewMessage     = "newMessage"
	EventOnlineUsers    = "getOnlineUsers"
	EventUnseenMessages = "unseenMessages"
	EventError          = "error"
)

// Event is a server to client frame.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// InboundEvent is a client to server frame; Data is decoded per event name.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessageIntent is the payload of sendMessage.
type SendMessageIntent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content
}

// OpenConversation is the payload of openConversation. An empty PeerID
// closes the active conversation.
type OpenConversation struct {
	PeerID string `json:"peerId"`
}

// ErrorPayload is pushed when a live operation fails.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewMessageEvent(msg Message) Event {
	return Event{Event: EventNewMessage, Data: msg}
}

func OnlineUsersEvent(userIDs []string) Event {
	if userIDs == nil {
		userIDs = []string{}
	}
	return Event{Event: EventOnlineUsers, Data: userIDs}
}

func UnseenMessagesEvent(counts map[string]int) Event {
	return Event{Event: EventUnseenMessages, Data: counts}
}

func ErrorEvent(kind, message string) Event {
	return Event{Event: EventError, Data: ErrorPayload{Kind: kind, Message: message}}
}
