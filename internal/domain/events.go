package domain

import (
	"encoding/json"
	"time"
)

// Inbound event names (client to relay).
const (
	EventUserConnected    = "user-connected"
	EventSendMessage      = "send-message"
	EventMessageDelivered = "message-delivered"
	EventMessagesRead     = "messages-read"
	EventTyping           = "typing"
	EventStopTyping       = "stop-typing"
	EventPing             = "ping"
)

// Outbound event names (relay to client).
const (
	EventReceiveMessage      = "receive-message"
	EventMessageSent         = "message-sent"
	EventMessageError        = "message-error"
	EventMessageStatusUpdate = "message-status-update"
	EventMessagesReadUpdate  = "messages-read-update"
	EventUserStatus          = "user-status"
	EventUserTyping          = "user-typing"
	EventUserStopTyping      = "user-stop-typing"
	EventNewUserRegistered   = "new-user-registered"
	EventPong                = "pong"
)

// Event is a single frame exchanged over a live connection.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Frame is the inbound form of Event with the payload left undecoded.
type Frame struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is the plaintext view of a message pushed to a client.
type MessagePayload struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	Ack        bool      `json:"ack,omitempty"`
}

// StatusUpdatePayload is sent with message-status-update.
type StatusUpdatePayload struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
}

// ReadUpdatePayload is sent with messages-read-update.
type ReadUpdatePayload struct {
	RoomID string `json:"roomId"`
}

// UserStatusPayload is broadcast with user-status.
type UserStatusPayload struct {
	UserID   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen *time.Time     `json:"lastSeen,omitempty"`
}

// TypingPayload is relayed with user-typing and user-stop-typing.
type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// ErrorPayload is sent with message-error to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewUserPayload is broadcast with new-user-registered.
type NewUserPayload struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Image    string    `json:"image,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}
