package gateway

// Inbound payloads. Identity fields are checked against the authenticated
// user by the handler.

type userConnectedIn struct {
	UserID string `json:"userId" validate:"required"`
}

type sendMessageIn struct {
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content"`
}

type messageDeliveredIn struct {
	MessageID string `json:"messageId" validate:"required"`
	SenderID  string `json:"senderId"`
}

type messagesReadIn struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	SenderID string `json:"senderId"`
}

type typingIn struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required,nefield=SenderID"`
}
