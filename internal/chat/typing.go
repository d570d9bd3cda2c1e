package chat

import (
	"context"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/registry"
)

// TypingKind selects the relayed typing signal.
type TypingKind int

const (
	TypingStart TypingKind = iota
	TypingStop
)

// TypingRelay forwards typing signals to live receivers. Nothing is stored.
type TypingRelay struct {
	registry *registry.Registry
}

// NewTypingRelay creates a TypingRelay.
func NewTypingRelay(reg *registry.Registry) *TypingRelay {
	return &TypingRelay{registry: reg}
}

// Relay forwards the signal and reports whether the receiver was online.
func (t *TypingRelay) Relay(ctx context.Context, senderID, receiverID string, kind TypingKind) bool {
	name := domain.EventUserTyping
	if kind == TypingStop {
		name = domain.EventUserStopTyping
	}
	return t.registry.Push(ctx, receiverID, domain.Event{
		Name: name,
		Data: domain.TypingPayload{SenderID: senderID, ReceiverID: receiverID},
	})
}
