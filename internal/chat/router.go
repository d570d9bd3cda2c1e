// Package chat routes direct messages between two users.
package chat

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/shsh-chat/internal/delivery"
	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/metrics"
	"github.com/ashureev/shsh-chat/internal/registry"
	"github.com/ashureev/shsh-chat/internal/store"
	"github.com/samber/lo"
)

// MaxContentBytes bounds the plaintext of a single message.
const MaxContentBytes = 8192

// Cipher seals and opens message envelopes.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// SendRequest is a message submitted by SenderID.
type SendRequest struct {
	RoomID     string
	SenderID   string
	ReceiverID string
	Content    string
}

// Ack confirms that ReceiverID's client received MessageID.
type Ack struct {
	MessageID  string
	SenderID   string
	ReceiverID string
}

// RoomMessage is one decrypted message of a room. Err is set, and Content
// left empty, when the stored envelope could not be opened.
type RoomMessage struct {
	domain.MessagePayload
	DecodeError bool  `json:"decodeError,omitempty"`
	Err         error `json:"-"`
}

// Conversation summarizes a user's exchange with one peer.
type Conversation struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Image         string     `json:"image,omitempty"`
	IsOnline      bool       `json:"isOnline"`
	LastSeen      time.Time  `json:"lastSeen"`
	UnreadCount   int64      `json:"unreadCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// Router orchestrates the send, acknowledge, read and fetch flows.
type Router struct {
	messages store.MessageStore
	users    store.UserDirectory
	cipher   Cipher
	machine  *delivery.Machine
	registry *registry.Registry
	logger   *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(repo store.Repository, cipher Cipher, machine *delivery.Machine, reg *registry.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		messages: repo,
		users:    repo,
		cipher:   cipher,
		machine:  machine,
		registry: reg,
		logger:   logger,
	}
}

func validateSend(req SendRequest) (string, error) {
	switch {
	case req.SenderID == "" || req.ReceiverID == "":
		return "", fmt.Errorf("%w: sender and receiver are required", domain.ErrValidation)
	case !domain.ValidParticipant(req.SenderID) || !domain.ValidParticipant(req.ReceiverID):
		return "", fmt.Errorf("%w: user ids must not contain %q", domain.ErrValidation, domain.RoomSeparator)
	case req.SenderID == req.ReceiverID:
		return "", fmt.Errorf("%w: cannot message yourself", domain.ErrValidation)
	case strings.TrimSpace(req.Content) == "":
		return "", fmt.Errorf("%w: message is empty", domain.ErrValidation)
	case len(req.Content) > MaxContentBytes:
		return "", fmt.Errorf("%w: message exceeds %d bytes", domain.ErrValidation, MaxContentBytes)
	}

	roomID := domain.RoomID(req.SenderID, req.ReceiverID)
	if req.RoomID != "" && req.RoomID != roomID {
		return "", fmt.Errorf("%w: room %q does not match participants", domain.ErrValidation, req.RoomID)
	}
	return roomID, nil
}

// SendMessage persists req and pushes it to the receiver when online. The
// message-sent confirmation goes to origin, or to the sender's live
// connection when origin is nil. Nothing is persisted or pushed on error.
func (r *Router) SendMessage(ctx context.Context, origin registry.Conn, req SendRequest) (*domain.Message, error) {
	roomID, err := validateSend(req)
	if err != nil {
		return nil, err
	}

	receiverCipher, err := r.cipher.Encrypt(req.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypt receiver copy: %w", err)
	}
	senderCipher, err := r.cipher.Encrypt(req.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypt sender copy: %w", err)
	}

	msg := &domain.Message{
		RoomID:         roomID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		ReceiverCipher: receiverCipher,
		SenderCipher:   senderCipher,
		Status:         domain.StatusSent,
	}
	if err := r.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	if conn, ok := r.registry.Lookup(req.ReceiverID); ok {
		changed, err := r.machine.MarkDelivered(ctx, msg.ID)
		if err != nil {
			r.logger.Warn("Failed to mark message delivered", "message_id", msg.ID, "error", err)
		} else if changed {
			msg.Status = domain.StatusDelivered
		}

		payload := toPayload(msg, req.Content)
		payload.Ack = true
		r.registry.Send(ctx, conn, domain.Event{Name: domain.EventReceiveMessage, Data: payload})
	}

	sent := domain.Event{Name: domain.EventMessageSent, Data: toPayload(msg, req.Content)}
	if origin != nil {
		r.registry.Send(ctx, origin, sent)
	} else {
		r.registry.Push(ctx, req.SenderID, sent)
	}

	metrics.MessagesSent.WithLabelValues(msg.Status.String()).Inc()
	r.logger.Info("Message routed",
		"message_id", msg.ID,
		"room_id", roomID,
		"sender_id", req.SenderID,
		"receiver_id", req.ReceiverID,
		"status", msg.Status.String())
	return msg, nil
}

// AcknowledgeDelivered marks ack.MessageID delivered and tells the sender.
// Unknown messages and acks from anyone but the receiver are ignored.
func (r *Router) AcknowledgeDelivered(ctx context.Context, ack Ack) error {
	msg, err := r.messages.GetMessage(ctx, ack.MessageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		r.logger.Debug("Delivery ack for unknown message", "message_id", ack.MessageID)
		return nil
	}
	if ack.ReceiverID != "" && msg.ReceiverID != ack.ReceiverID {
		r.logger.Warn("Delivery ack from non-receiver ignored", "message_id", msg.ID, "user_id", ack.ReceiverID)
		return nil
	}
	if ack.SenderID != "" && ack.SenderID != msg.SenderID {
		r.logger.Debug("Delivery ack names wrong sender", "message_id", msg.ID, "sender_id", ack.SenderID)
	}

	changed, err := r.machine.MarkDelivered(ctx, msg.ID)
	if err != nil {
		return err
	}
	if changed {
		r.registry.Push(ctx, msg.SenderID, domain.Event{
			Name: domain.EventMessageStatusUpdate,
			Data: domain.StatusUpdatePayload{MessageID: msg.ID, Status: domain.StatusDelivered},
		})
	}
	return nil
}

// MarkRoomRead marks every message sent to receiverID in roomID as read and
// sends one messages-read-update to the other participant. senderID may be
// empty, in which case it is derived from the room.
func (r *Router) MarkRoomRead(ctx context.Context, roomID, receiverID, senderID string) (int64, error) {
	peer, ok := domain.PeerOf(roomID, receiverID)
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", domain.ErrNotParticipant, receiverID, roomID)
	}
	if senderID == "" {
		senderID = peer
	}
	if senderID != peer {
		return 0, fmt.Errorf("%w: sender %q is not in room %q", domain.ErrValidation, senderID, roomID)
	}

	n, err := r.machine.MarkRoomRead(ctx, roomID, receiverID)
	if err != nil {
		return 0, err
	}

	r.registry.Push(ctx, senderID, domain.Event{
		Name: domain.EventMessagesReadUpdate,
		Data: domain.ReadUpdatePayload{RoomID: roomID},
	})
	return n, nil
}

// FetchRoom returns roomID's messages in creation order, decrypted for
// requesterID. Undecodable records are flagged individually.
func (r *Router) FetchRoom(ctx context.Context, roomID, requesterID string) ([]RoomMessage, error) {
	if _, ok := domain.PeerOf(roomID, requesterID); !ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrNotParticipant, requesterID, roomID)
	}

	msgs, err := r.messages.ListRoomMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room messages: %w", err)
	}

	out := make([]RoomMessage, 0, len(msgs))
	for _, msg := range msgs {
		content, err := r.cipher.Decrypt(msg.CipherFor(requesterID))
		if err != nil {
			metrics.DecodeFailures.Inc()
			r.logger.Warn("Failed to decrypt stored message", "message_id", msg.ID, "room_id", roomID, "error", err)
			out = append(out, RoomMessage{MessagePayload: toPayload(msg, ""), DecodeError: true, Err: err})
			continue
		}
		out = append(out, RoomMessage{MessagePayload: toPayload(msg, content)})
	}
	return out, nil
}

// ListConversations returns every other user with the unread count and last
// activity of their conversation with userID, most recent first.
func (r *Router) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	users, err := r.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	stats, err := r.messages.ConversationStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation stats: %w", err)
	}

	convs := lo.FilterMap(users, func(u *domain.User, _ int) (Conversation, bool) {
		if u.ID == userID {
			return Conversation{}, false
		}
		c := Conversation{
			ID:       u.ID,
			Name:     u.Name,
			Image:    u.Image,
			IsOnline: u.IsOnline,
			LastSeen: u.LastSeen,
		}
		if stat, ok := stats[u.ID]; ok {
			c.UnreadCount = stat.Unread
			c.LastMessageAt = lo.ToPtr(stat.LastMessageAt)
		}
		return c, true
	})

	slices.SortStableFunc(convs, func(a, b Conversation) int {
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt != nil:
			return b.LastMessageAt.Compare(*a.LastMessageAt)
		case a.LastMessageAt != nil:
			return -1
		case b.LastMessageAt != nil:
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return convs, nil
}

func toPayload(msg *domain.Message, content string) domain.MessagePayload {
	return domain.MessagePayload{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    content,
		Status:     msg.Status,
		CreatedAt:  msg.CreatedAt,
	}
}
