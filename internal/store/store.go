// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
)

// UserDirectory persists user records. The relay only writes presence
// fields and lazily creates records for newly verified identities.
type UserDirectory interface {
	// GetUser retrieves a user by ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates a user or updates its profile fields.
	UpsertUser(ctx context.Context, user *domain.User) error

	// SetPresence records the online flag and last-seen time of a user.
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error

	// ListUsers returns every user ordered by name.
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// ListOnlineUserIDs returns users currently flagged online.
	ListOnlineUserIDs(ctx context.Context) ([]string, error)
}

// MessageStore persists encrypted messages.
type MessageStore interface {
	// CreateMessage inserts msg, assigning ID and CreatedAt when empty.
	CreateMessage(ctx context.Context, msg *domain.Message) error

	// GetMessage retrieves a message by ID. It returns nil, nil when absent.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// AdvanceStatus moves a message to status `to` only if its current status
	// is lower, in a single conditional write. It reports whether a row changed.
	AdvanceStatus(ctx context.Context, messageID string, to domain.Status) (bool, error)

	// AdvanceRoomStatus applies AdvanceStatus to every message of roomID
	// addressed to receiverID and returns the number of rows changed.
	AdvanceRoomStatus(ctx context.Context, roomID, receiverID string, to domain.Status) (int64, error)

	// ListRoomMessages returns a room's messages ordered by creation time.
	ListRoomMessages(ctx context.Context, roomID string) ([]*domain.Message, error)

	// ConversationStats summarizes userID's conversations keyed by peer.
	ConversationStats(ctx context.Context, userID string) (map[string]ConversationStat, error)
}

// ConversationStat summarizes one conversation from a user's point of view.
type ConversationStat struct {
	Unread        int64
	LastMessageAt time.Time
}

// Repository is the full persistence surface used by the relay.
type Repository interface {
	UserDirectory
	MessageStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
