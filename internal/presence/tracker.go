// Package presence drives online and offline transitions of users.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/registry"
	"github.com/ashureev/shsh-chat/internal/store"
)

// Tracker keeps the user directory's presence fields in step with the
// connection registry and broadcasts every change.
type Tracker struct {
	registry *registry.Registry
	users    store.UserDirectory
	logger   *slog.Logger
	now      func() time.Time

	// userLocks serializes connect and disconnect handling per user.
	userLocks sync.Map
}

// NewTracker creates a presence tracker.
func NewTracker(reg *registry.Registry, users store.UserDirectory, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		registry: reg,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

func (t *Tracker) lock(userID string) func() {
	l, _ := t.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// OnConnect makes conn the live connection of userID, marks the user online
// and broadcasts the change. Calling it again for the registered conn
// re-announces presence.
func (t *Tracker) OnConnect(ctx context.Context, userID string, conn registry.Conn) error {
	unlock := t.lock(userID)
	defer unlock()

	if superseded := t.registry.Register(userID, conn); superseded != nil {
		t.logger.Info("Previous session superseded", "user_id", userID, "conn_id", superseded.ID())
	}

	if err := t.users.SetPresence(ctx, userID, true, t.now()); err != nil {
		return fmt.Errorf("mark %s online: %w", userID, err)
	}

	t.registry.Broadcast(ctx, domain.Event{
		Name: domain.EventUserStatus,
		Data: domain.UserStatusPayload{UserID: userID, Status: domain.PresenceOnline},
	})
	return nil
}

// OnDisconnect releases conn. If conn was superseded it does nothing and
// returns false. The offline write is skipped when the user reconnected
// before it could happen.
func (t *Tracker) OnDisconnect(ctx context.Context, conn registry.Conn) (bool, error) {
	userID, ok := t.registry.Unregister(conn)
	if !ok {
		t.logger.Debug("Stale connection closed", "conn_id", conn.ID())
		return false, nil
	}

	unlock := t.lock(userID)
	defer unlock()

	if _, live := t.registry.Lookup(userID); live {
		t.logger.Debug("User reconnected before offline write", "user_id", userID)
		return false, nil
	}

	if err := t.markOffline(ctx, userID); err != nil {
		return true, err
	}
	return true, nil
}

// markOffline must be called with the user's lock held.
func (t *Tracker) markOffline(ctx context.Context, userID string) error {
	lastSeen := t.now()
	if err := t.users.SetPresence(ctx, userID, false, lastSeen); err != nil {
		return fmt.Errorf("mark %s offline: %w", userID, err)
	}

	t.registry.Broadcast(ctx, domain.Event{
		Name: domain.EventUserStatus,
		Data: domain.UserStatusPayload{UserID: userID, Status: domain.PresenceOffline, LastSeen: &lastSeen},
	})
	return nil
}

// AnnounceUser tells every connected client about a newly created user.
func (t *Tracker) AnnounceUser(ctx context.Context, user *domain.User) {
	t.registry.Broadcast(ctx, domain.Event{
		Name: domain.EventNewUserRegistered,
		Data: domain.NewUserPayload{
			ID:       user.ID,
			Name:     user.Name,
			Image:    user.Image,
			IsOnline: user.IsOnline,
			LastSeen: user.LastSeen,
		},
	})
}
