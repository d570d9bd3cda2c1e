package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/shsh-chat/internal/shared"
)

// DefaultSweepInterval is used when StartSweeper gets a non-positive interval.
const DefaultSweepInterval = time.Minute

// withBusyRetry retries fn with exponential backoff while SQLite reports a
// busy or locked database.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}

// Reconcile flips users that the directory still flags online but that
// have no live connection, as left behind by an unclean shutdown. It returns
// how many users were marked offline.
func (t *Tracker) Reconcile(ctx context.Context) (int, error) {
	var online []string
	err := withBusyRetry(ctx, "list online users", func() error {
		var listErr error
		online, listErr = t.users.ListOnlineUserIDs(ctx)
		return listErr
	})
	if err != nil {
		return 0, err
	}

	flipped := 0
	for _, userID := range online {
		if t.reconcileUser(ctx, userID) {
			flipped++
		}
	}
	return flipped, nil
}

func (t *Tracker) reconcileUser(ctx context.Context, userID string) bool {
	unlock := t.lock(userID)
	defer unlock()

	if _, live := t.registry.Lookup(userID); live {
		return false
	}

	err := withBusyRetry(ctx, "mark offline", func() error {
		return t.markOffline(ctx, userID)
	})
	if err != nil {
		t.logger.Warn("Presence sweeper failed to mark user offline", "user_id", userID, "error", err)
		return false
	}
	return true
}

// StartSweeper reconciles presence once and then every interval until ctx
// is done.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	t.sweep(ctx)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		t.logger.Info("Presence sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				t.sweep(ctx)
			case <-ctx.Done():
				t.logger.Info("Presence sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (t *Tracker) sweep(ctx context.Context) {
	flipped, err := t.Reconcile(ctx)
	if err != nil {
		t.logger.Error("Presence sweeper failed", "error", err)
		return
	}
	if flipped > 0 {
		t.logger.Info("Presence sweeper marked stale users offline", "count", flipped)
	}
}
