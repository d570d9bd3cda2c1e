package presence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/registry"
	"github.com/ashureev/shsh-chat/internal/store"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	id string

	mu     sync.Mutex
	events []domain.Event
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) Close(string) error { return nil }

func (c *recordingConn) statuses() []domain.UserStatusPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.UserStatusPayload
	for _, ev := range c.events {
		if p, ok := ev.Data.(domain.UserStatusPayload); ok && ev.Name == domain.EventUserStatus {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	tracker  *Tracker
	registry *registry.Registry
	users    *store.SQLiteStore
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	users, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	for _, id := range userIDs {
		require.NoError(t, users.UpsertUser(context.Background(), &domain.User{ID: id, Name: id}))
	}

	reg := registry.New(time.Second, nil)
	return &fixture{tracker: NewTracker(reg, users, nil), registry: reg, users: users}
}

func (f *fixture) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := f.users.GetUser(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func TestConnectDisconnect(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	observer := &recordingConn{id: "bob-1"}
	require.NoError(t, f.tracker.OnConnect(ctx, "bob", observer))

	alice := &recordingConn{id: "alice-1"}
	require.NoError(t, f.tracker.OnConnect(ctx, "alice", alice))
	require.True(t, f.user(t, "alice").IsOnline)
	connectedSeen := f.user(t, "alice").LastSeen

	time.Sleep(5 * time.Millisecond)
	released, err := f.tracker.OnDisconnect(ctx, alice)
	require.NoError(t, err)
	require.True(t, released)

	u := f.user(t, "alice")
	require.False(t, u.IsOnline)
	require.True(t, u.LastSeen.After(connectedSeen))

	statuses := observer.statuses()
	require.Len(t, statuses, 3)
	require.Equal(t, domain.UserStatusPayload{UserID: "bob", Status: domain.PresenceOnline}, statuses[0])
	require.Equal(t, "alice", statuses[1].UserID)
	require.Equal(t, domain.PresenceOnline, statuses[1].Status)
	require.Equal(t, domain.PresenceOffline, statuses[2].Status)
	require.NotNil(t, statuses[2].LastSeen)
}

func TestStaleDisconnectKeepsUserOnline(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	first := &recordingConn{id: "alice-1"}
	second := &recordingConn{id: "alice-2"}
	require.NoError(t, f.tracker.OnConnect(ctx, "alice", first))
	require.NoError(t, f.tracker.OnConnect(ctx, "alice", second))

	released, err := f.tracker.OnDisconnect(ctx, first)
	require.NoError(t, err)
	require.False(t, released)

	require.True(t, f.user(t, "alice").IsOnline)
	current, ok := f.registry.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "alice-2", current.ID())

	for _, s := range second.statuses() {
		require.NotEqual(t, domain.PresenceOffline, s.Status)
	}
}

func TestConcurrentReconnect(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	prev := &recordingConn{id: "alice-0"}
	require.NoError(t, f.tracker.OnConnect(ctx, "alice", prev))

	for i := 0; i < 20; i++ {
		next := &recordingConn{id: "alice-" + string(rune('a'+i))}
		var wg sync.WaitGroup
		var connectErr error
		wg.Add(2)
		go func(c registry.Conn) {
			defer wg.Done()
			_, _ = f.tracker.OnDisconnect(ctx, c)
		}(prev)
		go func(c registry.Conn) {
			defer wg.Done()
			connectErr = f.tracker.OnConnect(ctx, "alice", c)
		}(next)
		wg.Wait()

		require.NoError(t, connectErr)
		require.True(t, f.user(t, "alice").IsOnline, "iteration %d", i)
		prev = next
	}
}

type failingDirectory struct {
	store.UserDirectory
}

func (failingDirectory) SetPresence(context.Context, string, bool, time.Time) error {
	return errors.New("disk full")
}

func TestConnectPersistenceFailure(t *testing.T) {
	reg := registry.New(time.Second, nil)
	tr := NewTracker(reg, failingDirectory{}, nil)

	conn := &recordingConn{id: "c1"}
	err := tr.OnConnect(context.Background(), "alice", conn)
	require.Error(t, err)

	// The connection stays usable for pushes even though the flag write failed.
	_, ok := reg.Lookup("alice")
	require.True(t, ok)
	require.Empty(t, conn.statuses())
}

func TestAnnounceUser(t *testing.T) {
	f := newFixture(t, "bob")
	ctx := context.Background()

	bob := &recordingConn{id: "bob-1"}
	require.NoError(t, f.tracker.OnConnect(ctx, "bob", bob))

	f.tracker.AnnounceUser(ctx, &domain.User{ID: "carol", Name: "Carol"})

	bob.mu.Lock()
	defer bob.mu.Unlock()
	last := bob.events[len(bob.events)-1]
	require.Equal(t, domain.EventNewUserRegistered, last.Name)
	require.Equal(t, "carol", last.Data.(domain.NewUserPayload).ID)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	// Leftovers from a previous process.
	require.NoError(t, f.users.SetPresence(ctx, "alice", true, time.Now()))
	require.NoError(t, f.users.SetPresence(ctx, "carol", true, time.Now()))

	bob := &recordingConn{id: "bob-1"}
	require.NoError(t, f.tracker.OnConnect(ctx, "bob", bob))

	flipped, err := f.tracker.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, flipped)

	require.False(t, f.user(t, "alice").IsOnline)
	require.False(t, f.user(t, "carol").IsOnline)
	require.True(t, f.user(t, "bob").IsOnline)

	flipped, err = f.tracker.Reconcile(ctx)
	require.NoError(t, err)
	require.Zero(t, flipped)
}

func TestWithBusyRetry(t *testing.T) {
	calls := 0
	err := withBusyRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = withBusyRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("no such table")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
