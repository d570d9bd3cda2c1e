// Package registry tracks the live connection of every online user.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/metrics"
	"github.com/samber/lo"
)

// DefaultPushTimeout bounds a single outbound push.
const DefaultPushTimeout = 2 * time.Second

// Conn is a live connection handle. It is valid only while the underlying
// transport session is open.
type Conn interface {
	// ID uniquely identifies the transport session.
	ID() string

	// Send delivers one event. It must return once ctx is done.
	Send(ctx context.Context, ev domain.Event) error

	// Close tears the session down.
	Close(reason string) error
}

// Registry maps users to their current connection and connections back to
// their owner. Both maps are guarded by one mutex that is never held across
// a Send.
type Registry struct {
	mu          sync.RWMutex
	byUser      map[string]Conn
	byConn      map[string]string
	pushTimeout time.Duration
	logger      *slog.Logger
}

// New creates an empty registry. A non-positive pushTimeout selects
// DefaultPushTimeout.
func New(pushTimeout time.Duration, logger *slog.Logger) *Registry {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser:      make(map[string]Conn),
		byConn:      make(map[string]string),
		pushTimeout: pushTimeout,
		logger:      logger,
	}
}

// Register makes conn the live connection of userID. A previous connection
// for the same user is superseded and returned; it is not closed, and its
// later Unregister is a no-op.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.byUser[userID]
	if exists && previous.ID() != conn.ID() {
		delete(r.byConn, previous.ID())
	} else {
		previous = nil
	}

	// A handle belongs to a single user.
	if owner, ok := r.byConn[conn.ID()]; ok && owner != userID {
		delete(r.byUser, owner)
	}

	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	metrics.ActiveConnections.Set(float64(len(r.byUser)))

	r.logger.Info("Connection registered", "user_id", userID, "conn_id", conn.ID(), "superseded", previous != nil)
	return previous
}

// Lookup returns the live connection of userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Unregister removes conn and returns the user it belonged to. ok is false
// when conn was never registered or has been superseded.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	delete(r.byUser, userID)
	metrics.ActiveConnections.Set(float64(len(r.byUser)))

	r.logger.Info("Connection unregistered", "user_id", userID, "conn_id", conn.ID())
	return userID, true
}

// Len returns the number of users with a live connection.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot returns the current connections. Mutations after the call do not
// affect the returned slice.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byUser)
}

// Push sends ev to userID's live connection. It reports whether a
// connection was found; delivery failures are logged and dropped.
func (r *Registry) Push(ctx context.Context, userID string, ev domain.Event) bool {
	conn, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	r.Send(ctx, conn, ev)
	return true
}

// Broadcast sends ev to every live connection. Sends run concurrently, so
// the call returns within one push timeout however many consumers are slow.
func (r *Registry) Broadcast(ctx context.Context, ev domain.Event) {
	var wg sync.WaitGroup
	for _, conn := range r.Snapshot() {
		wg.Add(1)
		go func(conn Conn) {
			defer wg.Done()
			r.Send(ctx, conn, ev)
		}(conn)
	}
	wg.Wait()
}

// Send delivers ev to conn within the push timeout. Failures are expected
// (presence may change between lookup and push) and are only logged.
func (r *Registry) Send(ctx context.Context, conn Conn, ev domain.Event) {
	pushCtx, cancel := context.WithTimeout(ctx, r.pushTimeout)
	defer cancel()

	if err := conn.Send(pushCtx, ev); err != nil {
		metrics.PushesDropped.WithLabelValues(ev.Name).Inc()
		r.logger.Debug("Push dropped", "conn_id", conn.ID(), "event", ev.Name, "error", err)
	}
}
