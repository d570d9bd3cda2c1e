package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// ErrConnClosed is returned by Send once the connection is closed.
var ErrConnClosed = errors.New("connection closed")

const (
	defaultQueueSize = 64
	writeTimeout     = 10 * time.Second
)

// wsConn is a registry handle for one websocket session. Send enqueues; a
// single writer goroutine drains the queue so frames keep their order.
type wsConn struct {
	id     string
	userID string
	ws     *websocket.Conn
	queue  chan domain.Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConn(ws *websocket.Conn, userID string, queueSize int, logger *slog.Logger) *wsConn {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &wsConn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		queue:  make(chan domain.Event, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues ev for writing. It gives up when ctx is done or the
// connection closes.
func (c *wsConn) Send(ctx context.Context, ev domain.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.queue <- ev:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		c.logger.Warn("Send queue full, dropping event",
			"conn_id", c.id,
			"user_id", c.userID,
			"event", ev.Name,
			"queue_len", len(c.queue))
		return ctx.Err()
	}
}

// Close stops the writer and closes the websocket. Queued events are
// discarded.
func (c *wsConn) Close(reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.ws != nil {
			err = c.ws.Close(websocket.StatusNormalClosure, reason)
		}
	})
	return err
}

// writeLoop writes queued events until the connection closes or a write
// fails.
func (c *wsConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case ev := <-c.queue:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.ws, ev)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("WebSocket write error", "conn_id", c.id, "user_id", c.userID, "error", err)
				}
				_ = c.Close("write failed")
				return
			}
		}
	}
}
