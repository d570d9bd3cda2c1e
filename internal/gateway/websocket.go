// Package gateway serves the realtime websocket endpoint and dispatches
// inbound events to the chat core.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/shsh-chat/internal/chat"
	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/identity"
	"github.com/ashureev/shsh-chat/internal/metrics"
	"github.com/ashureev/shsh-chat/internal/presence"
	"github.com/ashureev/shsh-chat/internal/registry"
	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

const (
	maxFrameBytes     = 64 << 10
	disconnectTimeout = 5 * time.Second
)

// Options tunes a WebSocketHandler.
type Options struct {
	AllowedOrigin   string
	IsDev           bool
	QueueSize       int
	EventsPerSecond float64
	EventBurst      int
}

// WebSocketHandler handles realtime chat sessions.
type WebSocketHandler struct {
	router   *chat.Router
	typing   *chat.TypingRelay
	tracker  *presence.Tracker
	registry *registry.Registry
	validate *validator.Validate
	opts     Options
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(router *chat.Router, typing *chat.TypingRelay, tracker *presence.Tracker, reg *registry.Registry, opts Options) *WebSocketHandler {
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 20
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 40
	}
	return &WebSocketHandler{
		router:   router,
		typing:   typing,
		tracker:  tracker,
		registry: reg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newConn(ws, userID, h.opts.QueueSize, nil)
	defer func() {
		if closeErr := conn.Close("session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	go conn.writeLoop(ctx)

	if err := h.tracker.OnConnect(ctx, userID, conn); err != nil {
		slog.Error("Failed to record presence", "error", err, "user_id", userID)
	}
	defer h.disconnect(conn)

	h.readLoop(ctx, ws, conn, userID)
	slog.Info("Chat session ended", "user_id", userID, "conn_id", conn.ID())
}

// disconnect runs after the request context is gone, so it gets its own.
func (h *WebSocketHandler) disconnect(conn *wsConn) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if _, err := h.tracker.OnDisconnect(ctx, conn); err != nil {
		slog.Error("Failed to record disconnect", "error", err, "user_id", conn.userID)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn, userID string) {
	limiter := rate.NewLimiter(rate.Limit(h.opts.EventsPerSecond), h.opts.EventBurst)

	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		if !limiter.Allow() {
			metrics.RejectedEvents.WithLabelValues("rate_limited").Inc()
			slog.Warn("Inbound event rate exceeded", "user_id", userID)
			continue
		}

		var frame domain.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Name == "" {
			metrics.RejectedEvents.WithLabelValues("malformed").Inc()
			slog.Debug("Malformed frame", "user_id", userID, "error", err)
			continue
		}

		if err := h.dispatch(ctx, conn, userID, frame); err != nil {
			metrics.RejectedEvents.WithLabelValues(rejectReason(err)).Inc()
			slog.Warn("Inbound event rejected", "user_id", userID, "event", frame.Name, "error", err)
			if frame.Name == domain.EventSendMessage {
				h.registry.Send(ctx, conn, domain.Event{
					Name: domain.EventMessageError,
					Data: domain.ErrorPayload{Message: clientMessage(err)},
				})
			}
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, conn *wsConn, userID string, frame domain.Frame) error {
	switch frame.Name {
	case domain.EventUserConnected:
		var in userConnectedIn
		if err := h.decode(frame, &in); err != nil {
			return err
		}
		if err := sameUser(userID, in.UserID); err != nil {
			return err
		}
		return h.tracker.OnConnect(ctx, userID, conn)

	case domain.EventSendMessage:
		var in sendMessageIn
		if err := h.decode(frame, &in); err != nil {
			return err
		}
		if err := sameUser(userID, in.SenderID); err != nil {
			return err
		}
		_, err := h.router.SendMessage(ctx, conn, chat.SendRequest{
			RoomID:     in.RoomID,
			SenderID:   in.SenderID,
			ReceiverID: in.ReceiverID,
			Content:    in.Content,
		})
		return err

	case domain.EventMessageDelivered:
		var in messageDeliveredIn
		if err := h.decode(frame, &in); err != nil {
			return err
		}
		return h.router.AcknowledgeDelivered(ctx, chat.Ack{
			MessageID:  in.MessageID,
			SenderID:   in.SenderID,
			ReceiverID: userID,
		})

	case domain.EventMessagesRead:
		var in messagesReadIn
		if err := h.decode(frame, &in); err != nil {
			return err
		}
		if err := sameUser(userID, in.UserID); err != nil {
			return err
		}
		_, err := h.router.MarkRoomRead(ctx, in.RoomID, in.UserID, in.SenderID)
		return err

	case domain.EventTyping, domain.EventStopTyping:
		var in typingIn
		if err := h.decode(frame, &in); err != nil {
			return err
		}
		if err := sameUser(userID, in.SenderID); err != nil {
			return err
		}
		kind := chat.TypingStart
		if frame.Name == domain.EventStopTyping {
			kind = chat.TypingStop
		}
		h.typing.Relay(ctx, in.SenderID, in.ReceiverID, kind)
		return nil

	case domain.EventPing:
		h.registry.Send(ctx, conn, domain.Event{Name: domain.EventPong})
		return nil

	default:
		return fmt.Errorf("%w: unknown event %q", domain.ErrValidation, frame.Name)
	}
}

func (h *WebSocketHandler) decode(frame domain.Frame, v any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", domain.ErrValidation, frame.Name)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", domain.ErrValidation, frame.Name, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return nil
}

func sameUser(authenticated, claimed string) error {
	if authenticated != claimed {
		return fmt.Errorf("%w: payload user %q does not match session", domain.ErrValidation, claimed)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}

// clientMessage returns the text reported with message-error.
func clientMessage(err error) string {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return "invalid message payload"
	case errors.Is(err, domain.ErrValidation):
		return err.Error()
	case errors.Is(err, domain.ErrNotParticipant):
		return "not a participant of this conversation"
	default:
		return "failed to send message"
	}
}
