package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/shsh-chat/internal/chat"
	"github.com/ashureev/shsh-chat/internal/codec"
	"github.com/ashureev/shsh-chat/internal/delivery"
	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/identity"
	"github.com/ashureev/shsh-chat/internal/presence"
	"github.com/ashureev/shsh-chat/internal/registry"
	"github.com/ashureev/shsh-chat/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

type server struct {
	url      string
	registry *registry.Registry
	repo     *store.SQLiteStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{ID: u, Name: u}))
	}

	c, err := codec.New([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	reg := registry.New(time.Second, nil)
	router := chat.NewRouter(repo, c, delivery.NewMachine(repo, nil), reg, nil)
	tracker := presence.NewTracker(reg, repo, nil)
	h := NewWebSocketHandler(router, chat.NewTypingRelay(reg), tracker, reg, Options{IsDev: true})

	// Identity comes from the query string in tests.
	withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithIdentity(r.Context(), &identity.Identity{UserID: r.URL.Query().Get("user")})
		h.ServeHTTP(w, r.WithContext(ctx))
	})
	srv := httptest.NewServer(withUser)
	t.Cleanup(srv.Close)

	return &server{url: "ws" + strings.TrimPrefix(srv.URL, "http"), registry: reg, repo: repo}
}

func (s *server) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, s.url+"?user="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })

	// Wait for our own online broadcast so registration has happened.
	readUntil(t, ws, domain.EventUserStatus)
	return ws
}

type inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, ws *websocket.Conn, name string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, domain.Event{Name: name, Data: data}))
}

func readUntil(t *testing.T, ws *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var frame inbound
		require.NoError(t, wsjson.Read(ctx, ws, &frame), "waiting for %s", name)
		if frame.Name == name {
			return frame.Data
		}
	}
}

func TestSendMessageBetweenLiveUsers(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	send(t, alice, domain.EventSendMessage, map[string]string{
		"roomId":     domain.RoomID("alice", "bob"),
		"senderId":   "alice",
		"receiverId": "bob",
		"content":    "hi",
	})

	var received domain.MessagePayload
	require.NoError(t, json.Unmarshal(readUntil(t, bob, domain.EventReceiveMessage), &received))
	require.Equal(t, "hi", received.Content)
	require.Equal(t, domain.StatusDelivered, received.Status)
	require.True(t, received.Ack)

	var sent domain.MessagePayload
	require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventMessageSent), &sent))
	require.Equal(t, received.ID, sent.ID)
	require.Equal(t, domain.StatusDelivered, sent.Status)

	send(t, bob, domain.EventMessagesRead, map[string]string{
		"roomId":   domain.RoomID("alice", "bob"),
		"userId":   "bob",
		"senderId": "alice",
	})
	var read domain.ReadUpdatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventMessagesReadUpdate), &read))
	require.Equal(t, domain.RoomID("alice", "bob"), read.RoomID)

	msg, err := s.repo.GetMessage(context.Background(), sent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRead, msg.Status)
}

func TestSendMessageRejectsImpersonation(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")

	send(t, alice, domain.EventSendMessage, map[string]string{
		"senderId":   "bob",
		"receiverId": "alice",
		"content":    "spoofed",
	})

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventMessageError), &payload))
	require.Contains(t, payload.Message, "does not match session")

	msgs, err := s.repo.ListRoomMessages(context.Background(), domain.RoomID("alice", "bob"))
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestTypingAndPing(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	send(t, alice, domain.EventTyping, map[string]string{"senderId": "alice", "receiverId": "bob"})
	var typing domain.TypingPayload
	require.NoError(t, json.Unmarshal(readUntil(t, bob, domain.EventUserTyping), &typing))
	require.Equal(t, domain.TypingPayload{SenderID: "alice", ReceiverID: "bob"}, typing)

	send(t, alice, domain.EventPing, nil)
	readUntil(t, alice, domain.EventPong)
}

func TestDisconnectMarksOffline(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	require.NoError(t, bob.Close(websocket.StatusNormalClosure, "bye"))

	var status domain.UserStatusPayload
	for status.UserID != "bob" || status.Status != domain.PresenceOffline {
		require.NoError(t, json.Unmarshal(readUntil(t, alice, domain.EventUserStatus), &status))
	}
	require.NotNil(t, status.LastSeen)

	require.Eventually(t, func() bool {
		_, ok := s.registry.Lookup("bob")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnSendAfterClose(t *testing.T) {
	c := newConn(nil, "alice", 1, nil)
	require.NoError(t, c.Send(context.Background(), domain.Event{Name: domain.EventPong}))

	// Queue is full and nothing drains it.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Send(ctx, domain.Event{Name: domain.EventPong}), context.DeadlineExceeded)

	require.NoError(t, c.Close("test"))
	require.ErrorIs(t, c.Send(context.Background(), domain.Event{Name: domain.EventPong}), ErrConnClosed)
	require.NoError(t, c.Close("again"))
}

func TestClientMessage(t *testing.T) {
	h := NewWebSocketHandler(nil, nil, nil, nil, Options{})
	err := h.decode(domain.Frame{Name: domain.EventTyping, Data: json.RawMessage(`{"senderId":"a","receiverId":"a"}`)}, &typingIn{})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Equal(t, "invalid message payload", clientMessage(err))

	err = h.decode(domain.Frame{Name: domain.EventSendMessage}, &sendMessageIn{})
	require.ErrorIs(t, err, domain.ErrValidation)
}
