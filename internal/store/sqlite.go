package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/metrics"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a status update is in flight.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		is_online INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_online ON users(is_online) WHERE is_online = 1;

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		receiver_cipher TEXT NOT NULL,
		sender_cipher TEXT NOT NULL,
		status INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_inbox ON messages(receiver_id, sender_id, status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, image, is_online, last_seen, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	if err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Image,
		&user.IsOnline, &lastSeen, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	user.LastSeen = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	defer observe("get_user")()

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("scan user row", err)
	}
	return user, nil
}

// UpsertUser creates or updates a user's profile. Presence fields are only
// written on insert.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	defer observe("upsert_user")()

	query := `
	INSERT INTO users (id, name, email, image, is_online, last_seen, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		image = excluded.image,
		updated_at = excluded.updated_at`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.Image, user.IsOnline,
		user.LastSeen.UnixMilli(), user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return persistErr("upsert user", err)
	}
	return nil
}

// SetPresence records the online flag and last-seen time of a user.
func (s *SQLiteStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	defer observe("set_presence")()

	query := `UPDATE users SET is_online = ?, last_seen = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, online, lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return persistErr("update presence", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistErr("get rows affected", err)
	}
	if rows == 0 {
		slog.Warn("SetPresence affected 0 rows", "user_id", userID)
	}
	return nil
}

// ListUsers returns every user ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	defer observe("list_users")()

	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, persistErr("query users", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, persistErr("scan user row", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate users", err)
	}
	return users, nil
}

// ListOnlineUserIDs returns users currently flagged online.
func (s *SQLiteStore) ListOnlineUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE is_online = 1`)
	if err != nil {
		return nil, persistErr("query online users", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close online user rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan online user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate online users", err)
	}
	return ids, nil
}

const messageColumns = `id, room_id, sender_id, receiver_id, receiver_cipher, sender_cipher, status, created_at`

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var status, createdAt int64
	if err := row.Scan(
		&msg.ID, &msg.RoomID, &msg.SenderID, &msg.ReceiverID,
		&msg.ReceiverCipher, &msg.SenderCipher, &status, &createdAt,
	); err != nil {
		return nil, err
	}
	msg.Status = domain.Status(status)
	msg.CreatedAt = time.Unix(0, createdAt)
	return &msg, nil
}

// CreateMessage inserts a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	defer observe("create_message")()

	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if !msg.Status.Valid() {
		msg.Status = domain.StatusSent
	}

	query := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.ReceiverID,
		msg.ReceiverCipher, msg.SenderCipher, int64(msg.Status), msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return persistErr("insert message", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	defer observe("get_message")()

	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("scan message row", err)
	}
	return msg, nil
}

// AdvanceStatus moves a message forward in its lifecycle. The status
// predicate makes the write conditional, so a late lower transition can
// never overwrite a higher one.
func (s *SQLiteStore) AdvanceStatus(ctx context.Context, messageID string, to domain.Status) (bool, error) {
	defer observe("advance_status")()

	if !to.Valid() {
		return false, fmt.Errorf("%w: invalid target status %d", domain.ErrValidation, to)
	}

	query := `UPDATE messages SET status = ? WHERE id = ? AND status < ?`
	result, err := s.db.ExecContext(ctx, query, int64(to), messageID, int64(to))
	if err != nil {
		return false, persistErr("update message status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("get rows affected", err)
	}
	return rows > 0, nil
}

// AdvanceRoomStatus moves every message of roomID addressed to receiverID
// forward to `to`.
func (s *SQLiteStore) AdvanceRoomStatus(ctx context.Context, roomID, receiverID string, to domain.Status) (int64, error) {
	defer observe("advance_room_status")()

	if !to.Valid() {
		return 0, fmt.Errorf("%w: invalid target status %d", domain.ErrValidation, to)
	}

	query := `UPDATE messages SET status = ? WHERE room_id = ? AND receiver_id = ? AND status < ?`
	result, err := s.db.ExecContext(ctx, query, int64(to), roomID, receiverID, int64(to))
	if err != nil {
		return 0, persistErr("update room status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, persistErr("get rows affected", err)
	}
	return rows, nil
}

// ListRoomMessages returns a room's messages ordered by creation time.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string) ([]*domain.Message, error) {
	defer observe("list_room_messages")()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, persistErr("query room messages", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close room message rows", "error", closeErr)
		}
	}()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, persistErr("scan message row", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate room messages", err)
	}
	return messages, nil
}

// ConversationStats returns, per peer, the number of unread messages from
// that peer and the time of the latest message exchanged.
func (s *SQLiteStore) ConversationStats(ctx context.Context, userID string) (map[string]ConversationStat, error) {
	defer observe("conversation_stats")()

	query := `
	SELECT peer, SUM(unread), MAX(created_at) FROM (
		SELECT
			CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer,
			CASE WHEN receiver_id = ? AND status < ? THEN 1 ELSE 0 END AS unread,
			created_at
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
	)
	GROUP BY peer`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, int64(domain.StatusRead), userID, userID)
	if err != nil {
		return nil, persistErr("query conversation stats", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	stats := make(map[string]ConversationStat)
	for rows.Next() {
		var peer string
		var unread, last int64
		if err := rows.Scan(&peer, &unread, &last); err != nil {
			return nil, persistErr("scan conversation row", err)
		}
		stats[peer] = ConversationStat{Unread: unread, LastMessageAt: time.Unix(0, last)}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate conversations", err)
	}
	return stats, nil
}

var _ Repository = (*SQLiteStore)(nil)
