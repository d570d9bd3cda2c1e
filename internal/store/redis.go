package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 24 * time.Hour

// presenceKey returns the key holding a user's mirrored presence hash.
func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// RedisPresence mirrors presence writes into Redis so other services can read
// who is online without touching the relay's database. The wrapped directory
// stays authoritative; mirror failures are logged and never returned.
type RedisPresence struct {
	UserDirectory
	client *redis.Client
}

// NewRedisPresence connects to redisURL and wraps dir.
func NewRedisPresence(ctx context.Context, redisURL string, dir UserDirectory) (*RedisPresence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPresence{UserDirectory: dir, client: client}, nil
}

// SetPresence writes through to the wrapped directory, then mirrors.
func (r *RedisPresence) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	if err := r.UserDirectory.SetPresence(ctx, userID, online, lastSeen); err != nil {
		return err
	}

	key := presenceKey(userID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "online", online, "last_seen", lastSeen.UnixMilli())
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Failed to mirror presence to redis", "user_id", userID, "error", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisPresence) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisPresence) Close() error {
	return r.client.Close()
}
