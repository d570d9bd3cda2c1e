// Package delivery advances messages through the sent, delivered, read
// lifecycle.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/metrics"
	"github.com/ashureev/shsh-chat/internal/store"
)

// Machine applies status transitions. Each transition is a single
// conditional write, so concurrent requests for the same message can only
// move it forward.
type Machine struct {
	messages store.MessageStore
	logger   *slog.Logger
}

// NewMachine creates a Machine over messages. A nil logger selects
// slog.Default.
func NewMachine(messages store.MessageStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{messages: messages, logger: logger}
}

// MarkDelivered moves messageID to delivered. It reports false when the
// message is unknown or already delivered or read.
func (m *Machine) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	return m.advance(ctx, messageID, domain.StatusDelivered)
}

// MarkRead moves messageID to read. It is the single-message counterpart of
// MarkRoomRead; the relay itself only marks whole rooms read.
func (m *Machine) MarkRead(ctx context.Context, messageID string) (bool, error) {
	return m.advance(ctx, messageID, domain.StatusRead)
}

// MarkRoomRead moves every message of roomID addressed to receiverID to read
// and returns how many changed.
func (m *Machine) MarkRoomRead(ctx context.Context, roomID, receiverID string) (int64, error) {
	n, err := m.messages.AdvanceRoomStatus(ctx, roomID, receiverID, domain.StatusRead)
	if err != nil {
		return 0, fmt.Errorf("mark room read: %w", err)
	}
	if n > 0 {
		metrics.StatusTransitions.WithLabelValues(domain.StatusRead.String()).Add(float64(n))
	}
	m.logger.Debug("Room marked read", "room_id", roomID, "receiver_id", receiverID, "changed", n)
	return n, nil
}

func (m *Machine) advance(ctx context.Context, messageID string, to domain.Status) (bool, error) {
	changed, err := m.messages.AdvanceStatus(ctx, messageID, to)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", to, err)
	}
	if changed {
		metrics.StatusTransitions.WithLabelValues(to.String()).Inc()
	}
	return changed, nil
}
