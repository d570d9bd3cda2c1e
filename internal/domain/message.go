package domain

import (
	"fmt"
	"time"
)

// Status is the delivery status of a message. Values are ordered:
// StatusSent < StatusDelivered < StatusRead.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = map[Status]string{
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	return s >= StatusSent && s <= StatusRead
}

// ParseStatus parses a wire status name.
func ParseStatus(v string) (Status, error) {
	for s, name := range statusNames {
		if name == v {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: unknown status %q", ErrValidation, v)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Message is the stored, encrypted record of a direct message.
type Message struct {
	ID             string
	RoomID         string
	SenderID       string
	ReceiverID     string
	ReceiverCipher string
	SenderCipher   string
	Status         Status
	CreatedAt      time.Time
}

// CipherFor returns the envelope to decrypt for the given requester.
func (m *Message) CipherFor(requesterID string) string {
	if m.SenderID == requesterID {
		return m.SenderCipher
	}
	return m.ReceiverCipher
}
