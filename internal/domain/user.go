// Package domain contains core domain types for the chat relay.
package domain

import (
	"time"
)

// User represents a user record together with its presence state.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Image     string    `json:"image,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PresenceStatus is the wire value of a user-status event.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)
