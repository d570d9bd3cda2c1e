package domain

import "errors"

var (
	// ErrValidation marks malformed or empty input rejected before any side effect.
	ErrValidation = errors.New("validation error")

	// ErrDecode marks an envelope that cannot be parsed or decrypted.
	ErrDecode = errors.New("decode error")

	// ErrPersistence marks a failed MessageStore or UserDirectory call.
	ErrPersistence = errors.New("persistence error")

	// ErrStartupConfig marks missing or invalid configuration. Fatal.
	ErrStartupConfig = errors.New("startup config error")

	// ErrNotParticipant is returned when a user asks for a room they are not part of.
	ErrNotParticipant = errors.New("not a room participant")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
)
