// Package codec encrypts message bodies into transportable envelopes.
//
// An envelope is hex(nonce) + ":" + hex(ciphertext), sealed with
// XChaCha20-Poly1305 under a process-wide 32-byte key. Every call draws a
// fresh random nonce, so encrypting the same plaintext twice yields two
// different envelopes.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ashureev/shsh-chat/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeSeparator = ":"
	keyHexLen         = chacha20poly1305.KeySize * 2
)

// Codec seals and opens message envelopes.
type Codec struct {
	aead cipher.AEAD
}

// New creates a codec for the given 32-byte key.
func New(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key: %v", domain.ErrStartupConfig, err)
	}
	return &Codec{aead: aead}, nil
}

// ParseKey decodes the first 64 hex characters of raw into a 32-byte key.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not set", domain.ErrStartupConfig)
	}
	if len(raw) < keyHexLen {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY must hold at least %d hex characters", domain.ErrStartupConfig, keyHexLen)
	}
	key, err := hex.DecodeString(raw[:keyHexLen])
	if err != nil {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not hex: %v", domain.ErrStartupConfig, err)
	}
	return key, nil
}

// Encrypt seals plaintext into a new envelope.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + envelopeSeparator + hex.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt.
// All failures wrap domain.ErrDecode.
func (c *Codec) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, envelopeSeparator)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected 2 envelope parts, got %d", domain.ErrDecode, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", domain.ErrDecode, err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce length %d", domain.ErrDecode, len(nonce))
	}

	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", domain.ErrDecode, err)
	}

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return string(plain), nil
}
