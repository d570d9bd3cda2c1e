// Package identity authenticates requests with bearer tokens and keeps a
// user record for every verified identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// TokenQueryParam carries the bearer token on websocket upgrades, where
// browsers cannot set headers.
const TokenQueryParam = "token"

// ErrUnauthenticated is returned for a missing or invalid bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")

type contextKey int

const (
	userIDKey contextKey = iota
	userNameKey
)

// Identity is a verified caller.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Image  string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// Announcer is told about user records created on first sight.
type Announcer interface {
	AnnounceUser(ctx context.Context, user *domain.User)
}

// Claims are the JWT claims issued by the auth service. The subject is the
// user ID.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-SHA256 signed tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Verify parses and validates raw.
func (v *JWTVerifier) Verify(raw string) (*Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	if !domain.ValidParticipant(claims.Subject) {
		return nil, fmt.Errorf("%w: subject %q contains %q", ErrUnauthenticated, claims.Subject, domain.RoomSeparator)
	}
	return &Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Email:  claims.Email,
		Image:  claims.Picture,
	}, nil
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UserNameFromContext extracts the display name from the request context.
func UserNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userNameKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, userIDKey, id.UserID)
	return context.WithValue(ctx, userNameKey, id.Name)
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}

func deriveName(id *Identity) string {
	if id.Name != "" {
		return id.Name
	}
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		return local
	}
	if len(id.UserID) > 8 {
		return "user-" + id.UserID[len(id.UserID)-8:]
	}
	return "user-" + id.UserID
}

// ensureUser creates a record for id on first sight. It reports whether a
// record was created.
func ensureUser(ctx context.Context, users store.UserDirectory, id *Identity) (*domain.User, bool, error) {
	user, err := users.GetUser(ctx, id.UserID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}

	now := time.Now()
	user = &domain.User{
		ID:        id.UserID,
		Name:      deriveName(id),
		Email:     id.Email,
		Image:     id.Image,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := users.UpsertUser(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Middleware authenticates each request and injects the caller's identity.
// Unknown identities get a user record, and announcer (if set) is told.
func Middleware(verifier Verifier, users store.UserDirectory, announcer Announcer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("Rejected bearer token", "ip", IPFromRequest(r), "error", err)
				http.Error(w, `{"error":"invalid bearer token"}`, http.StatusUnauthorized)
				return
			}

			user, created, err := ensureUser(r.Context(), users, id)
			if err != nil {
				slog.Error("Failed to initialize user", "user_id", id.UserID, "error", err)
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}
			if created {
				slog.Info("User record created", "user_id", user.ID)
				if announcer != nil {
					announcer.AnnounceUser(r.Context(), user)
				}
			}

			if id.Name == "" {
				id.Name = user.Name
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
