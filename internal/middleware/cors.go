// Package middleware provides HTTP middleware for the chat API.
package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers. Credentials are only
// allowed when no wildcard origin is configured.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           300,
	})
}
