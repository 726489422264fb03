package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mcoot/pvg/internal/api/apierr"
)

// Token creates middleware requiring the bearer token on every request.
// An empty token disables the check.
func Token(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				apierr.WriteError(w, apierr.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the access token from the request
func extractToken(r *http.Request) string {
	// Check Authorization header first
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// EventSource cannot set headers, so streams pass the token in the query
	return r.URL.Query().Get("token")
}
