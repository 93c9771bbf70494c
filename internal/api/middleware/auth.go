package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mcoot/mpserver/internal/api/apierr"
)

// TokenHeader is an alternative to a bearer Authorization header
const TokenHeader = "X-Admin-Token"

// Token creates middleware that requires the shared admin token. An empty
// token rejects every request.
func Token(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := extractToken(r)
			if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				apierr.WriteError(w, apierr.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the admin token from the request
func extractToken(r *http.Request) string {
	// Check Authorization header first
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get(TokenHeader)
}
