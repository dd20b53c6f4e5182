package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const userKey contextKey = "gateway.user"

// identityMiddleware requires the caller's user identity in the X-User-ID
// header and stores it in the request context. Identity is trusted as-is:
// authenticating users is the fronting proxy's job, not ours.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if user == "" {
			http.Error(w, "missing X-User-ID header", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// requestUser returns the identity stored by identityMiddleware.
func requestUser(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

// authMiddleware returns a chi-compatible middleware that validates the
// admin bearer token using constant-time comparison.
func authMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
				if constantTimeEqual(after, cfg.BearerToken) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
