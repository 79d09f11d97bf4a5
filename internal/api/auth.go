package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// DefaultUserID is used when a request carries no X-User-ID header.
const DefaultUserID = "default"

type ctxKey int

const userKey ctxKey = iota

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser stores the X-User-ID header (or DefaultUserID) in the request
// context.
func WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, requestUser(r))))
	})
}

func requestUser(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return DefaultUserID
}

// userID returns the user set by WithUser.
func userID(r *http.Request) string {
	if id, ok := r.Context().Value(userKey).(string); ok {
		return id
	}
	return DefaultUserID
}
