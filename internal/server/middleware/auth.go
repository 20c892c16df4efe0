// Package middleware provides the HTTP middleware chain: authentication,
// request logging, and rate limiting.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type principalKey struct{}

// Auth returns middleware that resolves the caller's principal address from a
// bearer token. tokens maps each accepted token to the address it acts as.
// With an empty map authentication is disabled and every request carries the
// zero principal, which holds no keeper or admin capability.
func Auth(tokens map[string]common.Address) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			// Constant-time comparison against every configured token so
			// the match position does not leak.
			var principal common.Address
			matched := false
			for t, addr := range tokens {
				if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
					principal = addr
					matched = true
				}
			}
			if !matched {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Principal returns the authenticated principal address for the request, or
// the zero address when authentication is disabled.
func Principal(ctx context.Context) common.Address {
	if addr, ok := ctx.Value(principalKey{}).(common.Address); ok {
		return addr
	}
	return common.Address{}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
