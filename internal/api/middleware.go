// Package api implements the Omniflow REST API using chi.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/omniflow-labs/omniflow/internal/dispatch"
	"github.com/omniflow-labs/omniflow/internal/namespace"
)

type contextKey string

const namespaceKey contextKey = "namespace"

const maxBodyBytes = 10 << 20

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserMiddleware resolves the request's namespace from the X-User-Id header,
// the user_id query parameter, or a user_id field in a JSON body, in that
// order, and stores it on the request context. A missing identifier falls
// back to the resolver's default namespace; an unsafe one is rejected.
//
// The body is buffered and restored so handlers can still decode it.
func UserMiddleware(resolver *namespace.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-Id")
			if userID == "" {
				userID = r.URL.Query().Get("user_id")
			}
			if userID == "" && r.Body != nil && strings.Contains(r.Header.Get("Content-Type"), "json") {
				raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(raw))
					var probe struct {
						UserID string `json:"user_id"`
					}
					if json.Unmarshal(raw, &probe) == nil {
						userID = probe.UserID
					}
				}
			}

			ns, err := resolver.Resolve(userID)
			if err != nil {
				writeJSON(w, statusFor(err), dispatch.ErrorEnvelope(userID, err))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), namespaceKey, ns)))
		})
	}
}

// namespaceFrom returns the namespace resolved by UserMiddleware.
func namespaceFrom(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceKey).(string); ok {
		return ns
	}
	return namespace.Default
}
