// Package middleware holds the HTTP middleware for the proxy server.
package middleware

import (
	"net/http"
	"strings"

	"claudebridge/internal/api"
	"claudebridge/internal/config"
)

// APIKey returns a middleware that requires the configured local API key on
// API routes. When no key is configured, the check is disabled. The landing
// page, the browser login flow and CORS preflight always bypass it.
func APIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions ||
			r.URL.Path == "/" ||
			r.URL.Path == "/index.html" ||
			strings.HasPrefix(r.URL.Path, "/auth/") {
			next.ServeHTTP(w, r)
			return
		}

		key := config.Get().APIKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if extractAPIKey(r) != key {
			w.Header().Set("WWW-Authenticate", `Bearer realm="claudebridge"`)
			api.WriteError(w, http.StatusUnauthorized, "authentication_error", "", "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAPIKey reads the key from x-api-key or Authorization: Bearer.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
