package handler

import (
	"encoding/json"
	"net/http"

	"claudebridge/internal/auth"
	"claudebridge/internal/state"
	"claudebridge/internal/thinking"
)

// Status serves GET /v1: a summary of proxy health, credential state, cache
// tiers and request metrics.
type Status struct {
	Auth  *auth.Manager
	Cache *thinking.Cache
}

func (h *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := state.Metrics.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service":       "claudebridge",
		"status":        "ok",
		"authenticated": h.Auth.Authenticated(r.Context()),
		"thinking_cache": map[string]any{
			"local_entries": h.Cache.Len(),
			"persistent":    h.Cache.Persistent(),
		},
		"endpoints": endpointList,
		"metrics":   snap.Aggregates,
	})
}

var endpointList = []string{
	"POST /v1/chat/completions",
	"POST /v1/messages",
	"GET /v1/models",
	"GET /v1",
	"POST /auth/oauth/start",
	"POST /auth/oauth/callback",
	"GET /auth/status",
	"GET /auth/logout",
}

// NotFound is the JSON 404 listing the routes the proxy does serve.
func NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":   "unknown route " + r.Method + " " + r.URL.Path,
			"type":      "invalid_request_error",
			"endpoints": endpointList,
		},
	})
}
