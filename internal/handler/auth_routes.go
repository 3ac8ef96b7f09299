package handler

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"

	"claudebridge/internal/api"
	"claudebridge/internal/auth"
)

//go:embed login.html
var loginHTML []byte

// LoginPage serves the embedded login UI.
func LoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(loginHTML)
}

// AuthRoutes serves the OAuth login endpoints backing the login page.
type AuthRoutes struct {
	Login   *auth.Login
	Manager *auth.Manager
}

// Start handles POST /auth/oauth/start and POST /auth/login/start.
func (h *AuthRoutes) Start(w http.ResponseWriter, r *http.Request) {
	result, err := h.Login.Start()
	if err != nil {
		api.ForwardError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Callback handles POST /auth/oauth/callback with the pasted code.
func (h *AuthRoutes) Callback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
		Code      string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_request_error", "", "missing authorization code")
		return
	}

	if err := h.Login.Callback(r.Context(), body.SessionID, body.Code); err != nil {
		slog.Warn("oauth callback failed", "error", err)
		api.WriteError(w, http.StatusBadRequest, "invalid_request_error", "", err.Error())
		return
	}

	slog.Info("oauth login complete")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Status handles GET /auth/status.
func (h *AuthRoutes) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{
		"authenticated": h.Manager.Authenticated(r.Context()),
	})
}

// Logout handles GET /auth/logout.
func (h *AuthRoutes) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Logout(r.Context()); err != nil {
		api.ForwardError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
