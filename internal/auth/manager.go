package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"claudebridge/internal/api"
)

// ErrNotAuthenticated is returned when no usable access token exists and no
// refresh path is available.
var ErrNotAuthenticated = errors.New("no usable OAuth credential")

// Manager loads the stored OAuth credential and refreshes it when it is at
// or past expiry. The store is the single source of truth: the credential is
// re-read on every AccessToken call rather than cached in process state, so
// refresh races collapse to last-writer-wins on the backing store.
type Manager struct {
	store    CredentialStore
	client   *http.Client
	tokenURL string
	now      func() time.Time
	refresh  singleflight.Group
}

// NewManager creates an OAuth manager over the given credential store.
func NewManager(store CredentialStore) *Manager {
	return &Manager{
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Second},
		tokenURL: api.TokenEndpoint,
		now:      time.Now,
	}
}

// WithTokenURL overrides the token endpoint. Used by tests.
func (m *Manager) WithTokenURL(url string) *Manager {
	m.tokenURL = url
	return m
}

// AccessToken returns a currently valid access token, refreshing the stored
// credential when it has expired. Returns ErrNotAuthenticated when no
// credential or refresh path exists.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	cred, ok, err := m.store.Get(ctx, CredentialKey)
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}
	if !ok || cred.Type != "oauth" {
		return "", ErrNotAuthenticated
	}
	if cred.AccessToken != "" && cred.Fresh(m.now()) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	// Coalesce concurrent refreshes; the lock is local to this call and is
	// never held across the store write.
	token, err, _ := m.refresh.Do(CredentialKey, func() (any, error) {
		return m.doRefresh(ctx, cred)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// Authenticated reports whether a usable access token can be produced.
func (m *Manager) Authenticated(ctx context.Context) bool {
	_, err := m.AccessToken(ctx)
	return err == nil
}

// Logout removes the stored credential.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Remove(ctx, CredentialKey)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (m *Manager) doRefresh(ctx context.Context, cred OAuthCredential) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
		"client_id":     api.OAuthClientID(),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token refresh failed (%d): %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token refresh returned no access token")
	}

	updated := OAuthCredential{
		Type:         "oauth",
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expires:      m.now().UnixMilli() + tr.ExpiresIn*1000,
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = cred.RefreshToken
	}
	if err := m.store.Set(ctx, CredentialKey, updated); err != nil {
		return "", fmt.Errorf("saving refreshed credential: %w", err)
	}

	slog.Info("OAuth token refreshed", "expires_in", tr.ExpiresIn)
	return updated.AccessToken, nil
}

// SaveFromTokenResponse persists a credential obtained by the login flow.
func (m *Manager) SaveFromTokenResponse(ctx context.Context, access, refresh string, expiresIn int64) error {
	cred := OAuthCredential{
		Type:         "oauth",
		AccessToken:  access,
		RefreshToken: refresh,
		Expires:      m.now().UnixMilli() + expiresIn*1000,
	}
	return m.store.Set(ctx, CredentialKey, cred)
}
