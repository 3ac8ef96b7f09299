package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"claudebridge/internal/api"
)

const sessionTTL = 10 * time.Minute

type loginSession struct {
	verifier string
	created  time.Time
}

// Login runs the interactive OAuth authorization-code flow against the
// developer console. Sessions are held in memory; the browser completes the
// redirect and pastes the resulting code back into the UI.
type Login struct {
	manager  *Manager
	tokenURL string
	client   *http.Client

	mu       sync.Mutex
	sessions map[string]loginSession
}

// NewLogin creates the login flow helper.
func NewLogin(manager *Manager) *Login {
	return &Login{
		manager:  manager,
		tokenURL: manager.tokenURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		sessions: make(map[string]loginSession),
	}
}

// StartResult is the response of POST /auth/oauth/start.
type StartResult struct {
	Success   bool   `json:"success"`
	AuthURL   string `json:"authUrl"`
	SessionID string `json:"sessionId"`
}

// Start generates a PKCE verifier/challenge pair and the authorize URL.
func (l *Login) Start() (StartResult, error) {
	verifier, err := randomVerifier()
	if err != nil {
		return StartResult{}, fmt.Errorf("generating verifier: %w", err)
	}
	challenge := s256(verifier)
	sessionID := uuid.New().String()

	l.mu.Lock()
	l.pruneLocked()
	l.sessions[sessionID] = loginSession{verifier: verifier, created: time.Now()}
	l.mu.Unlock()

	params := url.Values{
		"code":                  {"true"},
		"client_id":             {api.OAuthClientID()},
		"response_type":         {"code"},
		"redirect_uri":          {api.OAuthRedirectURI},
		"scope":                 {api.OAuthScope},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {verifier},
	}

	return StartResult{
		Success:   true,
		AuthURL:   api.AuthorizeEndpoint + "?" + params.Encode(),
		SessionID: sessionID,
	}, nil
}

// Callback exchanges the pasted authorization code for tokens and stores the
// resulting credential. The code may carry the verifier after a '#'; when it
// does, that portion wins over the stored session verifier.
func (l *Login) Callback(ctx context.Context, sessionID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("missing code")
	}

	verifier := ""
	if idx := strings.Index(code, "#"); idx >= 0 {
		verifier = code[idx+1:]
		code = code[:idx]
	}
	if verifier == "" {
		l.mu.Lock()
		if sess, ok := l.sessions[sessionID]; ok {
			verifier = sess.verifier
		}
		l.mu.Unlock()
	}
	if verifier == "" {
		return fmt.Errorf("no PKCE verifier for session")
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"state":         verifier,
		"client_id":     api.OAuthClientID(),
		"redirect_uri":  api.OAuthRedirectURI,
		"code_verifier": verifier,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("code exchange failed (%d): %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("decoding exchange response: %w", err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return fmt.Errorf("code exchange returned incomplete tokens")
	}

	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()

	return l.manager.SaveFromTokenResponse(ctx, tr.AccessToken, tr.RefreshToken, tr.ExpiresIn)
}

func (l *Login) pruneLocked() {
	cutoff := time.Now().Add(-sessionTTL)
	for id, sess := range l.sessions {
		if sess.created.Before(cutoff) {
			delete(l.sessions, id)
		}
	}
}

func randomVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
