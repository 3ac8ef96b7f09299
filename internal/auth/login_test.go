package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginStartBuildsPKCEAuthorizeURL(t *testing.T) {
	m := NewManager(tempFileStore(t))
	l := NewLogin(m)

	res, err := l.Start()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.SessionID)

	u, err := url.Parse(res.AuthURL)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "user:inference")

	// The challenge is the S256 hash of the state value (the verifier).
	sum := sha256.Sum256([]byte(q.Get("state")))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
}

func TestLoginCallbackExchangesCode(t *testing.T) {
	var exchanged map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&exchanged))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "login-access",
			"refresh_token": "login-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	store := tempFileStore(t)
	m := NewManager(store).WithTokenURL(srv.URL)
	l := NewLogin(m)

	res, err := l.Start()
	require.NoError(t, err)

	require.NoError(t, l.Callback(context.Background(), res.SessionID, "the-code"))

	assert.Equal(t, "authorization_code", exchanged["grant_type"])
	assert.Equal(t, "the-code", exchanged["code"])
	assert.NotEmpty(t, exchanged["code_verifier"])

	cred, ok, err := store.Get(context.Background(), CredentialKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "login-access", cred.AccessToken)
	assert.Equal(t, "login-refresh", cred.RefreshToken)
	assert.True(t, cred.Valid())
}

func TestLoginCallbackFragmentVerifierWins(t *testing.T) {
	var exchanged map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&exchanged)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "a",
			"refresh_token": "r",
			"expires_in":    60,
		})
	}))
	defer srv.Close()

	m := NewManager(tempFileStore(t)).WithTokenURL(srv.URL)
	l := NewLogin(m)

	require.NoError(t, l.Callback(context.Background(), "no-such-session", "raw-code#fragment-verifier"))

	assert.Equal(t, "raw-code", exchanged["code"])
	assert.Equal(t, "fragment-verifier", exchanged["code_verifier"])
}

func TestLoginCallbackRejectsEmptyCode(t *testing.T) {
	l := NewLogin(NewManager(tempFileStore(t)))

	err := l.Callback(context.Background(), "sess", "   ")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing code"))
}

func TestLoginCallbackUnknownSessionNoVerifier(t *testing.T) {
	l := NewLogin(NewManager(tempFileStore(t)))

	err := l.Callback(context.Background(), "unknown", "bare-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verifier")
}
