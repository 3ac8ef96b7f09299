package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "auth.json"))
}

func seedCredential(t *testing.T, store CredentialStore, cred OAuthCredential) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), CredentialKey, cred))
}

func tokenServer(t *testing.T, calls *atomic.Int64, access string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh_token", body["grant_type"])
		assert.Equal(t, "old-refresh", body["refresh_token"])
		assert.NotEmpty(t, body["client_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
}

func TestAccessTokenFreshCredential(t *testing.T) {
	store := tempFileStore(t)
	seedCredential(t, store, OAuthCredential{
		Type:         "oauth",
		AccessToken:  "current-token",
		RefreshToken: "old-refresh",
		Expires:      time.Now().Add(time.Hour).UnixMilli(),
	})

	var calls atomic.Int64
	srv := tokenServer(t, &calls, "unused")
	defer srv.Close()

	m := NewManager(store).WithTokenURL(srv.URL)
	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "current-token", token)
	assert.Equal(t, int64(0), calls.Load(), "fresh token must not trigger a refresh")
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	store := tempFileStore(t)
	now := time.Now()
	seedCredential(t, store, OAuthCredential{
		Type:         "oauth",
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		Expires:      now.UnixMilli() - 1,
	})

	var calls atomic.Int64
	srv := tokenServer(t, &calls, "new-access")
	defer srv.Close()

	m := NewManager(store).WithTokenURL(srv.URL)
	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, int64(1), calls.Load())

	stored, ok, err := store.Get(context.Background(), CredentialKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
	assert.InDelta(t, now.UnixMilli()+3_600_000, stored.Expires, 5000)
}

func TestAccessTokenExpiryIsStrict(t *testing.T) {
	store := tempFileStore(t)
	m := NewManager(store)

	now := time.Now()
	m.now = func() time.Time { return now }

	var calls atomic.Int64
	srv := tokenServer(t, &calls, "boundary-access")
	defer srv.Close()
	m.WithTokenURL(srv.URL)

	// Expires exactly at now: expired, must refresh.
	seedCredential(t, store, OAuthCredential{
		Type:         "oauth",
		AccessToken:  "boundary-token",
		RefreshToken: "old-refresh",
		Expires:      now.UnixMilli(),
	})

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "boundary-access", token)
	assert.Equal(t, int64(1), calls.Load())
}

func TestAccessTokenKeepsRefreshTokenWhenOmitted(t *testing.T) {
	store := tempFileStore(t)
	seedCredential(t, store, OAuthCredential{
		Type:         "oauth",
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		Expires:      1,
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "rotated",
			"expires_in":   60,
		})
	}))
	defer srv.Close()

	m := NewManager(store).WithTokenURL(srv.URL)
	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	stored, _, _ := store.Get(context.Background(), CredentialKey)
	assert.Equal(t, "old-refresh", stored.RefreshToken)
}

func TestAccessTokenNotAuthenticated(t *testing.T) {
	m := NewManager(tempFileStore(t))

	_, err := m.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, m.Authenticated(context.Background()))
}

func TestAccessTokenNoRefreshPath(t *testing.T) {
	store := tempFileStore(t)
	seedCredential(t, store, OAuthCredential{
		Type:        "oauth",
		AccessToken: "stale",
		Expires:     1,
	})

	m := NewManager(store)
	_, err := m.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	store := tempFileStore(t)
	seedCredential(t, store, OAuthCredential{
		Type:         "oauth",
		RefreshToken: "old-refresh",
		AccessToken:  "stale",
		Expires:      1,
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewManager(store).WithTokenURL(srv.URL)
	_, err := m.AccessToken(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogout(t *testing.T) {
	store := tempFileStore(t)
	seedCredential(t, store, OAuthCredential{
		Type:         "oauth",
		AccessToken:  "tok",
		RefreshToken: "ref",
		Expires:      time.Now().Add(time.Hour).UnixMilli(),
	})

	m := NewManager(store)
	require.True(t, m.Authenticated(context.Background()))
	require.NoError(t, m.Logout(context.Background()))
	assert.False(t, m.Authenticated(context.Background()))
}
