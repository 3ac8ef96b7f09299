package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store := NewFileStore(path)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok)

	cred := OAuthCredential{
		Type:         "oauth",
		AccessToken:  "acc",
		RefreshToken: "ref",
		Expires:      1234,
	}
	require.NoError(t, store.Set(ctx, CredentialKey, cred))

	got, ok, err := store.Get(ctx, CredentialKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cred, got)

	// File permissions stay owner-only.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, store.Remove(ctx, CredentialKey))
	_, ok, err = store.Get(ctx, CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

	store := NewFileStore(path)
	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func TestCredentialFresh(t *testing.T) {
	cred := OAuthCredential{Expires: 1000}

	assert.True(t, cred.Fresh(msTime(999)))
	assert.False(t, cred.Fresh(msTime(1000)), "expiry boundary is strict")
	assert.False(t, cred.Fresh(msTime(1001)))
}

func TestCredentialValid(t *testing.T) {
	assert.True(t, OAuthCredential{Type: "oauth", AccessToken: "a", RefreshToken: "r", Expires: 1}.Valid())
	assert.False(t, OAuthCredential{Type: "api_key", AccessToken: "a", RefreshToken: "r", Expires: 1}.Valid())
	assert.False(t, OAuthCredential{Type: "oauth", RefreshToken: "r", Expires: 1}.Valid())
}
