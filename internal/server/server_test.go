package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claudebridge/internal/auth"
	"claudebridge/internal/config"
	"claudebridge/internal/service"
	"claudebridge/internal/thinking"
)

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("API_KEY", "")
	config.Load()

	mgr := auth.NewManager(auth.NewFileStore(filepath.Join(t.TempDir(), "auth.json")))
	srv := New(Options{
		Port:   0,
		Auth:   mgr,
		Login:  auth.NewLogin(mgr),
		Cache:  thinking.NewCache(nil, time.Hour),
		Client: service.NewClient(),
	})
	return srv.Handler
}

func TestStatusRoute(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "claudebridge", body["service"])
	assert.Equal(t, false, body["authenticated"])
	assert.NotNil(t, body["thinking_cache"])
}

func TestLandingPageServesHTML(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "claudebridge")
}

func TestUnknownRouteListsEndpoints(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/chat/completions")
}

func TestAuthStatusRoute(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
}

func TestGetOnCompletionsGivesGuidance(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "POST")
}
