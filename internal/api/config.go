package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultOAuthClientID is the first-party CLI client id registered at the
	// Anthropic developer console. Overridable via ANTHROPIC_OAUTH_CLIENT_ID.
	DefaultOAuthClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	TokenEndpoint     = "https://console.anthropic.com/v1/oauth/token"
	AuthorizeEndpoint = "https://claude.ai/oauth/authorize"
	OAuthRedirectURI  = "https://console.anthropic.com/oauth/code/callback"
	OAuthScope        = "org:create_api_key user:profile user:inference"

	MessagesEndpoint = "https://api.anthropic.com/v1/messages"
	ModelsEndpoint   = "https://api.anthropic.com/v1/models"

	AnthropicVersion = "2023-06-01"
	ClientUserAgent  = "claude-cli/1.0.83 (external, cli)"
	ClientApp        = "cli"

	BetaOAuth                = "oauth-2025-04-20"
	BetaFineGrainedStreaming = "fine-grained-tool-streaming-2025-05-14"
	BetaPromptCaching        = "prompt-caching-2024-07-31"
	BetaInterleavedThinking  = "interleaved-thinking-2025-05-14"
)

// OAuthClientID returns the configured OAuth client id.
func OAuthClientID() string {
	if id := os.Getenv("ANTHROPIC_OAUTH_CLIENT_ID"); id != "" {
		return id
	}
	return DefaultOAuthClientID
}

// BetaFeatures returns the anthropic-beta header value for a messages call.
// The interleaved-thinking beta is included only when thinking is enabled.
func BetaFeatures(thinking bool) string {
	betas := []string{BetaOAuth, BetaFineGrainedStreaming, BetaPromptCaching}
	if thinking {
		betas = append(betas, BetaInterleavedThinking)
	}
	return strings.Join(betas, ",")
}

// BuildMessagesHeaders builds the standard headers for upstream messages calls.
func BuildMessagesHeaders(accessToken string, stream, thinking bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+accessToken)
	h.Set("Anthropic-Version", AnthropicVersion)
	h.Set("Anthropic-Beta", BetaFeatures(thinking))
	h.Set("User-Agent", ClientUserAgent)
	h.Set("X-App", ClientApp)
	h.Set("X-Request-Id", uuid.New().String())
	if stream {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	return h
}
