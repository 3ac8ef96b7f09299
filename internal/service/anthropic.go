// Package service performs the HTTP calls against the upstream Anthropic API.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"claudebridge/internal/api"
)

const modelsTimeout = 2 * time.Second

// Client dispatches requests to the upstream API. Endpoint URLs are fields
// so tests can point them at a local server.
type Client struct {
	MessagesURL string
	ModelsURL   string
	HTTPClient  *http.Client
}

// NewClient creates a client against the production endpoints. Streaming
// responses can be long-lived, so the HTTP client carries no overall timeout;
// cancellation comes from the request context.
func NewClient() *Client {
	return &Client{
		MessagesURL: api.MessagesEndpoint,
		ModelsURL:   api.ModelsEndpoint,
		HTTPClient:  &http.Client{},
	}
}

// ProxyMessages POSTs a messages body upstream and returns the raw response.
// Non-2xx responses are returned as-is so the caller can forward the upstream
// error body; the caller owns resp.Body.
func (c *Client) ProxyMessages(ctx context.Context, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.MessagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// ModelInfo is one entry of the upstream model catalogue.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// FetchModels retrieves the upstream model catalogue. The call is bounded by
// a short timeout since the caller serves a static fallback list anyway.
func (c *Client) FetchModels(ctx context.Context, accessToken string) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, modelsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ModelsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Anthropic-Version", api.AnthropicVersion)
	req.Header.Set("Anthropic-Beta", api.BetaOAuth)
	req.Header.Set("User-Agent", api.ClientUserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, api.NewHTTPError(resp)
	}

	var parsed struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding models response: %w", err)
	}
	return parsed.Data, nil
}
