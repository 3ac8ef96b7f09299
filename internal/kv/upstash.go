package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Upstash is a Store backed by the Upstash Redis REST API. Commands are sent
// as a JSON array in the request body; results come back as {"result": ...}.
type Upstash struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewUpstash creates an Upstash REST store.
func NewUpstash(baseURL, token string) *Upstash {
	return &Upstash{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (u *Upstash) Get(ctx context.Context, key string) (string, bool, error) {
	result, err := u.command(ctx, []any{"GET", key})
	if err != nil {
		return "", false, err
	}
	if result == nil {
		return "", false, nil
	}
	s, ok := result.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected GET result type %T", result)
	}
	return s, true, nil
}

func (u *Upstash) Set(ctx context.Context, key, value string) error {
	_, err := u.command(ctx, []any{"SET", key, value})
	return err
}

func (u *Upstash) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err := u.command(ctx, []any{"SETEX", key, strconv.FormatInt(seconds, 10), value})
	return err
}

func (u *Upstash) Remove(ctx context.Context, key string) error {
	_, err := u.command(ctx, []any{"DEL", key})
	return err
}

func (u *Upstash) command(ctx context.Context, cmd []any) (any, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating upstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstash request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstash response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstash command failed (%d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Result any    `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding upstash response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("upstash error: %s", parsed.Error)
	}
	return parsed.Result, nil
}
