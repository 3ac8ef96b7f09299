// Package kv abstracts the remote key-value service used for the persistent
// thinking-cache tier and the remote credential store backend. Two backends
// exist: a Redis-protocol client and an Upstash REST client. Selection
// happens once at startup; absence of both degrades to local-only storage.
package kv

import (
	"context"
	"time"

	"claudebridge/internal/config"
)

// Store is the minimal key-value surface the proxy needs.
type Store interface {
	// Get returns the value for key, reporting whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetEx writes a value with a per-entry TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// FromConfig builds the configured remote store, or nil when none is
// configured. REDIS_URL takes precedence over the Upstash REST credentials.
func FromConfig(cfg *config.Config) Store {
	if cfg.RedisURL != "" {
		if s, err := NewRedis(cfg.RedisURL); err == nil {
			return s
		}
	}
	if cfg.UpstashRESTURL != "" && cfg.UpstashRESTToken != "" {
		return NewUpstash(cfg.UpstashRESTURL, cfg.UpstashRESTToken)
	}
	return nil
}
