// Package state holds the in-memory request metrics surfaced by the /v1
// status endpoint. Observability only.
package state

import (
	"sync"
	"time"
)

// RequestRecord holds per-request metrics.
type RequestRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Path            string    `json:"path"`
	Model           string    `json:"model"`
	UpstreamModel   string    `json:"upstream_model"`
	Streaming       bool      `json:"streaming"`
	ThinkingEnabled bool      `json:"thinking_enabled"`
	Downgraded      bool      `json:"downgraded"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	CachedTokens    int64     `json:"cached_tokens"`
	StopReason      string    `json:"stop_reason,omitempty"`
	LatencyMs       int64     `json:"latency_ms"`
	StatusCode      int       `json:"status_code"`
	Error           string    `json:"error,omitempty"`
}

// Aggregates holds incrementally maintained statistics.
type Aggregates struct {
	TotalRequests     int64            `json:"total_requests"`
	TotalInputTokens  int64            `json:"total_input_tokens"`
	TotalOutputTokens int64            `json:"total_output_tokens"`
	TotalCachedTokens int64            `json:"total_cached_tokens"`
	ThinkingRequests  int64            `json:"thinking_requests"`
	Downgrades        int64            `json:"downgrades"`
	ModelCounts       map[string]int64 `json:"model_counts"`
	StartTime         time.Time        `json:"start_time"`
}

// MetricsSnapshot is the read-consistent copy returned by Snapshot().
type MetricsSnapshot struct {
	Aggregates Aggregates      `json:"aggregates"`
	Recent     []RequestRecord `json:"recent"`
}

const ringBufferSize = 200

type metricsStore struct {
	mu        sync.RWMutex
	agg       Aggregates
	ring      []RequestRecord
	ringPos   int
	ringCount int
}

// Metrics is the singleton metrics store instance.
var Metrics = &metricsStore{
	agg: Aggregates{
		ModelCounts: make(map[string]int64),
		StartTime:   time.Now(),
	},
	ring: make([]RequestRecord, ringBufferSize),
}

// RecordRequest appends a record to the ring buffer and updates aggregates.
func (m *metricsStore) RecordRequest(rec RequestRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.ringPos] = rec
	m.ringPos = (m.ringPos + 1) % ringBufferSize
	if m.ringCount < ringBufferSize {
		m.ringCount++
	}

	m.agg.TotalRequests++
	m.agg.TotalInputTokens += rec.InputTokens
	m.agg.TotalOutputTokens += rec.OutputTokens
	m.agg.TotalCachedTokens += rec.CachedTokens
	if rec.ThinkingEnabled {
		m.agg.ThinkingRequests++
	}
	if rec.Downgraded {
		m.agg.Downgrades++
	}
	if rec.Model != "" {
		m.agg.ModelCounts[rec.Model]++
	}
}

// Snapshot returns a read-consistent copy of all metrics, newest first.
func (m *metricsStore) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := m.agg
	agg.ModelCounts = make(map[string]int64, len(m.agg.ModelCounts))
	for k, v := range m.agg.ModelCounts {
		agg.ModelCounts[k] = v
	}

	recent := make([]RequestRecord, 0, m.ringCount)
	for i := 0; i < m.ringCount; i++ {
		idx := (m.ringPos - 1 - i + ringBufferSize) % ringBufferSize
		recent = append(recent, m.ring[idx])
	}

	return MetricsSnapshot{Aggregates: agg, Recent: recent}
}
