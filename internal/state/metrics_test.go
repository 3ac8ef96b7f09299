package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *metricsStore {
	return &metricsStore{
		agg: Aggregates{
			ModelCounts: make(map[string]int64),
			StartTime:   time.Now(),
		},
		ring: make([]RequestRecord, ringBufferSize),
	}
}

func TestMetricsAggregates(t *testing.T) {
	m := newTestStore()

	m.RecordRequest(RequestRecord{Model: "claude-4-sonnet", InputTokens: 10, OutputTokens: 5, CachedTokens: 2, ThinkingEnabled: true})
	m.RecordRequest(RequestRecord{Model: "claude-4-sonnet", InputTokens: 3, OutputTokens: 1, Downgraded: true})
	m.RecordRequest(RequestRecord{Model: "claude-4.1-opus", InputTokens: 7})

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Aggregates.TotalRequests)
	assert.Equal(t, int64(20), snap.Aggregates.TotalInputTokens)
	assert.Equal(t, int64(6), snap.Aggregates.TotalOutputTokens)
	assert.Equal(t, int64(2), snap.Aggregates.TotalCachedTokens)
	assert.Equal(t, int64(1), snap.Aggregates.ThinkingRequests)
	assert.Equal(t, int64(1), snap.Aggregates.Downgrades)
	assert.Equal(t, int64(2), snap.Aggregates.ModelCounts["claude-4-sonnet"])
	assert.Equal(t, int64(1), snap.Aggregates.ModelCounts["claude-4.1-opus"])
}

func TestMetricsRingBufferNewestFirst(t *testing.T) {
	m := newTestStore()

	for i := 0; i < ringBufferSize+25; i++ {
		m.RecordRequest(RequestRecord{StatusCode: i})
	}

	snap := m.Snapshot()
	require.Len(t, snap.Recent, ringBufferSize)
	assert.Equal(t, ringBufferSize+24, snap.Recent[0].StatusCode)
	assert.Equal(t, 25, snap.Recent[ringBufferSize-1].StatusCode)
	assert.Equal(t, int64(ringBufferSize+25), snap.Aggregates.TotalRequests)
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := newTestStore()
	m.RecordRequest(RequestRecord{Model: "claude-4-sonnet"})

	snap := m.Snapshot()
	snap.Aggregates.ModelCounts["claude-4-sonnet"] = 99

	assert.Equal(t, int64(1), m.Snapshot().Aggregates.ModelCounts["claude-4-sonnet"])
}
