package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.IncrementRequest()
	m.IncrementRequest()
	m.IncrementError()
	m.IncrementVoteRecorded()
	m.IncrementVoteRejected()
	m.IncrementProjectFinalized()
	m.IncrementCacheHit()
	m.IncrementCacheHit()
	m.IncrementCacheMiss()

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats["total_requests"])
	assert.Equal(t, int64(1), stats["error_count"])
	assert.InDelta(t, 50.0, stats["error_rate_percent"], 0.001)
	assert.Equal(t, int64(1), stats["votes_recorded"])
	assert.Equal(t, int64(1), stats["votes_rejected"])
	assert.Equal(t, int64(1), stats["projects_finalized"])
	assert.InDelta(t, 66.666, stats["cache_hit_rate_percent"].(float64), 0.01)
}

func TestPercentileResponseTime(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, time.Duration(0), m.PercentileResponseTime(95))

	for i := 1; i <= 100; i++ {
		m.RecordResponseTime(time.Duration(i) * time.Millisecond)
	}

	assert.Equal(t, 50*time.Millisecond, m.PercentileResponseTime(50).Round(time.Millisecond))
	assert.GreaterOrEqual(t, m.PercentileResponseTime(99), 95*time.Millisecond)
}

func TestResponseTimeWindowIsBounded(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < responseTimeWindow+100; i++ {
		m.RecordResponseTime(time.Millisecond)
	}

	m.responseMu.RLock()
	defer m.responseMu.RUnlock()
	assert.Len(t, m.responseTimes, responseTimeWindow)
}

func TestStatusCodeDistribution(t *testing.T) {
	m := NewMetrics()
	m.RecordRequestByStatus(200)
	m.RecordRequestByStatus(200)
	m.RecordRequestByStatus(409)

	dist := m.StatusCodeDistribution()
	assert.Equal(t, int64(2), dist[200])
	assert.Equal(t, int64(1), dist[409])
}

func TestReset(t *testing.T) {
	m := NewMetrics()
	m.IncrementRequest()
	m.RecordResponseTime(time.Second)
	m.RecordRequestByStatus(200)

	m.Reset()

	stats := m.GetStats()
	assert.Equal(t, int64(0), stats["total_requests"])
	assert.Empty(t, m.StatusCodeDistribution())
}
