package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds the application's in-process counters. All counters are
// monotonic; percentiles derive from a bounded sliding window of samples.
type Metrics struct {
	RequestCount int64
	ErrorCount   int64

	VotesRecorded     int64
	VotesRejected     int64
	AnalysesRun       int64
	ProjectsCreated   int64
	ProjectsFinalized int64

	GitHubAPICalls  int64
	LedgerCalls     int64
	LedgerFailures  int64
	CacheHits       int64
	CacheMisses     int64
	RateLimitBlocks int64

	StartTime time.Time

	responseTimes []time.Duration
	responseMu    sync.RWMutex

	requestsByStatus map[int]int64
	statusMu         sync.RWMutex
}

const responseTimeWindow = 1000

// NewMetrics creates a metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:        time.Now(),
		responseTimes:    make([]time.Duration, 0, responseTimeWindow),
		requestsByStatus: make(map[int]int64),
	}
}

func (m *Metrics) IncrementRequest()          { atomic.AddInt64(&m.RequestCount, 1) }
func (m *Metrics) IncrementError()            { atomic.AddInt64(&m.ErrorCount, 1) }
func (m *Metrics) IncrementVoteRecorded()     { atomic.AddInt64(&m.VotesRecorded, 1) }
func (m *Metrics) IncrementVoteRejected()     { atomic.AddInt64(&m.VotesRejected, 1) }
func (m *Metrics) IncrementAnalysisRun()      { atomic.AddInt64(&m.AnalysesRun, 1) }
func (m *Metrics) IncrementProjectCreated()   { atomic.AddInt64(&m.ProjectsCreated, 1) }
func (m *Metrics) IncrementProjectFinalized() { atomic.AddInt64(&m.ProjectsFinalized, 1) }
func (m *Metrics) IncrementGitHubCalls()      { atomic.AddInt64(&m.GitHubAPICalls, 1) }
func (m *Metrics) IncrementLedgerCall()       { atomic.AddInt64(&m.LedgerCalls, 1) }
func (m *Metrics) IncrementLedgerFailure()    { atomic.AddInt64(&m.LedgerFailures, 1) }
func (m *Metrics) IncrementCacheHit()         { atomic.AddInt64(&m.CacheHits, 1) }
func (m *Metrics) IncrementCacheMiss()        { atomic.AddInt64(&m.CacheMisses, 1) }
func (m *Metrics) IncrementRateLimitBlock()   { atomic.AddInt64(&m.RateLimitBlocks, 1) }

// RecordResponseTime stores a sample in the sliding window
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.responseMu.Lock()
	m.responseTimes = append(m.responseTimes, duration)
	if len(m.responseTimes) > responseTimeWindow {
		m.responseTimes = m.responseTimes[1:]
	}
	m.responseMu.Unlock()
}

// RecordRequestByStatus counts one request against its status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.requestsByStatus[statusCode]++
}

// PercentileResponseTime calculates a percentile over the sample window
func (m *Metrics) PercentileResponseTime(percentile float64) time.Duration {
	m.responseMu.RLock()
	defer m.responseMu.RUnlock()

	if len(m.responseTimes) == 0 {
		return 0
	}
	times := make([]time.Duration, len(m.responseTimes))
	copy(times, m.responseTimes)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	index := int(float64(len(times)-1) * percentile / 100.0)
	return times[index]
}

// StatusCodeDistribution returns a copy of the per-status request counts
func (m *Metrics) StatusCodeDistribution() map[int]int64 {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()

	distribution := make(map[int]int64, len(m.requestsByStatus))
	for code, count := range m.requestsByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetStats returns a snapshot of all counters for the health endpoint
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}
	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.StartTime).Seconds(),
		"total_requests":           requests,
		"error_count":              errors,
		"error_rate_percent":       errorRate,
		"votes_recorded":           atomic.LoadInt64(&m.VotesRecorded),
		"votes_rejected":           atomic.LoadInt64(&m.VotesRejected),
		"analyses_run":             atomic.LoadInt64(&m.AnalysesRun),
		"projects_created":         atomic.LoadInt64(&m.ProjectsCreated),
		"projects_finalized":       atomic.LoadInt64(&m.ProjectsFinalized),
		"github_api_calls":         atomic.LoadInt64(&m.GitHubAPICalls),
		"ledger_calls":             atomic.LoadInt64(&m.LedgerCalls),
		"ledger_failures":          atomic.LoadInt64(&m.LedgerFailures),
		"cache_hits":               cacheHits,
		"cache_misses":             cacheMisses,
		"cache_hit_rate_percent":   cacheHitRate,
		"rate_limit_blocks":        atomic.LoadInt64(&m.RateLimitBlocks),
		"p50_response_time_ms":     float64(m.PercentileResponseTime(50)) / 1e6,
		"p95_response_time_ms":     float64(m.PercentileResponseTime(95)) / 1e6,
		"p99_response_time_ms":     float64(m.PercentileResponseTime(99)) / 1e6,
		"status_code_distribution": m.StatusCodeDistribution(),
		"start_time":               m.StartTime.Format(time.RFC3339),
	}
}

// Reset clears all counters, useful for tests
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.RequestCount, 0)
	atomic.StoreInt64(&m.ErrorCount, 0)
	atomic.StoreInt64(&m.VotesRecorded, 0)
	atomic.StoreInt64(&m.VotesRejected, 0)
	atomic.StoreInt64(&m.AnalysesRun, 0)
	atomic.StoreInt64(&m.ProjectsCreated, 0)
	atomic.StoreInt64(&m.ProjectsFinalized, 0)
	atomic.StoreInt64(&m.GitHubAPICalls, 0)
	atomic.StoreInt64(&m.LedgerCalls, 0)
	atomic.StoreInt64(&m.LedgerFailures, 0)
	atomic.StoreInt64(&m.CacheHits, 0)
	atomic.StoreInt64(&m.CacheMisses, 0)
	atomic.StoreInt64(&m.RateLimitBlocks, 0)

	m.responseMu.Lock()
	m.responseTimes = m.responseTimes[:0]
	m.responseMu.Unlock()

	m.statusMu.Lock()
	m.requestsByStatus = make(map[int]int64)
	m.statusMu.Unlock()

	m.StartTime = time.Now()
}
