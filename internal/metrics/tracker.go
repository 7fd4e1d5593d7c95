// Package metrics provides data layer metrics collection and publishing.
package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LavishGent/freshline/internal/types"
)

const (
	defaultLatencyBufferSize = 10000
)

// Outcome labels passed to RecordRequest.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Tracker keeps in-process counters and a latency ring buffer.
type Tracker struct {
	requestCount atomic.Int64
	successCount atomic.Int64
	failureCount atomic.Int64
	retryCount   atomic.Int64

	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	refreshCount    atomic.Int64
	refreshFailures atomic.Int64

	tokenRenewals        atomic.Int64
	tokenRenewalFailures atomic.Int64

	cbStateChanges atomic.Int64

	latencyMu     sync.RWMutex
	latencyBuffer []time.Duration
	latencyIndex  int
	latencyCount  int
}

func NewTracker() *Tracker {
	return &Tracker{
		latencyBuffer: make([]time.Duration, defaultLatencyBufferSize),
	}
}

func (t *Tracker) RecordRequest(method string, outcome string, latency time.Duration) {
	t.requestCount.Add(1)
	if outcome == OutcomeSuccess {
		t.successCount.Add(1)
	} else {
		t.failureCount.Add(1)
	}
	t.recordLatency(latency)
}

func (t *Tracker) RecordRetry(attempt int) {
	t.retryCount.Add(1)
}

// RecordCircuitBreakerStateChange records circuit breaker state transitions.
func (t *Tracker) RecordCircuitBreakerStateChange(from, to string) {
	t.cbStateChanges.Add(1)
}

func (t *Tracker) RecordTokenRenewal(ok bool, latency time.Duration) {
	if ok {
		t.tokenRenewals.Add(1)
	} else {
		t.tokenRenewalFailures.Add(1)
	}
}

func (t *Tracker) RecordCacheHit(key string) {
	t.cacheHits.Add(1)
}

func (t *Tracker) RecordCacheMiss(key string) {
	t.cacheMisses.Add(1)
}

// RecordRefresh records a completed cache refetch.
func (t *Tracker) RecordRefresh(key string, latency time.Duration, err error) {
	t.refreshCount.Add(1)
	if err != nil {
		t.refreshFailures.Add(1)
	}
}

// recordLatency adds a latency measurement using a circular buffer.
func (t *Tracker) recordLatency(latency time.Duration) {
	t.latencyMu.Lock()
	t.latencyBuffer[t.latencyIndex] = latency
	t.latencyIndex = (t.latencyIndex + 1) % len(t.latencyBuffer)
	if t.latencyCount < len(t.latencyBuffer) {
		t.latencyCount++
	}
	t.latencyMu.Unlock()
}

// Snapshot returns current metrics snapshot.
func (t *Tracker) Snapshot() types.MetricsSnapshot {
	t.latencyMu.RLock()
	count := t.latencyCount
	latencyCopy := make([]time.Duration, count)
	if count > 0 {
		if count < len(t.latencyBuffer) {
			copy(latencyCopy, t.latencyBuffer[:count])
		} else {
			// Buffer is full - oldest data starts at latencyIndex
			firstPart := len(t.latencyBuffer) - t.latencyIndex
			copy(latencyCopy[:firstPart], t.latencyBuffer[t.latencyIndex:])
			copy(latencyCopy[firstPart:], t.latencyBuffer[:t.latencyIndex])
		}
	}
	t.latencyMu.RUnlock()

	snapshot := types.MetricsSnapshot{
		Timestamp:            time.Now(),
		RequestCount:         t.requestCount.Load(),
		SuccessCount:         t.successCount.Load(),
		FailureCount:         t.failureCount.Load(),
		RetryCount:           t.retryCount.Load(),
		CacheHits:            t.cacheHits.Load(),
		CacheMisses:          t.cacheMisses.Load(),
		RefreshCount:         t.refreshCount.Load(),
		RefreshFailures:      t.refreshFailures.Load(),
		TokenRenewals:        t.tokenRenewals.Load(),
		TokenRenewalFailures: t.tokenRenewalFailures.Load(),
		CircuitStateChanges:  t.cbStateChanges.Load(),
	}

	if len(latencyCopy) > 0 {
		snapshot.AvgLatencyMs = durationMs(avgDuration(latencyCopy))
		snapshot.P50LatencyMs = durationMs(percentile(latencyCopy, 50))
		snapshot.P95LatencyMs = durationMs(percentile(latencyCopy, 95))
		snapshot.P99LatencyMs = durationMs(percentile(latencyCopy, 99))
	}

	return snapshot
}

// Reset clears all metrics.
func (t *Tracker) Reset() {
	t.requestCount.Store(0)
	t.successCount.Store(0)
	t.failureCount.Store(0)
	t.retryCount.Store(0)
	t.cacheHits.Store(0)
	t.cacheMisses.Store(0)
	t.refreshCount.Store(0)
	t.refreshFailures.Store(0)
	t.tokenRenewals.Store(0)
	t.tokenRenewalFailures.Store(0)
	t.cbStateChanges.Store(0)

	t.latencyMu.Lock()
	t.latencyIndex = 0
	t.latencyCount = 0
	t.latencyMu.Unlock()
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func avgDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	slices.Sort(sorted)

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

var _ types.MetricsRecorder = (*Tracker)(nil)
