package metrics

import (
	"time"

	"github.com/LavishGent/freshline/internal/types"
)

// NoOpTracker is a no-operation metrics recorder for tests or when metrics are disabled.
type NoOpTracker struct{}

// NewNoOpTracker creates a new no-op tracker.
func NewNoOpTracker() *NoOpTracker {
	return &NoOpTracker{}
}

func (t *NoOpTracker) RecordRequest(method string, outcome string, latency time.Duration) {}
func (t *NoOpTracker) RecordRetry(attempt int)                                            {}
func (t *NoOpTracker) RecordCircuitBreakerStateChange(from, to string)                    {}
func (t *NoOpTracker) RecordTokenRenewal(ok bool, latency time.Duration)                  {}
func (t *NoOpTracker) RecordCacheHit(key string)                                          {}
func (t *NoOpTracker) RecordCacheMiss(key string)                                         {}
func (t *NoOpTracker) RecordRefresh(key string, latency time.Duration, err error)         {}

// Snapshot returns empty metrics.
func (t *NoOpTracker) Snapshot() types.MetricsSnapshot { return types.MetricsSnapshot{} }

// NoOpPublisher is a no-operation metrics publisher for testing or when disabled.
type NoOpPublisher struct{}

// NewNoOpPublisher creates a new no-op publisher.
func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (p *NoOpPublisher) Gauge(name string, value float64, tags ...string)           {}
func (p *NoOpPublisher) Incr(name string, tags ...string)                           {}
func (p *NoOpPublisher) Count(name string, value int64, tags ...string)             {}
func (p *NoOpPublisher) Histogram(name string, value float64, tags ...string)       {}
func (p *NoOpPublisher) Timing(name string, duration time.Duration, tags ...string) {}
func (p *NoOpPublisher) Event(title, text, alertType string, tags ...string)        {}
func (p *NoOpPublisher) PublishHealthMetrics(metrics *types.PublisherHealthMetrics) {}

// Close does nothing.
func (p *NoOpPublisher) Close() error { return nil }

var (
	_ types.MetricsRecorder = (*NoOpTracker)(nil)
	_ types.Publisher       = (*NoOpPublisher)(nil)
)
