package metrics

import (
	"time"

	"github.com/LavishGent/freshline/internal/types"
)

// Multi fans every recording out to each wrapped recorder in order.
type Multi []types.MetricsRecorder

// NewMulti drops nil recorders.
func NewMulti(recorders ...types.MetricsRecorder) Multi {
	m := make(Multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) RecordRequest(method string, outcome string, latency time.Duration) {
	for _, r := range m {
		r.RecordRequest(method, outcome, latency)
	}
}

func (m Multi) RecordRetry(attempt int) {
	for _, r := range m {
		r.RecordRetry(attempt)
	}
}

func (m Multi) RecordCircuitBreakerStateChange(from, to string) {
	for _, r := range m {
		r.RecordCircuitBreakerStateChange(from, to)
	}
}

func (m Multi) RecordTokenRenewal(ok bool, latency time.Duration) {
	for _, r := range m {
		r.RecordTokenRenewal(ok, latency)
	}
}

func (m Multi) RecordCacheHit(key string) {
	for _, r := range m {
		r.RecordCacheHit(key)
	}
}

func (m Multi) RecordCacheMiss(key string) {
	for _, r := range m {
		r.RecordCacheMiss(key)
	}
}

func (m Multi) RecordRefresh(key string, latency time.Duration, err error) {
	for _, r := range m {
		r.RecordRefresh(key, latency, err)
	}
}

var _ types.MetricsRecorder = Multi(nil)
