// Package prom exposes data layer metrics as Prometheus collectors.
package prom

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/types"
)

// Recorder implements types.MetricsRecorder on a Prometheus registerer.
// Cache keys are never used as label values.
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec

	circuitState       prometheus.Gauge
	circuitTransitions *prometheus.CounterVec

	tokenRenewals        *prometheus.CounterVec
	tokenRenewalDuration prometheus.Histogram

	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	refreshesTotal  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
}

// NewRecorder registers the collectors on registry under namespace.
// It panics if the collectors are already registered.
func NewRecorder(registry prometheus.Registerer, namespace string) *Recorder {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Recorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of backend requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of backend requests including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"attempt"},
		),
		circuitState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
		),
		circuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		tokenRenewals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_renewals_total",
				Help:      "Total number of credential renewals by result",
			},
			[]string{"result"},
		),
		tokenRenewalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_renewal_duration_seconds",
				Help:      "Duration of refresh token exchanges",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of fresh cache reads",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache reads that required a fetch",
			},
		),
		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_refreshes_total",
				Help:      "Total number of cache refetches by result",
			},
			[]string{"result"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_refresh_duration_seconds",
				Help:      "Duration of cache refetches",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

func (r *Recorder) RecordRequest(method string, outcome string, latency time.Duration) {
	r.requestsTotal.WithLabelValues(method, outcome).Inc()
	r.requestDuration.WithLabelValues(method).Observe(latency.Seconds())
}

func (r *Recorder) RecordRetry(attempt int) {
	r.retriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerStateChange counts the transition and sets the state gauge.
func (r *Recorder) RecordCircuitBreakerStateChange(from, to string) {
	r.circuitTransitions.WithLabelValues(from, to).Inc()
	r.circuitState.Set(float64(metrics.CircuitStateValue(to)))
}

func (r *Recorder) RecordTokenRenewal(ok bool, latency time.Duration) {
	r.tokenRenewals.WithLabelValues(result(ok)).Inc()
	r.tokenRenewalDuration.Observe(latency.Seconds())
}

func (r *Recorder) RecordCacheHit(key string) {
	r.cacheHits.Inc()
}

func (r *Recorder) RecordCacheMiss(key string) {
	r.cacheMisses.Inc()
}

func (r *Recorder) RecordRefresh(key string, latency time.Duration, err error) {
	r.refreshesTotal.WithLabelValues(result(err == nil)).Inc()
	r.refreshDuration.Observe(latency.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

var _ types.MetricsRecorder = (*Recorder)(nil)
