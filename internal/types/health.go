package types

import "time"

// HealthStatus represents the overall health state.
type HealthStatus int

const (
	// HealthStatusHealthy indicates all systems operating normally.
	HealthStatusHealthy HealthStatus = iota + 1
	// HealthStatusDegraded indicates the backend is failing but cached data is still served.
	HealthStatusDegraded
	// HealthStatusUnhealthy indicates the session can no longer authenticate.
	HealthStatusUnhealthy
)

// String returns the string representation of health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthMetrics contains overall data layer health information.
type HealthMetrics struct {
	Timestamp time.Time
	Client    ClientHealthMetrics
	Token     TokenHealthMetrics
	Cache     CacheHealthMetrics
	Status    HealthStatus
}

// ClientHealthMetrics describes the resilient client.
//
//nolint:govet // Metrics struct - logical grouping prioritized for readability
type ClientHealthMetrics struct {
	CircuitBreakerState string
	ConsecutiveFailures int
	LastFailure         time.Time
	LastTransition      time.Time
	InFlight            int
}

// TokenHealthMetrics describes the current credential.
type TokenHealthMetrics struct {
	ExpiresAt  time.Time
	Remaining  time.Duration
	Terminated bool
}

// CacheHealthMetrics describes the polling cache.
type CacheHealthMetrics struct {
	Entries       int
	InFlight      int
	Subscriptions int
	PollingKeys   int
	StaleEntries  int
}

// MetricsSnapshot contains a point-in-time view of data layer metrics.
//
//nolint:govet // Metrics struct with many counters - grouping by category improves readability
type MetricsSnapshot struct {
	Timestamp time.Time

	// Request counters
	RequestCount int64
	SuccessCount int64
	FailureCount int64
	RetryCount   int64

	// Latency metrics (milliseconds)
	AvgLatencyMs float64
	P50LatencyMs float64
	P95LatencyMs float64
	P99LatencyMs float64

	// Cache counters
	CacheHits       int64
	CacheMisses     int64
	RefreshCount    int64
	RefreshFailures int64

	// Auth counters
	TokenRenewals        int64
	TokenRenewalFailures int64

	CircuitStateChanges int64
}

// HitRatio calculates the cache hit ratio.
func (s *MetricsSnapshot) HitRatio() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// SuccessRatio calculates the share of requests that succeeded.
func (s *MetricsSnapshot) SuccessRatio() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.RequestCount)
}

// PublisherHealthMetrics is the flat gauge set published on every interval.
//
//nolint:govet // Metrics struct - logical grouping prioritized for readability
type PublisherHealthMetrics struct {
	// CircuitState is 0 closed, 1 open, 2 half-open.
	CircuitState        int
	ConsecutiveFailures int
	InFlightRequests    int

	TokenRemainingSeconds float64
	SessionTerminated     bool

	CacheEntries  int
	StaleEntries  int
	Subscriptions int
	PollingKeys   int

	HitRatio         float64
	SuccessRatio     float64
	AverageLatencyMs float64
	P99LatencyMs     float64
}
