package freshline

import (
	"github.com/LavishGent/freshline/internal/types"
)

// Re-export health types from internal/types.
type (
	// HealthStatus represents the overall health state.
	HealthStatus = types.HealthStatus

	// HealthMetrics contains overall data layer health information.
	HealthMetrics = types.HealthMetrics

	// ClientHealthMetrics describes the breaker and in-flight calls.
	ClientHealthMetrics = types.ClientHealthMetrics

	// TokenHealthMetrics describes the current credential.
	TokenHealthMetrics = types.TokenHealthMetrics

	// CacheHealthMetrics describes the polling cache.
	CacheHealthMetrics = types.CacheHealthMetrics

	// MetricsSnapshot contains a point-in-time view of data layer metrics.
	MetricsSnapshot = types.MetricsSnapshot
)

// Re-export health status constants.
const (
	HealthStatusHealthy   = types.HealthStatusHealthy
	HealthStatusDegraded  = types.HealthStatusDegraded
	HealthStatusUnhealthy = types.HealthStatusUnhealthy
)
