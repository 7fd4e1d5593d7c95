package freshline

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LavishGent/freshline/internal/types"
)

// Option configures a single cache read.
type Option = types.Option

// WithTTL overrides how long the entry is served without refetching.
func WithTTL(ttl time.Duration) Option {
	return func(o *FetchOptions) {
		o.TTL = ttl
	}
}

// WithStaleThreshold overrides the age after which the entry is reported stale.
func WithStaleThreshold(threshold time.Duration) Option {
	return func(o *FetchOptions) {
		o.StaleThreshold = threshold
	}
}

// LayerOption configures a Layer.
type LayerOption func(*layerOptions)

type layerOptions struct {
	types.LayerOptions

	slogger    *slog.Logger
	publisher  types.Publisher
	registerer prometheus.Registerer
}

func applyLayerOptions(opts []LayerOption) *layerOptions {
	o := &layerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger routes log output through logger.
func WithLogger(logger Logger) LayerOption {
	return func(o *layerOptions) {
		o.Logger = logger
	}
}

// WithSlogLogger sets the structured logger directly. It takes precedence
// over WithLogger.
func WithSlogLogger(logger *slog.Logger) LayerOption {
	return func(o *layerOptions) {
		o.slogger = logger
	}
}

// WithMetrics adds a recorder next to the built-in tracker.
func WithMetrics(recorder MetricsRecorder) LayerOption {
	return func(o *layerOptions) {
		o.Metrics = recorder
	}
}

// WithClock sets the clock for breaker timing, renewal and staleness.
func WithClock(clock clockwork.Clock) LayerOption {
	return func(o *layerOptions) {
		o.Clock = clock
	}
}

// WithScheduler replaces the ticker-based polling scheduler.
func WithScheduler(scheduler Scheduler) LayerOption {
	return func(o *layerOptions) {
		o.Scheduler = scheduler
	}
}

// WithCredentialStore persists credentials in store instead of the
// configured Redis store. The layer closes it on Close.
func WithCredentialStore(store CredentialStore) LayerOption {
	return func(o *layerOptions) {
		o.CredentialStore = store
	}
}

// WithOnAuthIrrecoverable registers fn to run once when the session can no
// longer be renewed.
func WithOnAuthIrrecoverable(fn func(err *Error)) LayerOption {
	return func(o *layerOptions) {
		o.OnAuthIrrecoverable = fn
	}
}

// WithPublisher sends periodic health gauges and session events to p
// instead of the configured DataDog or logging publisher. The layer closes
// it on Close.
func WithPublisher(p Publisher) LayerOption {
	return func(o *layerOptions) {
		o.publisher = p
	}
}

// WithPrometheusRegisterer registers the Prometheus collectors on reg
// instead of the default registerer. It only matters when
// metrics.prometheus.enabled is set.
func WithPrometheusRegisterer(reg prometheus.Registerer) LayerOption {
	return func(o *layerOptions) {
		o.registerer = reg
	}
}

// WithoutResilience disables the circuit breaker and retries.
func WithoutResilience() LayerOption {
	return func(o *layerOptions) {
		o.DisableResilience = true
	}
}
