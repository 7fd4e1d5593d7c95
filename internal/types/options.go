package types

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Option is a functional option for configuring cache reads.
type Option func(*FetchOptions)

// FetchOptions controls freshness decisions for one cache read.
type FetchOptions struct {
	// TTL is how long an entry is served without refetching.
	TTL time.Duration
	// StaleThreshold is the age after which an entry is reported stale.
	StaleThreshold time.Duration
}

// ApplyOptions applies functional options on top of zero values; callers fill in defaults.
func ApplyOptions(opts ...Option) *FetchOptions {
	options := &FetchOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// SubscribeOptions configures a polling subscription.
type SubscribeOptions struct {
	Interval       time.Duration
	StaleThreshold time.Duration
	TTL            time.Duration
	Listener       Listener
}

// LayerOptions holds collaborators injected into a data layer.
type LayerOptions struct {
	// Logger is the structured logger to use.
	Logger Logger
	// Metrics is the metrics recorder.
	Metrics MetricsRecorder
	// Clock drives breaker timing, token renewal and staleness.
	Clock clockwork.Clock
	// Scheduler drives polling loops.
	Scheduler Scheduler
	// CredentialStore persists renewed credentials.
	CredentialStore CredentialStore
	// OnAuthIrrecoverable is called once when renewal fails terminally.
	OnAuthIrrecoverable func(err *Error)
	// DisableResilience disables circuit breaker and retry patterns.
	DisableResilience bool
}
