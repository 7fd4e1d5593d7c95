package types

import (
	"context"
	"time"
)

// Transport sends one request to the backend. Implementations return an
// error only when no HTTP response was received.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f(ctx, req).
func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Authenticator exchanges a refresh token for a new credential.
type Authenticator interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (Credential, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, refreshToken string) (Credential, error)

// ExchangeRefreshToken calls f(ctx, refreshToken).
func (f AuthenticatorFunc) ExchangeRefreshToken(ctx context.Context, refreshToken string) (Credential, error) {
	return f(ctx, refreshToken)
}

// CredentialStore persists the current credential outside the token manager.
type CredentialStore interface {
	Load(ctx context.Context) (Credential, bool, error)
	Save(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
	Close() error
}

// Fetcher produces the payload for a cache key.
type Fetcher func(ctx context.Context) ([]byte, error)

// Listener receives subscription updates. It runs on the refresh goroutine
// and should return quickly.
type Listener func(Update)

// Job is a cancellable periodic task.
type Job interface {
	Reset(interval time.Duration)
	Stop()
}

// Scheduler runs fn every interval until the returned job is stopped.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Job
}

type MetricsRecorder interface {
	RecordRequest(method string, outcome string, latency time.Duration)
	RecordRetry(attempt int)
	RecordCircuitBreakerStateChange(from, to string)
	RecordTokenRenewal(ok bool, latency time.Duration)
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
	RecordRefresh(key string, latency time.Duration, err error)
}

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Publisher sends metrics to an external system.
type Publisher interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
	Count(name string, value int64, tags ...string)
	Histogram(name string, value float64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
	Event(title, text, alertType string, tags ...string)
	PublishHealthMetrics(metrics *PublisherHealthMetrics)
	Close() error
}
