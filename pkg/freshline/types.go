package freshline

import (
	"github.com/LavishGent/freshline/internal/cache"
	"github.com/LavishGent/freshline/internal/types"
)

type (
	// Request is the transport-neutral description of a backend call.
	Request = types.Request
	// Response is the transport-neutral result of a backend call.
	Response = types.Response
	// Transport sends one request to the backend.
	Transport = types.Transport
	// TransportFunc adapts a function to the Transport interface.
	TransportFunc = types.TransportFunc

	// Credential is an access token plus the refresh token used to renew it.
	Credential = types.Credential
	// Authenticator exchanges a refresh token for a new credential.
	Authenticator = types.Authenticator
	// AuthenticatorFunc adapts a function to the Authenticator interface.
	AuthenticatorFunc = types.AuthenticatorFunc
	// CredentialStore persists the current credential.
	CredentialStore = types.CredentialStore
	// SecretString redacts its value when printed, logged or marshaled.
	SecretString = types.SecretString

	// Fetcher produces the payload for a cache key.
	Fetcher = types.Fetcher
	// Snapshot is an immutable view of one cache key.
	Snapshot = types.Snapshot
	// Update is delivered to subscription listeners after every refresh.
	Update = types.Update
	// Listener receives subscription updates.
	Listener = types.Listener
	// Subscription is a registered interest in periodic refresh of a key.
	Subscription = cache.Subscription
	// SubscribeOptions configures a subscription.
	SubscribeOptions = types.SubscribeOptions
	// FetchOptions controls freshness decisions for one read.
	FetchOptions = types.FetchOptions

	// Scheduler runs polling loops.
	Scheduler = types.Scheduler
	// Job is a cancellable periodic task.
	Job = types.Job

	// MetricsRecorder records request, token and cache events.
	MetricsRecorder = types.MetricsRecorder
	// Publisher sends gauges and events to an external system.
	Publisher = types.Publisher
	// PublisherHealthMetrics is the gauge set published periodically.
	PublisherHealthMetrics = types.PublisherHealthMetrics
	// Logger provides logging operations.
	Logger = types.Logger
)

// NewCredential creates a credential from raw token strings.
var NewCredential = types.NewCredential

// NewSecretString wraps a secret value.
var NewSecretString = types.NewSecretString

// RequestKey derives a cache key from a request's method, path and query.
func RequestKey(req *Request) string {
	return cache.RequestKey(req)
}

// Decode unmarshals a snapshot's JSON payload into a T.
func Decode[T any](s Snapshot) (T, error) {
	return cache.Decode[T](s)
}
