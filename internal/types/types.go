// Package types provides shared types for the freshline data access layer.
// This package breaks import cycles between pkg/freshline and the internal components.
package types

import (
	"net/http"
	"time"
)

// Request is the transport-neutral description of a backend call.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy so retries never observe header mutations made
// by a previous attempt.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := &Request{
		Method: r.Method,
		Path:   r.Path,
		Header: r.Header.Clone(),
	}
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Response is the transport-neutral result of a backend call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Credential is a short-lived access token plus the refresh token used to renew it.
type Credential struct {
	AccessToken  SecretString
	RefreshToken SecretString
	ExpiresAt    time.Time
}

// NewCredential creates a credential from raw token strings.
func NewCredential(accessToken, refreshToken string, expiresAt time.Time) Credential {
	return Credential{
		AccessToken:  NewSecretString(accessToken),
		RefreshToken: NewSecretString(refreshToken),
		ExpiresAt:    expiresAt,
	}
}

// ValidFor reports whether the credential remains usable for longer than buffer after now.
func (c Credential) ValidFor(now time.Time, buffer time.Duration) bool {
	if c.AccessToken.IsEmpty() || c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) > buffer
}

// IsZero reports whether no credential has been set.
func (c Credential) IsZero() bool {
	return c.AccessToken.IsEmpty() && c.RefreshToken.IsEmpty() && c.ExpiresAt.IsZero()
}

// Snapshot is an immutable view of one cache key as seen by a consumer.
//
//nolint:govet // Snapshot struct - logical grouping prioritized for readability
type Snapshot struct {
	Key       string
	Payload   []byte
	FetchedAt time.Time

	// HasData is false until the first successful fetch for the key.
	HasData bool
	// Loading is true when no data exists yet and a fetch is in flight.
	Loading bool
	// Fetching is true whenever a fetch for the key is in flight.
	Fetching bool
	// Fresh is true while the entry is younger than its TTL.
	Fresh bool
	// Stale is true once the entry is older than the stale threshold.
	Stale bool

	// Err is the most recent fetch failure, nil after a successful fetch.
	Err *Error
}

// Age returns how long ago the payload was fetched.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// Update is delivered to subscription listeners after every refresh attempt.
type Update struct {
	Snapshot
	SubscriptionID string
}
