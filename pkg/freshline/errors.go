package freshline

import (
	"errors"

	"github.com/LavishGent/freshline/internal/types"
)

type (
	// Error is the normalized failure returned by the client and the cache.
	Error = types.Error
	// Code classifies a normalized failure.
	Code = types.Code
)

// Normalized error codes.
const (
	CodeCircuitOpen         = types.CodeCircuitOpen
	CodeUpstreamUnavailable = types.CodeUpstreamUnavailable
	CodeAuthRejected        = types.CodeAuthRejected
	CodeAuthRefreshFailed   = types.CodeAuthRefreshFailed
	CodeTimeout             = types.CodeTimeout
	CodeValidation          = types.CodeValidation
	CodeRequestRejected     = types.CodeRequestRejected
	CodeCanceled            = types.CodeCanceled
	CodeStorageFailed       = types.CodeStorageFailed
)

var (
	// ErrCircuitOpen matches CIRCUIT_OPEN errors.
	ErrCircuitOpen = types.ErrCircuitOpen
	// ErrUpstreamUnavailable matches UPSTREAM_UNAVAILABLE errors.
	ErrUpstreamUnavailable = types.ErrUpstreamUnavailable
	// ErrAuthRejected matches AUTH_REJECTED errors.
	ErrAuthRejected = types.ErrAuthRejected
	// ErrAuthRefreshFailed matches AUTH_REFRESH_FAILED errors.
	ErrAuthRefreshFailed = types.ErrAuthRefreshFailed
	// ErrTimeout matches TIMEOUT errors.
	ErrTimeout = types.ErrTimeout
	// ErrValidation matches VALIDATION errors.
	ErrValidation = types.ErrValidation
	// ErrStorageFailed matches STORAGE_FAILED errors.
	ErrStorageFailed = types.ErrStorageFailed
	// ErrClosed indicates that the layer has been closed.
	ErrClosed = types.ErrClosed
	// ErrInvalidKey indicates that a cache key is invalid.
	ErrInvalidKey = types.ErrInvalidKey
	// ErrUnknownKey indicates a refetch for a key that was never read.
	ErrUnknownKey = types.ErrUnknownKey

	// ErrNoStoredCredential is returned by Resume when the store is empty.
	ErrNoStoredCredential = errors.New("freshline: no stored credential")
	// ErrNoCredentialStore is returned by Resume when no store is configured.
	ErrNoCredentialStore = errors.New("freshline: no credential store configured")
)

// AsError returns the normalized error in err's chain.
func AsError(err error) (*Error, bool) {
	return types.AsError(err)
}

// IsCode reports whether err is a normalized error with the given code.
func IsCode(err error, code Code) bool {
	return types.IsCode(err, code)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}

// IsCircuitOpen returns true if the error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return types.IsCircuitOpen(err)
}

// IsAuthFailure returns true for errors that require signing in again.
func IsAuthFailure(err error) bool {
	return types.IsAuthFailure(err)
}
