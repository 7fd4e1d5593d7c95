package types

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a normalized failure.
type Code string

const (
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeAuthRejected        Code = "AUTH_REJECTED"
	CodeAuthRefreshFailed   Code = "AUTH_REFRESH_FAILED"
	CodeTimeout             Code = "TIMEOUT"
	CodeValidation          Code = "VALIDATION"
	CodeRequestRejected     Code = "REQUEST_REJECTED"
	CodeCanceled            Code = "CANCELED"
	CodeStorageFailed       Code = "STORAGE_FAILED"
)

// Retryable reports whether failures with this code may succeed on a later call.
func (c Code) Retryable() bool {
	switch c {
	case CodeCircuitOpen, CodeUpstreamUnavailable, CodeTimeout, CodeStorageFailed:
		return true
	default:
		return false
	}
}

var (
	ErrCircuitOpen         = errors.New("freshline: circuit breaker open")
	ErrUpstreamUnavailable = errors.New("freshline: upstream unavailable")
	ErrAuthRejected        = errors.New("freshline: credential rejected")
	ErrAuthRefreshFailed   = errors.New("freshline: credential refresh failed")
	ErrTimeout             = errors.New("freshline: request timed out")
	ErrValidation          = errors.New("freshline: invalid payload")
	ErrRequestRejected     = errors.New("freshline: request rejected")
	ErrCanceled            = errors.New("freshline: request canceled")
	ErrStorageFailed       = errors.New("freshline: payload could not be stored")

	ErrClosed          = errors.New("freshline: closed")
	ErrInvalidKey      = errors.New("freshline: invalid key")
	ErrUnknownKey      = errors.New("freshline: key has no registered fetcher")
	ErrShutdownTimeout = errors.New("freshline: shutdown timeout waiting for background operations")
)

var sentinels = map[Code]error{
	CodeCircuitOpen:         ErrCircuitOpen,
	CodeUpstreamUnavailable: ErrUpstreamUnavailable,
	CodeAuthRejected:        ErrAuthRejected,
	CodeAuthRefreshFailed:   ErrAuthRefreshFailed,
	CodeTimeout:             ErrTimeout,
	CodeValidation:          ErrValidation,
	CodeRequestRejected:     ErrRequestRejected,
	CodeCanceled:            ErrCanceled,
	CodeStorageFailed:       ErrStorageFailed,
}

// Error is the normalized failure produced at the resilience boundary.
// It is the only error shape the client and the cache hand to consumers.
//
//nolint:govet // Error struct - field order follows the documented shape
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Timestamp time.Time
	// StatusCode is the last HTTP status received, zero when none was.
	StatusCode int
	Err        error
}

// NewError creates a normalized error whose retryability follows the code,
// stamped with the wall clock.
func NewError(code Code, message string, cause error) *Error {
	return NewErrorAt(time.Now(), code, message, cause)
}

// NewErrorAt is NewError stamped with now. Components running on an injected
// clock use it so error timestamps line up with snapshot timestamps.
func NewErrorAt(now time.Time, code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code.Retryable(),
		Timestamp: now,
		Err:       cause,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel registered for the error's code, so
// errors.Is(err, ErrCircuitOpen) works on normalized errors.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Code]; ok && s == target {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithStatus records the HTTP status that produced the error.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// AsError extracts a normalized error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable reports whether err may succeed when tried again later.
// Errors that were never normalized are treated as not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	e, ok := AsError(err)
	return ok && e.Retryable
}

// IsCircuitOpen returns true if the error is a circuit open error.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsAuthFailure returns true for errors that require the user to sign in again.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrAuthRefreshFailed)
}

// Normalize converts any error into a normalized error. Errors that already
// are normalized pass through; anything else becomes the fallback code
// wrapping the original.
func Normalize(err error, fallback Code, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(fallback, message, err)
}
