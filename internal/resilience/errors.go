package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/LavishGent/freshline/internal/types"
)

// IsRetryable determines if an attempt error is worth another attempt.
// Normalized errors follow their code, except CIRCUIT_OPEN which must not be
// retried inside the same request. Raw errors are retried only when transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, types.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	if e, ok := types.AsError(err); ok {
		return e.Code == types.CodeUpstreamUnavailable || e.Code == types.CodeTimeout
	}

	return IsTransient(err)
}

// IsTransient reports whether a transport error indicates a temporary network
// condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if IsTimeout(err) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	return false
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransientStatus reports whether an HTTP status is worth retrying:
// 408, 429 and every 5xx.
func IsTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}
