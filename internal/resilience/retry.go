package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/config"
)

// RetryPolicy implements the retry pattern with exponential backoff.
type RetryPolicy struct {
	clock clockwork.Clock

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitter         bool

	shouldRetry func(error) bool
	onRetry     func(attempt int, backoff time.Duration, err error)

	totalRetries atomic.Int64
	totalSuccess atomic.Int64
	totalFailure atomic.Int64
}

// RetryOption customizes a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithRetryClassifier replaces the predicate that decides whether an error is
// worth another attempt.
func WithRetryClassifier(fn func(error) bool) RetryOption {
	return func(rp *RetryPolicy) {
		rp.shouldRetry = fn
	}
}

// WithOnRetry registers a hook called before each backoff wait.
func WithOnRetry(fn func(attempt int, backoff time.Duration, err error)) RetryOption {
	return func(rp *RetryPolicy) {
		rp.onRetry = fn
	}
}

// NewRetryPolicy creates a new retry policy with the given configuration.
// A disabled configuration yields a policy that makes a single attempt.
func NewRetryPolicy(cfg config.RetryConfig, clock clockwork.Clock, opts ...RetryOption) *RetryPolicy {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	rp := &RetryPolicy{
		clock:          clock,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		multiplier:     cfg.Multiplier,
		jitter:         cfg.Jitter,
		shouldRetry:    IsRetryable,
	}

	if !cfg.Enabled {
		rp.maxAttempts = 1
	}
	if rp.maxAttempts <= 0 {
		rp.maxAttempts = 3
	}
	if rp.initialBackoff <= 0 {
		rp.initialBackoff = 100 * time.Millisecond
	}
	if rp.maxBackoff <= 0 {
		rp.maxBackoff = 2 * time.Second
	}
	if rp.multiplier <= 0 {
		rp.multiplier = 2.0
	}

	for _, opt := range opts {
		opt(rp)
	}

	return rp
}

// MaxAttempts returns the total number of attempts, including the first.
func (rp *RetryPolicy) MaxAttempts() int {
	return rp.maxAttempts
}

// Execute runs fn until it succeeds, returns an error the classifier rejects,
// or the attempts are exhausted. fn receives the 1-based attempt number.
// The last error is returned; a context cancelled during a backoff wait
// returns the context's error.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= rp.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			rp.totalSuccess.Add(1)
			return nil
		}

		lastErr = err

		if !rp.shouldRetry(err) {
			rp.totalFailure.Add(1)
			return err
		}

		if attempt == rp.maxAttempts {
			break
		}

		rp.totalRetries.Add(1)
		backoff := rp.Backoff(attempt)
		if rp.onRetry != nil {
			rp.onRetry(attempt, backoff, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rp.clock.After(backoff):
		}
	}

	rp.totalFailure.Add(1)
	return lastErr
}

// Backoff returns the wait after the given failed attempt:
// initial * multiplier^(attempt-1), capped at the maximum, with ±25% jitter.
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(rp.initialBackoff) * math.Pow(rp.multiplier, float64(attempt-1))

	if backoff > float64(rp.maxBackoff) {
		backoff = float64(rp.maxBackoff)
	}

	if rp.jitter {
		jitterRange := backoff * 0.25
		jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
		backoff += jitter
	}

	return time.Duration(backoff)
}

// Stats returns retry statistics.
func (rp *RetryPolicy) Stats() (retries, success, failure int64) {
	return rp.totalRetries.Load(), rp.totalSuccess.Load(), rp.totalFailure.Load()
}
