package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/types"
)

// FailurePolicy decides how retried requests are counted by the breaker.
type FailurePolicy int

const (
	// PerRequest checks the breaker once per request and records one outcome
	// after retries finish.
	PerRequest FailurePolicy = iota
	// PerAttempt checks the breaker before every attempt and records every
	// attempt's outcome.
	PerAttempt
)

func (p FailurePolicy) String() string {
	switch p {
	case PerRequest:
		return config.FailurePolicyPerRequest
	case PerAttempt:
		return config.FailurePolicyPerAttempt
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses a configured failure policy. The empty string
// selects PerRequest.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", config.FailurePolicyPerRequest:
		return PerRequest, nil
	case config.FailurePolicyPerAttempt:
		return PerAttempt, nil
	default:
		return PerRequest, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Outcome is how the breaker should account for an attempt's result.
type Outcome int

const (
	// OutcomeSuccess means the backend answered.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the backend was unreachable or failing.
	OutcomeFailure
	// OutcomeAbandoned means the call never reached the backend.
	OutcomeAbandoned
	// OutcomeRejected means the breaker refused the call.
	OutcomeRejected
)

// ClassifyOutcome maps an attempt error to its breaker outcome.
func ClassifyOutcome(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	if e, ok := types.AsError(err); ok {
		switch e.Code {
		case types.CodeCircuitOpen:
			return OutcomeRejected
		case types.CodeUpstreamUnavailable, types.CodeTimeout:
			return OutcomeFailure
		case types.CodeCanceled, types.CodeAuthRefreshFailed:
			return OutcomeAbandoned
		default:
			return OutcomeSuccess
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeAbandoned
	}
	return OutcomeFailure
}

// Policy combines the circuit breaker, retry and concurrency limiter.
// Execution order: Breaker -> Retry -> Limiter -> Operation for PerRequest,
// Retry -> Breaker -> Limiter -> Operation for PerAttempt.
type Policy struct {
	clock         clockwork.Clock
	breaker       Breaker
	retry         *RetryPolicy
	limiter       *Limiter
	failurePolicy FailurePolicy
}

// NewPolicy creates a resilience policy from the given configuration.
func NewPolicy(cfg *config.Config, clock clockwork.Clock, retryOpts ...RetryOption) (*Policy, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := &Policy{
		clock:   clock,
		retry:   NewRetryPolicy(cfg.Retry, clock, retryOpts...),
		limiter: NewLimiter(cfg.Client.MaxConcurrent),
	}

	if cfg.CircuitBreaker.Enabled {
		fp, err := ParseFailurePolicy(cfg.CircuitBreaker.FailurePolicy)
		if err != nil {
			return nil, err
		}
		p.failurePolicy = fp
		p.breaker = NewCircuitBreaker(cfg.CircuitBreaker, clock)
	} else {
		p.breaker = NewDisabledCircuitBreaker()
	}

	return p, nil
}

// Execute runs fn through the breaker, retry and limiter. fn receives the
// 1-based attempt number and must return normalized errors for outcomes
// that reached the backend.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempt := func(ctx context.Context, n int) error {
		return p.limiter.ExecuteCtx(ctx, func(ctx context.Context) error {
			return fn(ctx, n)
		})
	}

	if p.failurePolicy == PerAttempt {
		return p.retry.Execute(ctx, func(ctx context.Context, n int) error {
			if !p.breaker.Allow() {
				return p.circuitOpenError()
			}
			err := attempt(ctx, n)
			p.record(err)
			return err
		})
	}

	if !p.breaker.Allow() {
		return p.circuitOpenError()
	}
	err := p.retry.Execute(ctx, attempt)
	p.record(err)
	return err
}

func (p *Policy) record(err error) {
	switch ClassifyOutcome(err) {
	case OutcomeSuccess:
		p.breaker.RecordSuccess()
	case OutcomeFailure:
		p.breaker.RecordFailure()
	case OutcomeAbandoned:
		p.breaker.Release()
	}
}

func (p *Policy) circuitOpenError() *types.Error {
	return types.NewErrorAt(p.clock.Now(), types.CodeCircuitOpen, "circuit breaker is open", nil)
}

// Breaker returns the circuit breaker component.
func (p *Policy) Breaker() Breaker {
	return p.breaker
}

// Retry returns the retry component.
func (p *Policy) Retry() *RetryPolicy {
	return p.retry
}

// Limiter returns the concurrency limiter.
func (p *Policy) Limiter() *Limiter {
	return p.limiter
}

// FailurePolicy returns the configured breaker accounting policy.
func (p *Policy) FailurePolicy() FailurePolicy {
	return p.failurePolicy
}

// CircuitState returns the current circuit breaker state.
func (p *Policy) CircuitState() State {
	return p.breaker.State()
}

// SetOnCircuitStateChange sets a callback for circuit state changes.
func (p *Policy) SetOnCircuitStateChange(fn func(from, to State)) {
	p.breaker.SetOnStateChange(fn)
}
