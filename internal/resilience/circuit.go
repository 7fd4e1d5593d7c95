// Package resilience provides the fault tolerance patterns used by the
// resilient client: circuit breaker, retry with backoff and a concurrency limiter.
package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/config"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the circuit breaker contract the client depends on.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
	Release()
	State() State
	Stats() CircuitBreakerStats
	SetOnStateChange(fn func(from, to State))
}

var (
	_ Breaker = (*CircuitBreaker)(nil)
	_ Breaker = (*DisabledCircuitBreaker)(nil)
)

// CircuitBreaker stops calls to a failing backend until it recovers.
type CircuitBreaker struct {
	clock clockwork.Clock

	openAfter    int
	closeAfter   int
	resetTimeout time.Duration
	maxProbes    int

	state atomic.Int32

	// Guarded by mu. probes counts half-open calls admitted and not yet
	// resolved.
	mu             sync.Mutex
	failures       int
	probeSuccesses int
	probes         int
	openedAt       time.Time
	lastFailure    time.Time
	lastTransition time.Time

	notify func(from, to State)
}

// stateChange carries a pending callback out of the critical section.
type stateChange struct {
	from     State
	to       State
	callback func(from, to State)
}

// NewCircuitBreaker builds a closed breaker. Zero config values fall back to
// 5 failures, 1 success, a 60s reset timeout and a single probe. A nil clock
// uses the real clock.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, clock clockwork.Clock) *CircuitBreaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cb := &CircuitBreaker{
		clock:        clock,
		openAfter:    cfg.FailureThreshold,
		closeAfter:   cfg.SuccessThreshold,
		resetTimeout: cfg.ResetTimeout,
		maxProbes:    cfg.HalfOpenMaxRequests,
	}

	if cb.openAfter <= 0 {
		cb.openAfter = 5
	}
	if cb.closeAfter <= 0 {
		cb.closeAfter = 1
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 60 * time.Second
	}
	if cb.maxProbes <= 0 {
		cb.maxProbes = 1
	}

	cb.state.Store(int32(StateClosed))
	cb.lastTransition = clock.Now()

	return cb
}

// Allow checks if a request should be allowed through. The first call after
// the reset timeout moves the breaker to half-open and is the probe.
func (cb *CircuitBreaker) Allow() bool {
	if State(cb.state.Load()) == StateClosed {
		return true
	}

	var transition *stateChange
	var allowed bool

	cb.mu.Lock()
	switch State(cb.state.Load()) {
	case StateClosed:
		allowed = true

	case StateOpen:
		if cb.clock.Since(cb.openedAt) >= cb.resetTimeout {
			transition = cb.moveTo(StateHalfOpen)
			cb.probes = 1
			allowed = true
		}

	case StateHalfOpen:
		allowed = cb.takeProbe()
	}
	cb.mu.Unlock()

	transition.invoke()
	return allowed
}

func (cb *CircuitBreaker) takeProbe() bool {
	if cb.probes < cb.maxProbes {
		cb.probes++
		return true
	}
	return false
}

// RecordSuccess records a call that reached the backend and got an answer.
func (cb *CircuitBreaker) RecordSuccess() {
	var transition *stateChange

	cb.mu.Lock()
	switch State(cb.state.Load()) {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.closeAfter {
			transition = cb.moveTo(StateClosed)
		} else if cb.probes > 0 {
			// Free the slot so the next probe can confirm recovery.
			cb.probes--
		}
	}
	cb.mu.Unlock()

	transition.invoke()
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	var transition *stateChange

	cb.mu.Lock()
	cb.lastFailure = cb.clock.Now()

	switch State(cb.state.Load()) {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.openAfter {
			transition = cb.moveTo(StateOpen)
		}

	case StateHalfOpen:
		transition = cb.moveTo(StateOpen)
	}
	cb.mu.Unlock()

	transition.invoke()
}

// Release returns a half-open probe slot that was granted by Allow but never
// reached the backend. It is a no-op in other states.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if State(cb.state.Load()) == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// moveTo changes state and resets the counters the new state starts from.
// Caller holds mu and invokes the returned change after unlocking.
func (cb *CircuitBreaker) moveTo(next State) *stateChange {
	prev := State(cb.state.Load())
	if prev == next {
		return nil
	}

	now := cb.clock.Now()
	cb.probeSuccesses = 0
	cb.probes = 0
	switch next {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = now
	}

	cb.lastTransition = now
	cb.state.Store(int32(next))

	if cb.notify != nil {
		return &stateChange{
			from:     prev,
			to:       next,
			callback: cb.notify,
		}
	}
	return nil
}

func (t *stateChange) invoke() {
	if t != nil && t.callback != nil {
		t.callback(t.from, t.to)
	}
}

func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

func (cb *CircuitBreaker) IsClosed() bool {
	return cb.State() == StateClosed
}

// SetOnStateChange sets a callback for state changes. The callback runs
// synchronously outside the breaker's lock and may read breaker state.
func (cb *CircuitBreaker) SetOnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.notify = fn
}

// Reset closes the breaker and clears every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	transition := cb.moveTo(StateClosed)
	cb.failures = 0
	cb.probeSuccesses = 0
	cb.probes = 0
	cb.mu.Unlock()

	transition.invoke()
}

// Stats returns a consistent copy of the counters and timestamps.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:            cb.State(),
		ConsecutiveFails: cb.failures,
		ConsecutiveSuccs: cb.probeSuccesses,
		HalfOpenRequests: cb.probes,
		LastFailure:      cb.lastFailure,
		LastTransition:   cb.lastTransition,
	}
}

// CircuitBreakerStats is a point-in-time view of a breaker.
type CircuitBreakerStats struct {
	State            State
	ConsecutiveFails int
	ConsecutiveSuccs int
	HalfOpenRequests int
	LastFailure      time.Time
	LastTransition   time.Time
}

// DisabledCircuitBreaker lets every call through and never changes state.
// It is used when circuitBreaker.enabled is false.
type DisabledCircuitBreaker struct{}

func NewDisabledCircuitBreaker() *DisabledCircuitBreaker {
	return &DisabledCircuitBreaker{}
}

func (*DisabledCircuitBreaker) Allow() bool                           { return true }
func (*DisabledCircuitBreaker) RecordSuccess()                        {}
func (*DisabledCircuitBreaker) RecordFailure()                        {}
func (*DisabledCircuitBreaker) Release()                              {}
func (*DisabledCircuitBreaker) State() State                          { return StateClosed }
func (*DisabledCircuitBreaker) Stats() CircuitBreakerStats            { return CircuitBreakerStats{} }
func (*DisabledCircuitBreaker) SetOnStateChange(func(from, to State)) {}
