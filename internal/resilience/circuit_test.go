package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/config"
)

func TestCircuitBreakerStateString(t *testing.T) {
	//nolint:govet // Test table - alignment not critical
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewCircuitBreaker(t *testing.T) {
	t.Run("creates with config values", func(t *testing.T) {
		cfg := config.CircuitBreakerConfig{
			FailureThreshold:    10,
			SuccessThreshold:    3,
			ResetTimeout:        time.Minute,
			HalfOpenMaxRequests: 2,
		}

		cb := NewCircuitBreaker(cfg, clockwork.NewFakeClock())

		if cb.openAfter != 10 {
			t.Errorf("openAfter = %v, want 10", cb.openAfter)
		}
		if cb.closeAfter != 3 {
			t.Errorf("closeAfter = %v, want 3", cb.closeAfter)
		}
		if cb.resetTimeout != time.Minute {
			t.Errorf("resetTimeout = %v, want 1m", cb.resetTimeout)
		}
		if cb.maxProbes != 2 {
			t.Errorf("maxProbes = %v, want 2", cb.maxProbes)
		}
		if cb.State() != StateClosed {
			t.Errorf("initial state = %v, want closed", cb.State())
		}
	})

	t.Run("applies defaults for zero values", func(t *testing.T) {
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{}, nil)

		if cb.openAfter != 5 {
			t.Errorf("openAfter = %v, want 5", cb.openAfter)
		}
		if cb.closeAfter != 1 {
			t.Errorf("closeAfter = %v, want 1", cb.closeAfter)
		}
		if cb.resetTimeout != 60*time.Second {
			t.Errorf("resetTimeout = %v, want 60s", cb.resetTimeout)
		}
		if cb.maxProbes != 1 {
			t.Errorf("maxProbes = %v, want 1", cb.maxProbes)
		}
	})
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	t.Run("closed to open after failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 3}, clockwork.NewFakeClock())

		cb.RecordFailure()
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Errorf("state after 2 failures = %v, want closed", cb.State())
		}

		cb.RecordFailure()
		if cb.State() != StateOpen {
			t.Errorf("state after 3 failures = %v, want open", cb.State())
		}
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 3}, clockwork.NewFakeClock())

		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		cb.RecordFailure()

		if cb.State() != StateClosed {
			t.Errorf("state = %v, want closed", cb.State())
		}
		if got := cb.Stats().ConsecutiveFails; got != 2 {
			t.Errorf("ConsecutiveFails = %d, want 2", got)
		}
	})

	t.Run("open to half-open after reset timeout", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 1,
			ResetTimeout:     60 * time.Second,
		}, clock)

		cb.RecordFailure()
		if cb.State() != StateOpen {
			t.Fatalf("state = %v, want open", cb.State())
		}

		clock.Advance(59 * time.Second)
		if cb.Allow() {
			t.Error("Allow() = true, want false before reset timeout")
		}

		clock.Advance(time.Second)
		if !cb.Allow() {
			t.Error("Allow() = false, want true after reset timeout")
		}
		if cb.State() != StateHalfOpen {
			t.Errorf("state = %v, want half-open", cb.State())
		}
	})

	t.Run("probe success closes", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}, clock)

		cb.RecordFailure()
		clock.Advance(time.Second)
		cb.Allow()
		cb.RecordSuccess()

		if cb.State() != StateClosed {
			t.Errorf("state = %v, want closed", cb.State())
		}
		if got := cb.Stats().ConsecutiveFails; got != 0 {
			t.Errorf("ConsecutiveFails = %d, want 0", got)
		}
	})

	t.Run("probe failure reopens with fresh timer", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second}, clock)

		cb.RecordFailure()
		clock.Advance(10 * time.Second)
		if !cb.Allow() {
			t.Fatal("probe not allowed")
		}
		cb.RecordFailure()

		if cb.State() != StateOpen {
			t.Fatalf("state = %v, want open", cb.State())
		}
		clock.Advance(5 * time.Second)
		if cb.Allow() {
			t.Error("Allow() = true, want false: timer should restart on reopen")
		}
		clock.Advance(5 * time.Second)
		if !cb.Allow() {
			t.Error("Allow() = false, want true after second reset timeout")
		}
	})

	t.Run("success threshold above one needs several probes", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		cb := NewCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 2,
			ResetTimeout:     time.Second,
		}, clock)

		cb.RecordFailure()
		clock.Advance(time.Second)

		if !cb.Allow() {
			t.Fatal("first probe not allowed")
		}
		cb.RecordSuccess()
		if cb.State() != StateHalfOpen {
			t.Fatalf("state after 1 success = %v, want half-open", cb.State())
		}

		if !cb.Allow() {
			t.Fatal("second probe not allowed after first succeeded")
		}
		cb.RecordSuccess()
		if cb.State() != StateClosed {
			t.Errorf("state after 2 successes = %v, want closed", cb.State())
		}
	})
}

func TestCircuitBreakerHalfOpenProbeLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}, clock)

	cb.RecordFailure()
	clock.Advance(time.Second)

	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}
	for i := 0; i < 5; i++ {
		if cb.Allow() {
			t.Fatalf("Allow() = true for extra request %d, want false while probe in flight", i)
		}
	}
}

func TestCircuitBreakerRelease(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}, clock)

	cb.RecordFailure()
	clock.Advance(time.Second)

	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}
	cb.Release()

	if cb.State() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", cb.State())
	}
	if !cb.Allow() {
		t.Error("Allow() = false after Release, want a new probe")
	}

	closed := NewCircuitBreaker(config.CircuitBreakerConfig{}, clock)
	closed.Release()
	if closed.State() != StateClosed {
		t.Errorf("Release on closed breaker changed state to %v", closed.State())
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 2}, clock)

	clock.Advance(time.Second)
	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.RecordFailure()

	stats := cb.Stats()
	if stats.State != StateOpen {
		t.Errorf("State = %v, want open", stats.State)
	}
	if !stats.LastFailure.Equal(start.Add(2 * time.Second)) {
		t.Errorf("LastFailure = %v, want %v", stats.LastFailure, start.Add(2*time.Second))
	}
	if !stats.LastTransition.Equal(start.Add(2 * time.Second)) {
		t.Errorf("LastTransition = %v, want %v", stats.LastTransition, start.Add(2*time.Second))
	}
}

func TestCircuitBreakerOnStateChange(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}, clock)

	var changes []struct{ from, to State }
	var mu sync.Mutex

	cb.SetOnStateChange(func(from, to State) {
		mu.Lock()
		changes = append(changes, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	cb.RecordFailure() // closed -> open
	clock.Advance(time.Second)
	cb.Allow()         // open -> half-open
	cb.RecordSuccess() // half-open -> closed

	mu.Lock()
	defer mu.Unlock()

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d state changes, want %d", len(changes), len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v -> %v, want %v -> %v", i, changes[i].from, changes[i].to, want[i].from, want[i].to)
		}
	}
}

func TestCircuitBreakerCallbackCanReadState(t *testing.T) {
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1}, clockwork.NewFakeClock())

	done := make(chan struct{})
	var capturedState State
	var capturedStats CircuitBreakerStats

	cb.SetOnStateChange(func(from, to State) {
		capturedState = cb.State()
		capturedStats = cb.Stats()
	})

	go func() {
		cb.RecordFailure()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deadlock detected: callback could not read circuit breaker state")
	}

	if capturedState != StateOpen {
		t.Errorf("callback captured state = %v, want open", capturedState)
	}
	if capturedStats.State != StateOpen {
		t.Errorf("callback captured stats.State = %v, want open", capturedStats.State)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}, clockwork.NewFakeClock())

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("state after reset = %v, want closed", cb.State())
	}
	stats := cb.Stats()
	if stats.ConsecutiveFails != 0 || stats.ConsecutiveSuccs != 0 {
		t.Errorf("counters not reset: fails=%d, succs=%d", stats.ConsecutiveFails, stats.ConsecutiveSuccs)
	}
}

func TestCircuitBreakerConcurrency(t *testing.T) {
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 100, ResetTimeout: time.Second}, nil)

	var wg sync.WaitGroup
	var successCount, failCount atomic.Int64

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if cb.Allow() {
					if j%2 == 0 {
						cb.RecordSuccess()
						successCount.Add(1)
					} else {
						cb.RecordFailure()
						failCount.Add(1)
					}
				}
			}
		}()
	}

	wg.Wait()

	if total := successCount.Load() + failCount.Load(); total < 1000 {
		t.Errorf("total operations = %d, want >= 1000", total)
	}
}

func TestDisabledCircuitBreaker(t *testing.T) {
	cb := NewDisabledCircuitBreaker()

	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	if !cb.Allow() {
		t.Error("Allow() = false, want true")
	}
	cb.Release()
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
	if cb.Stats().ConsecutiveFails != 0 {
		t.Error("Stats() should be zero")
	}
}
