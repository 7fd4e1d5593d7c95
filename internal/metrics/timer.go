package metrics

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/types"
)

// Timer is a helper for measuring operation latency.
type Timer struct {
	publisher types.Publisher
	clock     clockwork.Clock
	start     time.Time
	name      string
	tags      []string
}

// NewTimer creates a new timer that will record to the publisher when stopped.
func NewTimer(publisher types.Publisher, name string, tags ...string) *Timer {
	return NewTimerWithClock(publisher, clockwork.NewRealClock(), name, tags...)
}

// NewTimerWithClock is NewTimer driven by the given clock.
func NewTimerWithClock(publisher types.Publisher, clock clockwork.Clock, name string, tags ...string) *Timer {
	return &Timer{
		publisher: publisher,
		clock:     clock,
		name:      name,
		tags:      tags,
		start:     clock.Now(),
	}
}

// Stop records the elapsed time as a timing metric and returns the duration.
func (t *Timer) Stop() time.Duration {
	duration := t.clock.Since(t.start)
	t.publisher.Timing(t.name, duration, t.tags...)
	return duration
}

// Elapsed returns the time since the timer was started without recording.
func (t *Timer) Elapsed() time.Duration {
	return t.clock.Since(t.start)
}
