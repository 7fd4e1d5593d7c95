package resilience

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of in-flight transport calls. Callers wait for a
// slot until their context is done.
type Limiter struct {
	sem           *semaphore.Weighted
	maxConcurrent int

	active        atomic.Int32
	waiting       atomic.Int32
	rejectedCount atomic.Int64
	totalExecuted atomic.Int64
}

// NewLimiter creates a limiter allowing maxConcurrent calls at once.
// A non-positive limit disables limiting.
func NewLimiter(maxConcurrent int) *Limiter {
	l := &Limiter{maxConcurrent: maxConcurrent}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return l
}

// ExecuteCtx runs fn once a slot is available.
func (l *Limiter) ExecuteCtx(ctx context.Context, fn func(context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	l.active.Add(1)
	defer l.active.Add(-1)

	err := fn(ctx)
	l.totalExecuted.Add(1)
	return err
}

func (l *Limiter) acquire(ctx context.Context) error {
	if l.sem == nil {
		return nil
	}
	if l.sem.TryAcquire(1) {
		return nil
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.rejectedCount.Add(1)
		return err
	}
	return nil
}

func (l *Limiter) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}

// ActiveCount returns the number of calls currently holding a slot.
func (l *Limiter) ActiveCount() int {
	return int(l.active.Load())
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		MaxConcurrent: l.maxConcurrent,
		Active:        int(l.active.Load()),
		Waiting:       int(l.waiting.Load()),
		TotalExecuted: l.totalExecuted.Load(),
		TotalRejected: l.rejectedCount.Load(),
	}
}

// LimiterStats contains limiter statistics.
type LimiterStats struct {
	MaxConcurrent int
	Active        int
	Waiting       int
	TotalExecuted int64
	TotalRejected int64
}
