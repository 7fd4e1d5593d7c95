package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/types"
)

// TickerScheduler runs jobs on clock tickers, one goroutine per job.
type TickerScheduler struct {
	clock clockwork.Clock
}

// NewScheduler creates a scheduler driven by clock. A nil clock means the
// real clock.
func NewScheduler(clock clockwork.Clock) *TickerScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TickerScheduler{clock: clock}
}

// Every calls fn once per interval until the job is stopped. Ticks that
// arrive while fn is still running are dropped.
func (s *TickerScheduler) Every(interval time.Duration, fn func()) types.Job {
	j := &tickerJob{
		ticker: s.clock.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go j.run(fn)
	return j
}

type tickerJob struct {
	ticker clockwork.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (j *tickerJob) run(fn func()) {
	for {
		select {
		case <-j.stop:
			return
		case <-j.ticker.Chan():
			select {
			case <-j.stop:
				return
			default:
			}
			fn()
		}
	}
}

// Reset changes the interval. The next tick fires one full interval from now.
func (j *tickerJob) Reset(interval time.Duration) {
	j.ticker.Reset(interval)
}

// Stop ends the job. It does not wait for a running fn.
func (j *tickerJob) Stop() {
	j.once.Do(func() {
		j.ticker.Stop()
		close(j.stop)
	})
}

var _ types.Scheduler = (*TickerScheduler)(nil)
