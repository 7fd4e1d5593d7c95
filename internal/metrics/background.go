package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/types"
)

// HealthFunc returns the gauge set to publish, or nil to skip a tick.
type HealthFunc func() *types.PublisherHealthMetrics

// BackgroundPublisher pushes the layer's health gauges to a Publisher on a
// fixed interval and once more when it stops, so short-lived processes still
// report their final state.
type BackgroundPublisher struct {
	publisher types.Publisher
	logger    *slog.Logger
	clock     clockwork.Clock
	health    HealthFunc
	interval  time.Duration

	cancel    context.CancelFunc
	done      sync.WaitGroup
	stopOnce  sync.Once
	published atomic.Int64
}

func NewBackgroundPublisher(
	publisher types.Publisher,
	interval time.Duration,
	health HealthFunc,
	clock clockwork.Clock,
	logger *slog.Logger,
) *BackgroundPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BackgroundPublisher{
		publisher: publisher,
		interval:  interval,
		health:    health,
		clock:     clock,
		logger:    logger.With("component", "metrics-background"),
	}
}

// Start runs the publish loop until ctx is cancelled or Stop is called.
func (b *BackgroundPublisher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	ticker := b.clock.NewTicker(b.interval)

	b.done.Add(1)
	go func() {
		defer b.done.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				b.publish()
			case <-ctx.Done():
				b.publish()
				return
			}
		}
	}()
	b.logger.Info("Publishing health metrics", "interval", b.interval)
}

// Stop ends the loop after one final publish. Safe to call more than once.
func (b *BackgroundPublisher) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.done.Wait()
		b.logger.Info("Stopped publishing health metrics", "published", b.published.Load())
	})
}

// PublishNow publishes outside the ticker schedule.
func (b *BackgroundPublisher) PublishNow() {
	b.publish()
}

// Published reports how many gauge sets have been handed to the publisher.
func (b *BackgroundPublisher) Published() int64 {
	return b.published.Load()
}

func (b *BackgroundPublisher) publish() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Health metrics callback panicked", "panic", r)
		}
	}()

	if b.health == nil {
		return
	}
	m := b.health()
	if m == nil {
		return
	}
	b.publisher.PublishHealthMetrics(m)
	b.published.Add(1)
}
