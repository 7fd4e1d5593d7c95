package metrics

import (
	"log/slog"
	"time"

	"github.com/LavishGent/freshline/internal/types"
)

// LoggingPublisher writes metrics to a slog logger. The facade uses it when
// metrics are enabled without a DataDog agent. Individual samples log at
// Debug; health snapshots and events at Info.
type LoggingPublisher struct {
	logger   *slog.Logger
	baseTags []string
}

func NewLoggingPublisher(logger *slog.Logger, baseTags ...string) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{
		logger:   logger.With("component", "metrics"),
		baseTags: baseTags,
	}
}

func (p *LoggingPublisher) sample(kind, name string, tags []string, attrs ...any) {
	attrs = append([]any{"name", name}, attrs...)
	p.logger.Debug(kind, append(attrs, "tags", MergeTags(p.baseTags, tags))...)
}

func (p *LoggingPublisher) Gauge(name string, value float64, tags ...string) {
	p.sample("gauge", name, tags, "value", value)
}

func (p *LoggingPublisher) Incr(name string, tags ...string) {
	p.sample("incr", name, tags)
}

func (p *LoggingPublisher) Count(name string, value int64, tags ...string) {
	p.sample("count", name, tags, "value", value)
}

func (p *LoggingPublisher) Histogram(name string, value float64, tags ...string) {
	p.sample("histogram", name, tags, "value", value)
}

func (p *LoggingPublisher) Timing(name string, duration time.Duration, tags ...string) {
	p.sample("timing", name, tags, "duration_ms", duration.Milliseconds())
}

func (p *LoggingPublisher) Event(title, text, alertType string, tags ...string) {
	p.logger.Info("event",
		"title", title,
		"text", text,
		"alert_type", alertType,
		"tags", MergeTags(p.baseTags, tags),
	)
}

// PublishHealthMetrics logs one line with the whole gauge set, grouped by
// component.
func (p *LoggingPublisher) PublishHealthMetrics(m *types.PublisherHealthMetrics) {
	if m == nil {
		return
	}

	p.logger.Info("health_metrics",
		slog.Group("circuit",
			"state", CircuitStateName(m.CircuitState),
			"consecutive_failures", m.ConsecutiveFailures,
			"in_flight", m.InFlightRequests,
		),
		slog.Group("token",
			"remaining_s", m.TokenRemainingSeconds,
			"terminated", m.SessionTerminated,
		),
		slog.Group("cache",
			"entries", m.CacheEntries,
			"stale", m.StaleEntries,
			"subscriptions", m.Subscriptions,
			"polling_keys", m.PollingKeys,
		),
		slog.Group("performance",
			"hit_ratio", m.HitRatio,
			"success_ratio", m.SuccessRatio,
			"avg_latency_ms", m.AverageLatencyMs,
			"p99_latency_ms", m.P99LatencyMs,
		),
	)
}

func (p *LoggingPublisher) Close() error {
	return nil
}

var _ types.Publisher = (*LoggingPublisher)(nil)
