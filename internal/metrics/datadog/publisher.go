// Package datadog provides a DataDog StatsD metrics publisher.
package datadog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/types"
)

// Publisher sends the layer's gauges and events to a DogStatsD agent.
type Publisher struct {
	baseTags []string
	client   statsd.ClientInterface
	logger   *slog.Logger
}

// NewPublisher creates a new DataDog publisher from config.
// A disabled config yields a no-op publisher.
func NewPublisher(cfg *config.DataDogConfig, logger *slog.Logger) (types.Publisher, error) {
	if !cfg.Enabled {
		return metrics.NewNoOpPublisher(), nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	addr := fmt.Sprintf("%s:%d", cfg.AgentHost, cfg.Port)

	client, err := statsd.New(addr,
		statsd.WithNamespace(cfg.Prefix+"."),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		return nil, fmt.Errorf("datadog: creating statsd client for %s: %w", addr, err)
	}

	logger.Info("DataDog publisher initialized",
		"address", addr,
		"prefix", cfg.Prefix,
		"tags", cfg.Tags,
	)

	return newPublisher(client, nil, logger), nil
}

// newPublisher wraps an existing client. Base tags are usually applied by
// the client itself.
func newPublisher(client statsd.ClientInterface, baseTags []string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		baseTags: baseTags,
		logger:   logger.With("component", "datadog"),
	}
}

func (p *Publisher) Gauge(name string, value float64, tags ...string) {
	p.sent("gauge", name, p.client.Gauge(name, value, p.mergeTags(tags), 1))
}

func (p *Publisher) Incr(name string, tags ...string) {
	p.sent("incr", name, p.client.Incr(name, p.mergeTags(tags), 1))
}

func (p *Publisher) Count(name string, value int64, tags ...string) {
	p.sent("count", name, p.client.Count(name, value, p.mergeTags(tags), 1))
}

func (p *Publisher) Histogram(name string, value float64, tags ...string) {
	p.sent("histogram", name, p.client.Histogram(name, value, p.mergeTags(tags), 1))
}

func (p *Publisher) Timing(name string, duration time.Duration, tags ...string) {
	p.sent("timing", name, p.client.Timing(name, duration, p.mergeTags(tags), 1))
}

// Event sends a DataDog event. alertType is one of info, warning, error or success.
func (p *Publisher) Event(title, text, alertType string, tags ...string) {
	p.sent("event", title, p.client.Event(&statsd.Event{
		Title:     title,
		Text:      text,
		AlertType: statsd.EventAlertType(alertType),
		Tags:      p.mergeTags(tags),
	}))
}

// sent drops failed sends after a debug log; StatsD is best effort.
func (p *Publisher) sent(kind, name string, err error) {
	if err != nil {
		p.logger.Debug("StatsD send failed", "kind", kind, "name", name, "error", err)
	}
}

// PublishHealthMetrics sends the whole gauge set. Ratios are clamped to
// [0, 1] and durations to non-negative values.
func (p *Publisher) PublishHealthMetrics(m *types.PublisherHealthMetrics) {
	if m == nil {
		return
	}

	terminated := 0.0
	if m.SessionTerminated {
		terminated = 1
	}

	gauges := []struct {
		name  string
		value float64
	}{
		{"circuit.state", float64(m.CircuitState)},
		{"circuit.consecutive_failures", float64(m.ConsecutiveFailures)},
		{"client.in_flight", float64(m.InFlightRequests)},
		{"token.remaining_seconds", max(0, m.TokenRemainingSeconds)},
		{"token.session_terminated", terminated},
		{"cache.entries", float64(m.CacheEntries)},
		{"cache.stale_entries", float64(m.StaleEntries)},
		{"cache.subscriptions", float64(m.Subscriptions)},
		{"cache.polling_keys", float64(m.PollingKeys)},
		{"performance.hit_ratio", ratio(m.HitRatio)},
		{"performance.success_ratio", ratio(m.SuccessRatio)},
		{"performance.average_latency_ms", max(0, m.AverageLatencyMs)},
		{"performance.p99_latency_ms", max(0, m.P99LatencyMs)},
	}
	for _, g := range gauges {
		p.Gauge(g.name, g.value)
	}
}

// Close flushes and releases the statsd client.
func (p *Publisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *Publisher) mergeTags(tags []string) []string {
	return metrics.MergeTags(p.baseTags, tags)
}

func ratio(v float64) float64 {
	return min(max(v, 0), 1)
}

var _ types.Publisher = (*Publisher)(nil)
