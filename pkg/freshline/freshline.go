package freshline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LavishGent/freshline/internal/auth"
	"github.com/LavishGent/freshline/internal/cache"
	"github.com/LavishGent/freshline/internal/client"
	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/metrics/datadog"
	"github.com/LavishGent/freshline/internal/metrics/prom"
	"github.com/LavishGent/freshline/internal/transport/httptransport"
	"github.com/LavishGent/freshline/internal/types"
)

// Layer is the data access layer: a resilient client with managed
// credentials feeding a polling cache. It is safe for concurrent use.
type Layer struct {
	config *config.Config
	client *client.Client
	tokens *auth.Manager
	cache  *cache.Cache
	store  types.CredentialStore

	tracker    *metrics.Tracker
	publisher  types.Publisher
	background *metrics.BackgroundPublisher

	clock  clockwork.Clock
	logger *slog.Logger

	onIrrecoverable func(*types.Error)

	closeOnce sync.Once
	closeErr  error
}

// credentialSource yields the starting credential once the store is known.
type credentialSource func(ctx context.Context, store types.CredentialStore) (types.Credential, error)

// New creates a layer with the default configuration. authenticator may be
// nil for backends that need no credential; cred is ignored then.
func New(transport Transport, authenticator Authenticator, cred Credential, opts ...LayerOption) (*Layer, error) {
	return NewFromConfig(config.DefaultConfig(), transport, authenticator, cred, opts...)
}

// NewFromConfig creates a layer from cfg. When transport is nil, requests
// go over net/http to cfg.Client.BaseURL.
func NewFromConfig(cfg *config.Config, transport Transport, authenticator Authenticator, cred Credential, opts ...LayerOption) (*Layer, error) {
	source := func(ctx context.Context, store types.CredentialStore) (types.Credential, error) {
		if store != nil && authenticator != nil {
			if err := store.Save(ctx, cred); err != nil {
				return cred, fmt.Errorf("freshline: persist credential: %w", err)
			}
		}
		return cred, nil
	}
	return build(context.Background(), cfg, transport, authenticator, source, applyLayerOptions(opts))
}

// NewFromFile creates a layer from a JSON config file with environment
// overrides applied.
func NewFromFile(path string, transport Transport, authenticator Authenticator, cred Credential, opts ...LayerOption) (*Layer, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, transport, authenticator, cred, opts...)
}

// Resume creates a layer from the credential saved by an earlier process.
// It fails with ErrNoCredentialStore when neither WithCredentialStore nor
// redis.enabled provides a store, and with ErrNoStoredCredential when the
// store is empty.
func Resume(ctx context.Context, cfg *config.Config, transport Transport, authenticator Authenticator, opts ...LayerOption) (*Layer, error) {
	if authenticator == nil {
		return nil, errors.New("freshline: authenticator is required to resume a session")
	}
	source := func(ctx context.Context, store types.CredentialStore) (types.Credential, error) {
		if store == nil {
			return types.Credential{}, ErrNoCredentialStore
		}
		cred, ok, err := store.Load(ctx)
		if err != nil {
			return types.Credential{}, fmt.Errorf("freshline: load credential: %w", err)
		}
		if !ok {
			return types.Credential{}, ErrNoStoredCredential
		}
		return cred, nil
	}
	return build(ctx, cfg, transport, authenticator, source, applyLayerOptions(opts))
}

// Config returns a default configuration that can be modified before creating a layer.
func Config() *config.Config {
	return config.DefaultConfig()
}

// TestConfig returns a configuration suitable for unit tests.
func TestConfig() *config.Config {
	return config.ForTesting()
}

func build(ctx context.Context, in *config.Config, transport Transport, authenticator Authenticator, source credentialSource, o *layerOptions) (_ *Layer, err error) {
	if in == nil {
		in = config.DefaultConfig()
	}
	cfg := *in
	if o.DisableResilience {
		cfg.Retry.Enabled = false
		cfg.CircuitBreaker.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("freshline: invalid config: %w", err)
	}

	logger := o.slogger
	if logger == nil {
		logger = types.NewSlogLogger(o.Logger)
	}
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if transport == nil {
		if cfg.Client.BaseURL == "" {
			return nil, errors.New("freshline: a transport or client.baseURL is required")
		}
		t, err := httptransport.New(cfg.Client.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("freshline: %w", err)
		}
		transport = t
	}

	l := &Layer{
		config:          &cfg,
		tracker:         metrics.NewTracker(),
		clock:           clock,
		logger:          logger.With("component", "freshline"),
		onIrrecoverable: o.OnAuthIrrecoverable,
	}

	recorders := []types.MetricsRecorder{l.tracker}
	if o.Metrics != nil {
		recorders = append(recorders, o.Metrics)
	}
	if cfg.Metrics.Prometheus.Enabled {
		reg := o.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		recorders = append(recorders, prom.NewRecorder(reg, cfg.Metrics.Prometheus.Namespace))
	}
	recorder := metrics.NewMulti(recorders...)

	if l.publisher, err = newPublisher(&cfg, o.publisher, logger); err != nil {
		return nil, err
	}
	l.store = newCredentialStore(&cfg, o.CredentialStore, logger)

	defer func() {
		if err != nil {
			l.release()
		}
	}()

	cred, err := source(ctx, l.store)
	if err != nil {
		return nil, err
	}

	var tokens client.TokenSource
	if authenticator != nil {
		authOpts := []auth.Option{
			auth.WithClock(clock),
			auth.WithLogger(logger),
			auth.WithMetrics(recorder),
			auth.WithOnAuthIrrecoverable(l.authIrrecoverable),
		}
		if l.store != nil {
			authOpts = append(authOpts, auth.WithStore(l.store))
		}
		if l.tokens, err = auth.NewManager(cfg.Token, authenticator, cred, authOpts...); err != nil {
			return nil, fmt.Errorf("freshline: %w", err)
		}
		tokens = l.tokens
	}

	if l.client, err = client.New(&cfg, transport, tokens,
		client.WithClock(clock),
		client.WithLogger(logger),
		client.WithMetrics(recorder),
	); err != nil {
		return nil, fmt.Errorf("freshline: %w", err)
	}

	cacheOpts := []cache.Option{
		cache.WithClock(clock),
		cache.WithLogger(logger),
		cache.WithMetrics(recorder),
	}
	if o.Scheduler != nil {
		cacheOpts = append(cacheOpts, cache.WithScheduler(o.Scheduler))
	}
	if l.cache, err = cache.New(&cfg, cacheOpts...); err != nil {
		return nil, fmt.Errorf("freshline: %w", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.PublishInterval > 0 {
		l.background = metrics.NewBackgroundPublisher(l.publisher, cfg.Metrics.PublishInterval, l.publisherHealth, clock, logger)
		l.background.Start(context.Background())
	}

	l.logger.Info("Data layer started",
		"authenticated", l.tokens != nil,
		"credential_store", l.store != nil,
		"circuit_breaker", cfg.CircuitBreaker.Enabled,
		"retry", cfg.Retry.Enabled,
	)
	return l, nil
}

func newPublisher(cfg *config.Config, configured types.Publisher, logger *slog.Logger) (types.Publisher, error) {
	switch {
	case configured != nil:
		return configured, nil
	case cfg.Metrics.DataDog.Enabled:
		p, err := datadog.NewPublisher(&cfg.Metrics.DataDog, logger)
		if err != nil {
			return nil, fmt.Errorf("freshline: %w", err)
		}
		return p, nil
	case cfg.Metrics.Enabled:
		return metrics.NewLoggingPublisher(logger), nil
	default:
		return metrics.NewNoOpPublisher(), nil
	}
}

// newCredentialStore returns nil when no store is configured. A Redis store
// that cannot be created is logged and skipped; renewals still work, they
// just are not persisted.
func newCredentialStore(cfg *config.Config, configured types.CredentialStore, logger *slog.Logger) types.CredentialStore {
	if configured != nil {
		return configured
	}
	if !cfg.Redis.Enabled {
		return nil
	}
	store, err := auth.NewRedisStore(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Credential store unavailable, continuing without persistence", "error", err)
		return nil
	}
	return store
}

// NewMemoryCredentialStore returns a store that keeps the credential in
// process memory.
func NewMemoryCredentialStore() CredentialStore {
	return auth.NewMemoryStore()
}

func (l *Layer) authIrrecoverable(err *types.Error) {
	l.logger.Error("Session terminated, sign-in required", "code", err.Code, "error", err)
	l.publisher.Event("freshline session terminated", err.Error(), "error", metrics.CodeTag(string(err.Code)))
	if l.onIrrecoverable != nil {
		l.onIrrecoverable(err)
	}
}

// Get returns the current snapshot for key. A missing, expired or
// invalidated entry triggers a background fetch; concurrent callers share it.
func (l *Layer) Get(ctx context.Context, key string, fetcher Fetcher, opts ...Option) Snapshot {
	return l.cache.Get(ctx, key, fetcher, opts...)
}

// Fetch is Get that waits for the fetch to settle when the entry is not fresh.
func (l *Layer) Fetch(ctx context.Context, key string, fetcher Fetcher, opts ...Option) (Snapshot, error) {
	return l.cache.Fetch(ctx, key, fetcher, opts...)
}

// GetRequest reads the cache entry for req, fetching it through the
// resilient client. The key is RequestKey(req).
func (l *Layer) GetRequest(ctx context.Context, req *Request, opts ...Option) Snapshot {
	return l.cache.Get(ctx, cache.RequestKey(req), l.Fetcher(req), opts...)
}

// FetchRequest is GetRequest that waits for the fetch to settle.
func (l *Layer) FetchRequest(ctx context.Context, req *Request, opts ...Option) (Snapshot, error) {
	return l.cache.Fetch(ctx, cache.RequestKey(req), l.Fetcher(req), opts...)
}

// Refetch forces a fetch for a key that has been read before.
func (l *Layer) Refetch(ctx context.Context, key string) (Snapshot, error) {
	return l.cache.Refetch(ctx, key)
}

// Peek returns the snapshot for key without triggering a fetch.
func (l *Layer) Peek(key string) (Snapshot, bool) {
	return l.cache.Peek(key)
}

// IsStale reports whether key holds data older than its stale threshold.
func (l *Layer) IsStale(key string) bool {
	return l.cache.IsStale(key)
}

// Invalidate marks key as needing a refetch on the next read.
func (l *Layer) Invalidate(key string) {
	l.cache.Invalidate(key)
}

// Remove drops key, its data and its polling loop.
func (l *Layer) Remove(key string) {
	l.cache.Remove(key)
}

// Subscribe polls key at opts.Interval until the subscription is cancelled.
func (l *Layer) Subscribe(key string, fetcher Fetcher, opts SubscribeOptions) (*Subscription, error) {
	return l.cache.Subscribe(key, fetcher, opts)
}

// SubscribeRequest polls req through the resilient client.
func (l *Layer) SubscribeRequest(req *Request, opts SubscribeOptions) (*Subscription, error) {
	return l.cache.Subscribe(cache.RequestKey(req), l.Fetcher(req), opts)
}

// Unsubscribe cancels sub. It is safe to call more than once.
func (l *Layer) Unsubscribe(sub *Subscription) {
	l.cache.Unsubscribe(sub)
}

// Do sends req through the circuit breaker, retries and credential renewal.
// Every error is an *Error.
func (l *Layer) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return l.client.Do(ctx, req)
	}
	timer := metrics.NewTimerWithClock(l.publisher, l.clock, "freshline.do.duration", metrics.MethodTag(req.Method))
	resp, err := l.client.Do(ctx, req)
	timer.Stop()
	return resp, err
}

// Fetcher returns a fetcher that sends a copy of req through Do on every call.
func (l *Layer) Fetcher(req *Request) Fetcher {
	return cache.RequestFetcher(l.client, req)
}

// SignIn replaces the credential after the user signs in again. It
// re-arms a layer whose session was terminated.
func (l *Layer) SignIn(cred Credential) error {
	if l.tokens == nil {
		return errors.New("freshline: layer has no authenticator")
	}
	return l.tokens.Reset(cred)
}

// Health reports unhealthy once the session can no longer authenticate and
// degraded while the circuit breaker is not closed.
func (l *Layer) Health() HealthMetrics {
	h := types.HealthMetrics{
		Timestamp: l.clock.Now(),
		Client:    l.client.Health(),
		Cache:     l.cache.Health(),
	}
	if l.tokens != nil {
		h.Token = l.tokens.Health()
	}

	switch {
	case h.Token.Terminated:
		h.Status = types.HealthStatusUnhealthy
	case h.Client.CircuitBreakerState != "closed":
		h.Status = types.HealthStatusDegraded
	default:
		h.Status = types.HealthStatusHealthy
	}
	return h
}

// Metrics returns the in-process counters.
func (l *Layer) Metrics() MetricsSnapshot {
	return l.tracker.Snapshot()
}

func (l *Layer) publisherHealth() *types.PublisherHealthMetrics {
	h := l.Health()
	m := l.tracker.Snapshot()
	return &types.PublisherHealthMetrics{
		CircuitState:          metrics.CircuitStateValue(h.Client.CircuitBreakerState),
		ConsecutiveFailures:   h.Client.ConsecutiveFailures,
		InFlightRequests:      h.Client.InFlight,
		TokenRemainingSeconds: h.Token.Remaining.Seconds(),
		SessionTerminated:     h.Token.Terminated,
		CacheEntries:          h.Cache.Entries,
		StaleEntries:          h.Cache.StaleEntries,
		Subscriptions:         h.Cache.Subscriptions,
		PollingKeys:           h.Cache.PollingKeys,
		HitRatio:              m.HitRatio(),
		SuccessRatio:          m.SuccessRatio(),
		AverageLatencyMs:      m.AvgLatencyMs,
		P99LatencyMs:          m.P99LatencyMs,
	}
}

// Close stops polling, renewal and metrics publishing, waits for in-flight
// fetches and closes the credential store and publisher.
func (l *Layer) Close() error {
	l.closeOnce.Do(func() {
		if l.background != nil {
			l.background.Stop()
		}
		l.closeErr = l.release()
		l.logger.Info("Data layer closed")
	})
	return l.closeErr
}

func (l *Layer) release() error {
	var errs []error
	if l.cache != nil {
		errs = append(errs, l.cache.Close())
	}
	if l.tokens != nil {
		errs = append(errs, l.tokens.Close())
	}
	if l.store != nil {
		errs = append(errs, l.store.Close())
	}
	if l.publisher != nil {
		errs = append(errs, l.publisher.Close())
	}
	return errors.Join(errs...)
}
