// Package cache serves backend payloads from memory, refreshing them in the
// background with at most one fetch in flight per key.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/types"
)

// DefaultShutdownTimeout is the default time Close waits for in-flight fetches.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultFetchTimeout bounds one background fetch, client retries included.
const DefaultFetchTimeout = 2 * time.Minute

// Cache is the polling data cache. It is safe for concurrent use.
type Cache struct {
	store        *MemoryStore
	scheduler    types.Scheduler
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      types.MetricsRecorder
	keyValidator *types.KeyValidator
	defaults     config.CacheConfig
	fetchTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	sweeper types.Job

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	bgWg           sync.WaitGroup
	bgMu           sync.Mutex
	closed         atomic.Bool
}

// entry is the per-key state. The payload itself lives in the store.
//
//nolint:govet // Entry struct - logical grouping prioritized for readability
type entry struct {
	key            string
	fetcher        types.Fetcher
	ttl            time.Duration
	staleThreshold time.Duration
	invalidated    bool
	err            *types.Error

	inflight *call

	subs     map[string]*Subscription
	job      types.Job
	interval time.Duration
	failures int
}

// call is the shared result of one fetch. done is closed once snap and err
// are set.
type call struct {
	done chan struct{}
	snap types.Snapshot
	err  error
}

// Subscription is a registered interest in periodic refresh of one key.
type Subscription struct {
	ID       string
	Key      string
	interval time.Duration
	listener types.Listener
	cache    *Cache
}

// Unsubscribe detaches the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.cache.Unsubscribe(s)
}

// Interval returns the polling interval requested by the subscription.
func (s *Subscription) Interval() time.Duration {
	return s.interval
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      types.MetricsRecorder
	scheduler    types.Scheduler
	fetchTimeout time.Duration
}

// WithClock sets the clock used for freshness and staleness decisions.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder types.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = recorder
	}
}

// WithScheduler sets the scheduler that drives polling. The default is a
// TickerScheduler on the cache's clock.
func WithScheduler(scheduler types.Scheduler) Option {
	return func(o *options) {
		o.scheduler = scheduler
	}
}

// WithFetchTimeout bounds each background fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fetchTimeout = d
	}
}

// New creates a cache with the freshness defaults in cfg.Cache and the
// store settings in cfg.Memory.
func New(cfg *config.Config, opts ...Option) (*Cache, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNoOpTracker()
	}
	if o.scheduler == nil {
		o.scheduler = NewScheduler(o.clock)
	}
	if o.fetchTimeout <= 0 {
		o.fetchTimeout = DefaultFetchTimeout
	}

	store, err := NewMemoryStore(cfg.Memory, cfg.Cache.MaxAge, o.logger)
	if err != nil {
		return nil, err
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	c := &Cache{
		store:          store,
		scheduler:      o.scheduler,
		clock:          o.clock,
		logger:         o.logger.With("component", "cache"),
		metrics:        o.metrics,
		defaults:       cfg.Cache,
		fetchTimeout:   o.fetchTimeout,
		entries:        make(map[string]*entry),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	if c.defaults.PollingInterval <= 0 {
		c.defaults.PollingInterval = 30 * time.Second
	}
	if cfg.KeyValidation.Enabled {
		c.keyValidator = types.NewKeyValidator(cfg.KeyValidation.ToTypesConfig())
	}
	if cfg.Cache.MaxAge > 0 && cfg.Memory.CleanupInterval > 0 {
		c.sweeper = c.scheduler.Every(cfg.Memory.CleanupInterval, c.evictExpired)
	}

	return c, nil
}

// Get returns the current snapshot for key without blocking on the backend.
// A fresh entry is returned as is. Otherwise a fetch is started unless one
// is already in flight, and the last known payload is returned, or a
// snapshot with Loading set when there is none. A cancelled ctx never
// starts a fetch.
func (c *Cache) Get(ctx context.Context, key string, fetcher types.Fetcher, opts ...types.Option) types.Snapshot {
	if err := c.validate(key, fetcher); err != nil {
		return types.Snapshot{Key: key, Err: err}
	}
	o := c.applyDefaults(opts...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return types.Snapshot{Key: key, Err: c.closedError()}
	}

	e := c.entryLocked(key, fetcher, o)
	now := c.clock.Now()
	snap := c.snapshotLocked(e, now, o.TTL, o.StaleThreshold)
	if snap.Fresh {
		c.metrics.RecordCacheHit(key)
		return snap
	}

	c.metrics.RecordCacheMiss(key)
	if ctx.Err() != nil {
		return snap
	}
	c.startFetchLocked(e)
	return c.snapshotLocked(e, now, o.TTL, o.StaleThreshold)
}

// Fetch is like Get but waits for a fetch to finish when the entry is not
// fresh. The returned snapshot carries the last known payload even when err
// is not nil.
func (c *Cache) Fetch(ctx context.Context, key string, fetcher types.Fetcher, opts ...types.Option) (types.Snapshot, error) {
	if err := c.validate(key, fetcher); err != nil {
		return types.Snapshot{Key: key, Err: err}, err
	}
	o := c.applyDefaults(opts...)

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		err := c.closedError()
		return types.Snapshot{Key: key, Err: err}, err
	}
	e := c.entryLocked(key, fetcher, o)
	snap := c.snapshotLocked(e, c.clock.Now(), o.TTL, o.StaleThreshold)
	if snap.Fresh {
		c.mu.Unlock()
		c.metrics.RecordCacheHit(key)
		return snap, nil
	}
	c.metrics.RecordCacheMiss(key)
	cl := c.startFetchLocked(e)
	c.mu.Unlock()

	return c.wait(ctx, key, cl)
}

// Refetch fetches key now, joining a fetch already in flight. The key must
// have been registered by Get, Fetch or Subscribe.
func (c *Cache) Refetch(ctx context.Context, key string) (types.Snapshot, error) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		err := c.closedError()
		return types.Snapshot{Key: key, Err: err}, err
	}
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return types.Snapshot{Key: key}, fmt.Errorf("%w: %q", types.ErrUnknownKey, key)
	}
	cl := c.startFetchLocked(e)
	c.mu.Unlock()

	return c.wait(ctx, key, cl)
}

func (c *Cache) wait(ctx context.Context, key string, cl *call) (types.Snapshot, error) {
	select {
	case <-cl.done:
		return cloneSnapshot(cl.snap), cl.err
	case <-ctx.Done():
		err := c.newError(types.CodeCanceled, "wait for "+key, ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = c.newError(types.CodeTimeout, "wait for "+key, ctx.Err())
		}
		snap, _ := c.Peek(key)
		return snap, err
	}
}

// Peek returns the current snapshot for key without starting a fetch.
func (c *Cache) Peek(key string) (types.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return types.Snapshot{Key: key}, false
	}
	return c.snapshotLocked(e, c.clock.Now(), e.ttl, e.staleThreshold), true
}

// IsStale reports whether key's payload is older than its stale threshold.
// A key without data is not stale.
func (c *Cache) IsStale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	now := c.clock.Now()
	rec, ok := c.loadLocked(key, now)
	return ok && now.Sub(rec.FetchedAt) > e.staleThreshold
}

// Subscribe registers interest in key. The key is polled at the smallest
// interval across its subscribers, and every refresh result is delivered to
// each subscriber's listener. A key without a fresh entry is fetched
// immediately.
func (c *Cache) Subscribe(key string, fetcher types.Fetcher, opts types.SubscribeOptions) (*Subscription, error) {
	if err := c.validate(key, fetcher); err != nil {
		return nil, err
	}
	if opts.Interval < 0 {
		return nil, c.newError(types.CodeValidation, "polling interval must not be negative", nil)
	}
	if opts.Interval == 0 {
		opts.Interval = c.defaults.PollingInterval
	}
	o := c.applyDefaults(func(f *types.FetchOptions) {
		f.TTL = opts.TTL
		f.StaleThreshold = opts.StaleThreshold
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, types.ErrClosed
	}

	e := c.entryLocked(key, fetcher, o)
	sub := &Subscription{
		ID:       uuid.NewString(),
		Key:      key,
		interval: opts.Interval,
		listener: opts.Listener,
		cache:    c,
	}
	if e.subs == nil {
		e.subs = make(map[string]*Subscription)
	}
	e.subs[sub.ID] = sub

	if e.job == nil {
		e.failures = 0
		e.interval = opts.Interval
		e.job = c.scheduler.Every(e.interval, func() { c.poll(e) })
		c.logger.Info("Polling started", "key", key, "interval", e.interval)
	} else {
		c.rescheduleLocked(e)
	}

	if !c.snapshotLocked(e, c.clock.Now(), e.ttl, e.staleThreshold).Fresh {
		c.startFetchLocked(e)
	}

	c.logger.Debug("Subscribed", "key", key, "subscription_id", sub.ID, "subscribers", len(e.subs))
	return sub, nil
}

// Unsubscribe removes sub. The key's polling loop stops when its last
// subscriber leaves; a fetch already dispatched still completes.
func (c *Cache) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sub.Key]
	if !ok {
		return
	}
	if _, ok := e.subs[sub.ID]; !ok {
		return
	}
	delete(e.subs, sub.ID)

	if len(e.subs) > 0 {
		c.rescheduleLocked(e)
		return
	}
	if e.job != nil {
		e.job.Stop()
		e.job = nil
		e.failures = 0
		c.logger.Info("Polling stopped", "key", sub.Key)
	}
}

// Invalidate marks key's entry as no longer fresh. The payload stays
// available until a refetch replaces it. Subscribed keys are refetched
// right away.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.invalidated = true
	if len(e.subs) > 0 && !c.closed.Load() {
		c.startFetchLocked(e)
	}
}

// Remove forgets key entirely: its payload, fetcher and subscriptions. The
// result of a fetch in flight for it is discarded.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if e.job != nil {
		e.job.Stop()
		e.job = nil
	}
	if err := c.store.Delete(key); err != nil && !errors.Is(err, types.ErrClosed) {
		c.logger.Warn("Failed to delete entry", "key", key, "error", err)
	}
	c.logger.Debug("Key removed", "key", key, "subscribers", len(e.subs))
}

// Health returns a point-in-time view of the cache.
func (c *Cache) Health() types.CacheHealthMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var h types.CacheHealthMetrics
	now := c.clock.Now()
	for key, e := range c.entries {
		if e.inflight != nil {
			h.InFlight++
		}
		h.Subscriptions += len(e.subs)
		if e.job != nil {
			h.PollingKeys++
		}
		if rec, ok := c.loadLocked(key, now); ok {
			h.Entries++
			if now.Sub(rec.FetchedAt) > e.staleThreshold {
				h.StaleEntries++
			}
		}
	}
	return h
}

// Store returns the underlying memory store.
func (c *Cache) Store() *MemoryStore {
	return c.store
}

// Close stops all polling and waits up to DefaultShutdownTimeout for
// background fetches before releasing the store.
func (c *Cache) Close() error {
	return c.CloseWithTimeout(DefaultShutdownTimeout)
}

// CloseWithTimeout is Close with a configurable wait. When fetches do not
// finish in time it returns ErrShutdownTimeout and still releases the store.
func (c *Cache) CloseWithTimeout(timeout time.Duration) error {
	c.bgMu.Lock()
	if c.closed.Swap(true) {
		c.bgMu.Unlock()
		return nil
	}
	c.shutdownCancel()
	c.bgMu.Unlock()

	c.mu.Lock()
	for _, e := range c.entries {
		if e.job != nil {
			e.job.Stop()
			e.job = nil
		}
	}
	if c.sweeper != nil {
		c.sweeper.Stop()
		c.sweeper = nil
	}
	c.mu.Unlock()

	c.logger.Info("Closing cache, waiting for background fetches", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		c.bgWg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("Shutdown timeout exceeded, proceeding with close", "timeout", timeout)
		errs = append(errs, types.ErrShutdownTimeout)
	}

	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// startFetchLocked returns the call in flight for e, starting one if
// needed.
func (c *Cache) startFetchLocked(e *entry) *call {
	if e.inflight != nil {
		return e.inflight
	}

	cl := &call{done: make(chan struct{})}
	e.inflight = cl
	fetcher := e.fetcher
	if !c.runBackground(func(ctx context.Context) { c.fetch(ctx, e, fetcher, cl) }) {
		e.inflight = nil
		cl.err = c.closedError()
		cl.snap = c.snapshotLocked(e, c.clock.Now(), e.ttl, e.staleThreshold)
		close(cl.done)
	}
	return cl
}

func (c *Cache) fetch(ctx context.Context, e *entry, fetcher types.Fetcher, cl *call) {
	start := c.clock.Now()
	payload, err := fetcher(ctx)
	latency := c.clock.Since(start)

	var ferr *types.Error
	if err != nil {
		ferr = normalizeFetchError(err, c.clock.Now())
	}

	c.mu.Lock()
	now := c.clock.Now()
	current := c.entries[e.key] == e
	var listeners []*Subscription
	if current {
		e.inflight = nil
		if ferr == nil {
			rec := record{FetchedAt: now, TTL: e.ttl, Payload: payload}
			if serr := c.store.Set(e.key, rec); serr != nil {
				ferr = c.newError(types.CodeStorageFailed, "store payload", serr)
			}
		}
		if ferr == nil {
			e.err = nil
			e.invalidated = false
		} else {
			e.err = ferr
		}
		c.adjustPollingLocked(e, ferr)
		cl.snap = c.snapshotLocked(e, now, e.ttl, e.staleThreshold)
		listeners = make([]*Subscription, 0, len(e.subs))
		for _, sub := range e.subs {
			if sub.listener != nil {
				listeners = append(listeners, sub)
			}
		}
	} else {
		cl.snap = detachedSnapshot(e.key, payload, now, ferr)
	}
	if ferr != nil {
		cl.err = ferr
	}
	c.mu.Unlock()
	close(cl.done)

	var recErr error
	if ferr != nil {
		recErr = ferr
	}
	c.metrics.RecordRefresh(e.key, latency, recErr)

	switch {
	case !current:
		c.logger.Debug("Discarding fetch result for removed key", "key", e.key)
	case ferr != nil:
		c.logger.Warn("Refresh failed, keeping last known data",
			"key", e.key,
			"code", ferr.Code,
			"has_data", cl.snap.HasData,
			"error", ferr,
		)
	default:
		c.logger.Debug("Refreshed", "key", e.key, "bytes", len(payload), "latency", latency)
	}

	for _, sub := range listeners {
		sub.listener(types.Update{Snapshot: cloneSnapshot(cl.snap), SubscriptionID: sub.ID})
	}
}

func (c *Cache) poll(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() || c.entries[e.key] != e || e.job == nil {
		return
	}
	if e.inflight != nil {
		c.logger.Debug("Skipping poll, fetch in flight", "key", e.key)
		return
	}
	c.startFetchLocked(e)
}

// adjustPollingLocked backs polling off after retryable failures and
// restores the base interval after a success. Other failures leave the
// interval alone.
func (c *Cache) adjustPollingLocked(e *entry, ferr *types.Error) {
	if e.job == nil {
		return
	}
	switch {
	case ferr == nil:
		e.failures = 0
	case ferr.Retryable:
		e.failures++
	default:
		return
	}
	c.rescheduleLocked(e)
}

func (c *Cache) rescheduleLocked(e *entry) {
	if e.job == nil || len(e.subs) == 0 {
		return
	}
	next := pollInterval(minInterval(e.subs), e.failures, c.defaults.MaxPollBackoff)
	if next == e.interval {
		return
	}
	e.interval = next
	e.job.Reset(next)
	c.logger.Debug("Polling interval changed", "key", e.key, "interval", next, "failures", e.failures)
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key := range c.entries {
		c.loadLocked(key, now)
	}
}

// loadLocked reads key from the store, dropping it once it is older than
// the configured max age.
func (c *Cache) loadLocked(key string, now time.Time) (record, bool) {
	rec, ok, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, types.ErrClosed) {
			c.logger.Warn("Failed to read entry", "key", key, "error", err)
		}
		return record{}, false
	}
	if !ok {
		return record{}, false
	}
	if c.defaults.MaxAge > 0 && now.Sub(rec.FetchedAt) > c.defaults.MaxAge {
		if err := c.store.Delete(key); err != nil && !errors.Is(err, types.ErrClosed) {
			c.logger.Warn("Failed to evict entry", "key", key, "error", err)
		}
		c.logger.Debug("Evicted entry past max age", "key", key, "max_age", c.defaults.MaxAge)
		return record{}, false
	}
	return rec, true
}

func (c *Cache) snapshotLocked(e *entry, now time.Time, ttl, staleThreshold time.Duration) types.Snapshot {
	snap := types.Snapshot{
		Key:      e.key,
		Fetching: e.inflight != nil,
		Err:      e.err,
	}
	rec, ok := c.loadLocked(e.key, now)
	if !ok {
		snap.Loading = snap.Fetching
		return snap
	}
	age := now.Sub(rec.FetchedAt)
	snap.Payload = rec.Payload
	snap.FetchedAt = rec.FetchedAt
	snap.HasData = true
	snap.Fresh = !e.invalidated && age < ttl
	snap.Stale = age > staleThreshold
	return snap
}

func (c *Cache) entryLocked(key string, fetcher types.Fetcher, o *types.FetchOptions) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key}
		c.entries[key] = e
	}
	e.fetcher = fetcher
	e.ttl = o.TTL
	e.staleThreshold = o.StaleThreshold
	return e
}

// runBackground runs fn on a goroutine tracked for shutdown and reports
// whether it was started. Nothing starts once the cache is closed.
func (c *Cache) runBackground(fn func(ctx context.Context)) bool {
	c.bgMu.Lock()
	if c.closed.Load() {
		c.bgMu.Unlock()
		return false
	}
	c.bgWg.Add(1)
	c.bgMu.Unlock()

	go func() {
		defer c.bgWg.Done()
		ctx, cancel := context.WithTimeout(c.shutdownCtx, c.fetchTimeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}

func (c *Cache) validate(key string, fetcher types.Fetcher) *types.Error {
	if fetcher == nil {
		return c.newError(types.CodeValidation, "fetcher is required", nil)
	}
	if c.keyValidator == nil {
		return nil
	}
	if err := c.keyValidator.Validate(key); err != nil {
		return c.newError(types.CodeValidation, "invalid cache key", err)
	}
	return nil
}

func (c *Cache) applyDefaults(opts ...types.Option) *types.FetchOptions {
	o := types.ApplyOptions(opts...)
	if o.TTL == 0 {
		o.TTL = c.defaults.TTL
	}
	if o.StaleThreshold == 0 {
		o.StaleThreshold = c.defaults.StaleThreshold
	}
	return o
}

func minInterval(subs map[string]*Subscription) time.Duration {
	var shortest time.Duration
	for _, sub := range subs {
		if shortest == 0 || sub.interval < shortest {
			shortest = sub.interval
		}
	}
	return shortest
}

// pollInterval doubles base once per consecutive failure, capped at
// maxBackoff (never below base).
func pollInterval(base time.Duration, failures int, maxBackoff time.Duration) time.Duration {
	limit := max(maxBackoff, base)
	d := base
	for i := 0; i < failures && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

func detachedSnapshot(key string, payload []byte, now time.Time, ferr *types.Error) types.Snapshot {
	if ferr != nil {
		return types.Snapshot{Key: key, Err: ferr}
	}
	return types.Snapshot{Key: key, Payload: payload, FetchedAt: now, HasData: true, Fresh: true}
}

func cloneSnapshot(s types.Snapshot) types.Snapshot {
	s.Payload = bytes.Clone(s.Payload)
	return s
}

func (c *Cache) closedError() *types.Error {
	return c.newError(types.CodeCanceled, "cache closed", types.ErrClosed)
}

func (c *Cache) newError(code types.Code, message string, cause error) *types.Error {
	return types.NewErrorAt(c.clock.Now(), code, message, cause)
}
