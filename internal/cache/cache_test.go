package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualScheduler hands out jobs that only run when a test fires them.
type manualScheduler struct {
	mu   sync.Mutex
	jobs []*manualJob
}

func (s *manualScheduler) Every(interval time.Duration, fn func()) types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &manualJob{interval: interval, fn: fn}
	s.jobs = append(s.jobs, j)
	return j
}

func (s *manualScheduler) all() []*manualJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*manualJob(nil), s.jobs...)
}

func (s *manualScheduler) only(t *testing.T) *manualJob {
	t.Helper()
	jobs := s.all()
	require.Len(t, jobs, 1)
	return jobs[0]
}

type manualJob struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	stopped  bool
}

func (j *manualJob) Reset(interval time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.interval = interval
}

func (j *manualJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = true
}

func (j *manualJob) Interval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

func (j *manualJob) Stopped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopped
}

func (j *manualJob) Fire() {
	j.mu.Lock()
	stopped, fn := j.stopped, j.fn
	j.mu.Unlock()
	if !stopped {
		fn()
	}
}

// scriptedFetcher returns queued results in order, repeating the last one.
// When gated, every call blocks until release is called.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
}

type fetchResult struct {
	payload string
	err     error
}

func newFetcher(results ...fetchResult) *scriptedFetcher {
	return &scriptedFetcher{results: results, started: make(chan struct{}, 100)}
}

func (f *scriptedFetcher) gated() *scriptedFetcher {
	f.gate = make(chan struct{})
	return f
}

func (f *scriptedFetcher) release() {
	close(f.gate)
}

func (f *scriptedFetcher) then(results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
}

func (f *scriptedFetcher) fetch(ctx context.Context) ([]byte, error) {
	n := int(f.calls.Add(1))
	f.started <- struct{}{}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.results[min(n, len(f.results))-1]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.payload), nil
}

func returns(payload string) fetchResult { return fetchResult{payload: payload} }

func fails(err error) fetchResult { return fetchResult{err: err} }

type harness struct {
	cache     *Cache
	clock     *clockwork.FakeClock
	scheduler *manualScheduler
	tracker   *metrics.Tracker
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.ForTesting()
	cfg.Cache.TTL = 60 * time.Second
	cfg.Cache.StaleThreshold = 30 * time.Second
	cfg.Cache.PollingInterval = 10 * time.Second
	cfg.Cache.MaxPollBackoff = 80 * time.Second
	for _, m := range mutate {
		m(cfg)
	}

	h := &harness{
		clock:     clockwork.NewFakeClock(),
		scheduler: &manualScheduler{},
		tracker:   metrics.NewTracker(),
	}
	c, err := New(cfg,
		WithClock(h.clock),
		WithScheduler(h.scheduler),
		WithMetrics(h.tracker),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.cache = c
	return h
}

// settle waits until no fetch is in flight.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.cache.Health().InFlight == 0
	}, time.Second, time.Millisecond)
}

func staleAfter(d time.Duration) types.Option {
	return func(o *types.FetchOptions) { o.StaleThreshold = d }
}

func upstream() error {
	return types.NewError(types.CodeUpstreamUnavailable, "503", nil).WithStatus(503)
}

func TestGetServesFreshEntryWithoutFetching(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns(`{"v":1}`))
	ctx := context.Background()

	snap, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.NoError(t, err)
	require.True(t, snap.HasData)

	h.clock.Advance(30 * time.Second)
	snap = h.cache.Get(ctx, "items", f.fetch)

	assert.True(t, snap.Fresh)
	assert.False(t, snap.Fetching)
	assert.Equal(t, `{"v":1}`, string(snap.Payload))
	assert.Equal(t, int32(1), f.calls.Load(), "fresh read must not fetch")
	assert.Equal(t, int64(1), h.tracker.Snapshot().CacheHits)
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns(`{"v":1}`))

	_, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.NoError(t, err)

	h.clock.Advance(61 * time.Second)
	gated := newFetcher(returns(`{"v":2}`)).gated()

	var wg sync.WaitGroup
	snaps := make([]types.Snapshot, 10)
	for i := range snaps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i] = h.cache.Get(ctx, "items", gated.fetch)
		}(i)
	}
	wg.Wait()

	<-gated.started
	for i, snap := range snaps {
		assert.Equal(t, `{"v":1}`, string(snap.Payload), "caller %d should see last known data", i)
		assert.True(t, snap.Fetching, "caller %d", i)
		assert.False(t, snap.Fresh, "caller %d", i)
	}
	assert.Equal(t, int32(1), gated.calls.Load())

	gated.release()
	h.settle(t)

	snap := h.cache.Get(ctx, "items", gated.fetch)
	assert.Equal(t, `{"v":2}`, string(snap.Payload))
	assert.True(t, snap.Fresh)
	assert.Equal(t, int32(1), gated.calls.Load())
}

func TestConcurrentFetchCallersWaitForOneResult(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns(`{"v":1}`)).gated()

	var wg sync.WaitGroup
	results := make([]types.Snapshot, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.cache.Fetch(context.Background(), "items", f.fetch)
		}(i)
	}

	<-f.started
	require.Eventually(t, func() bool {
		return h.tracker.Snapshot().CacheMisses == 10
	}, time.Second, time.Millisecond)
	f.release()
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, `{"v":1}`, string(results[i].Payload))
	}

	results[0].Payload[0] = 'X'
	assert.Equal(t, `{"v":1}`, string(results[1].Payload), "callers must not share payload memory")
}

func TestStalenessIsIndependentOfTTL(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Cache.TTL = 60 * time.Second
		c.Cache.StaleThreshold = 30 * time.Second
	})
	ctx := context.Background()
	f := newFetcher(returns(`{"v":1}`), returns(`{"v":2}`))

	_, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.NoError(t, err)
	assert.False(t, h.cache.IsStale("items"))

	h.clock.Advance(31 * time.Second)
	assert.True(t, h.cache.IsStale("items"))
	snap := h.cache.Get(ctx, "items", f.fetch)
	assert.Equal(t, `{"v":1}`, string(snap.Payload))
	assert.True(t, snap.Stale)
	assert.True(t, snap.Fresh, "stale entries are still inside their TTL")
	assert.Equal(t, int32(1), f.calls.Load())

	h.clock.Advance(30 * time.Second)
	snap = h.cache.Get(ctx, "items", f.fetch)
	assert.Equal(t, `{"v":1}`, string(snap.Payload))
	h.settle(t)
	assert.Equal(t, int32(2), f.calls.Load())

	snap = h.cache.Get(ctx, "items", f.fetch)
	assert.Equal(t, `{"v":2}`, string(snap.Payload))
	assert.False(t, snap.Stale)
	assert.False(t, h.cache.IsStale("items"))
}

func TestStaleThresholdPerRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns("x"))

	_, err := h.cache.Fetch(ctx, "k", f.fetch, staleAfter(5*time.Second))
	require.NoError(t, err)

	h.clock.Advance(6 * time.Second)
	assert.True(t, h.cache.Get(ctx, "k", f.fetch, staleAfter(5*time.Second)).Stale)
	assert.False(t, h.cache.Get(ctx, "k", f.fetch).Stale)
}

func TestFailedRefreshKeepsData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns(`{"v":1}`), fails(upstream()), returns(`{"v":3}`))

	_, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.NoError(t, err)

	h.clock.Advance(61 * time.Second)
	snap, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeUpstreamUnavailable))
	assert.True(t, snap.HasData)
	assert.Equal(t, `{"v":1}`, string(snap.Payload))
	require.NotNil(t, snap.Err)
	assert.Equal(t, 503, snap.Err.StatusCode)

	snap = h.cache.Get(ctx, "items", f.fetch)
	assert.Equal(t, `{"v":1}`, string(snap.Payload), "failure must not clear the entry")
	assert.NotNil(t, snap.Err)
	h.settle(t)

	snap, err = h.cache.Fetch(ctx, "items", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, `{"v":3}`, string(snap.Payload))
	assert.Nil(t, snap.Err)

	stats := h.tracker.Snapshot()
	assert.Equal(t, int64(1), stats.RefreshFailures)
}

func TestGetReportsLoadingWithoutData(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("first")).gated()

	snap := h.cache.Get(context.Background(), "k", f.fetch)
	assert.False(t, snap.HasData)
	assert.True(t, snap.Loading)
	assert.True(t, snap.Fetching)

	f.release()
	h.settle(t)

	snap = h.cache.Get(context.Background(), "k", f.fetch)
	assert.True(t, snap.HasData)
	assert.False(t, snap.Loading)
}

func TestGetWithCancelledContextDoesNotFetch(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := h.cache.Get(ctx, "k", f.fetch)
	assert.False(t, snap.Loading)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestFetcherErrorsAreNormalized(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("bad payload")
	f := newFetcher(fails(boom))

	_, err := h.cache.Fetch(context.Background(), "k", f.fetch)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeValidation))
	assert.False(t, types.IsRetryable(err))
	assert.ErrorIs(t, err, boom)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.True(t, e.Timestamp.Equal(h.clock.Now()), "errors are stamped with the cache clock")
}

func TestNormalizeFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.Code
	}{
		{"normalized passes through", types.NewError(types.CodeAuthRejected, "401", nil), types.CodeAuthRejected},
		{"wrapped normalized", fmt.Errorf("decode: %w", types.NewError(types.CodeTimeout, "slow", nil)), types.CodeTimeout},
		{"canceled", context.Canceled, types.CodeCanceled},
		{"deadline", context.DeadlineExceeded, types.CodeTimeout},
		{"plain error", errors.New("boom"), types.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeFetchError(tt.err, time.Now()).Code)
		})
	}
}

func TestFetchWaitHonoursContext(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("x")).gated()
	defer f.release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	snap, err := h.cache.Fetch(ctx, "k", f.fetch)
	assert.True(t, types.IsCode(err, types.CodeTimeout))
	assert.True(t, snap.Loading)
}

func TestRefetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns("one"), returns("two"))

	_, err := h.cache.Refetch(ctx, "k")
	assert.ErrorIs(t, err, types.ErrUnknownKey)

	_, err = h.cache.Fetch(ctx, "k", f.fetch)
	require.NoError(t, err)

	snap, err := h.cache.Refetch(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(snap.Payload), "refetch ignores freshness")
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestInvalidateKeepsPayloadUntilReplaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns("one"), returns("two"))

	_, err := h.cache.Fetch(ctx, "k", f.fetch)
	require.NoError(t, err)

	h.cache.Invalidate("k")
	h.cache.Invalidate("unknown")

	snap := h.cache.Get(ctx, "k", f.fetch)
	assert.False(t, snap.Fresh)
	assert.Equal(t, "one", string(snap.Payload))
	h.settle(t)

	snap = h.cache.Get(ctx, "k", f.fetch)
	assert.True(t, snap.Fresh)
	assert.Equal(t, "two", string(snap.Payload))
}

func TestRemoveDiscardsInFlightResult(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("late")).gated()

	type result struct {
		snap types.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := h.cache.Fetch(context.Background(), "k", f.fetch)
		done <- result{snap, err}
	}()

	<-f.started
	h.cache.Remove("k")
	f.release()

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "late", string(r.snap.Payload), "the waiting caller still gets its result")

	_, known := h.cache.Peek("k")
	assert.False(t, known)
	assert.Equal(t, 0, h.cache.Store().Len())
}

func TestMaxAgeEviction(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Cache.MaxAge = 10 * time.Minute
		c.Memory.CleanupInterval = time.Minute
	})
	ctx := context.Background()
	f := newFetcher(returns("old"))
	sweeper := h.scheduler.only(t)
	assert.Equal(t, time.Minute, sweeper.Interval())

	_, err := h.cache.Fetch(ctx, "k", f.fetch)
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	sweeper.Fire()
	assert.Equal(t, 0, h.cache.Store().Len())

	snap, _ := h.cache.Peek("k")
	assert.False(t, snap.HasData)
}

func TestEntriesNeverEvictedByDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns("old"), fails(upstream()))

	_, err := h.cache.Fetch(ctx, "k", f.fetch)
	require.NoError(t, err)
	assert.Empty(t, h.scheduler.all(), "no sweeper without max age")

	h.clock.Advance(24 * time.Hour)
	snap := h.cache.Get(ctx, "k", f.fetch)
	assert.True(t, snap.HasData)
	assert.True(t, snap.Stale)
}

func TestDefaultConfigKeepsLargePayloads(t *testing.T) {
	c, err := New(config.DefaultConfig(),
		WithClock(clockwork.NewFakeClock()),
		WithScheduler(&manualScheduler{}),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	payloads := make(map[string][]byte)
	for i := 0; i < 60; i++ {
		payloads[fmt.Sprintf("report-%02d", i)] = bytes.Repeat([]byte{byte('a' + i%26)}, 200*1024)
	}
	payloads["report-big"] = bytes.Repeat([]byte("z"), 300*1024)

	for key, payload := range payloads {
		payload := payload
		_, err := c.Fetch(ctx, key, func(context.Context) ([]byte, error) { return payload, nil })
		require.NoError(t, err, key)
	}

	for key, payload := range payloads {
		snap, known := c.Peek(key)
		require.True(t, known, key)
		require.True(t, snap.HasData, "%s lost its data", key)
		assert.Equal(t, len(payload), len(snap.Payload), key)
		assert.Equal(t, payload[0], snap.Payload[0], key)
	}
	assert.Equal(t, len(payloads), c.Store().Len())
	assert.Zero(t, c.Store().Stats().Evictions)
}

func TestOversizedRefreshKeepsPreviousPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	huge := strings.Repeat("x", config.ForTesting().Memory.MaxEntrySize+1)
	f := newFetcher(returns(`{"v":1}`), returns(huge))

	_, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.NoError(t, err)

	h.clock.Advance(61 * time.Second)
	snap, err := h.cache.Fetch(ctx, "items", f.fetch)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeStorageFailed))
	assert.True(t, types.IsRetryable(err))
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	assert.True(t, snap.HasData)
	assert.Equal(t, `{"v":1}`, string(snap.Payload))
}

func TestKeyValidation(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("x"))

	snap := h.cache.Get(context.Background(), "has space", f.fetch)
	require.NotNil(t, snap.Err)
	assert.Equal(t, types.CodeValidation, snap.Err.Code)
	assert.True(t, types.IsInvalidKey(snap.Err))

	_, err := h.cache.Fetch(context.Background(), "", f.fetch)
	assert.True(t, types.IsCode(err, types.CodeValidation))

	_, err = h.cache.Subscribe("k", nil, types.SubscribeOptions{})
	assert.True(t, types.IsCode(err, types.CodeValidation))

	assert.Equal(t, int32(0), f.calls.Load())
}

func TestSubscribePollsAtMinimumInterval(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("x"))

	slow, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{Interval: 20 * time.Second})
	require.NoError(t, err)
	job := h.scheduler.only(t)
	assert.Equal(t, 20*time.Second, job.Interval())

	fast, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{Interval: 5 * time.Second})
	require.NoError(t, err)
	assert.Len(t, h.scheduler.all(), 1, "one loop per key")
	assert.Equal(t, 5*time.Second, job.Interval())

	deflt, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, deflt.Interval())

	fast.Unsubscribe()
	assert.Equal(t, 10*time.Second, job.Interval())
	deflt.Unsubscribe()
	assert.Equal(t, 20*time.Second, job.Interval())
	assert.False(t, job.Stopped())

	slow.Unsubscribe()
	slow.Unsubscribe()
	assert.True(t, job.Stopped())

	h.settle(t)
	assert.Equal(t, 0, h.cache.Health().PollingKeys)
}

func TestSubscribeFetchesOnlyWithoutFreshEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns("x"))

	_, err := h.cache.Fetch(ctx, "k", f.fetch)
	require.NoError(t, err)

	_, err = h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	_, err = h.cache.Subscribe("other", f.fetch, types.SubscribeOptions{})
	require.NoError(t, err)
	h.settle(t)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestPollSkipsWhileFetchInFlight(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("x")).gated()

	_, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{})
	require.NoError(t, err)
	<-f.started
	job := h.scheduler.only(t)

	job.Fire()
	job.Fire()
	assert.Equal(t, int32(1), f.calls.Load(), "ticks during a fetch are skipped")

	f.release()
	h.settle(t)

	job.Fire()
	h.settle(t)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestSubscribersAreNotified(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("one"), fails(upstream()))

	updates := make(chan types.Update, 10)
	listener := func(u types.Update) { updates <- u }

	a, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{Listener: listener})
	require.NoError(t, err)
	first := <-updates
	assert.Equal(t, a.ID, first.SubscriptionID)
	assert.Equal(t, "one", string(first.Payload))

	b, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{Listener: listener})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	h.scheduler.only(t).Fire()
	got := map[string]types.Update{}
	for range 2 {
		u := <-updates
		got[u.SubscriptionID] = u
	}
	require.Len(t, got, 2)
	for _, u := range got {
		assert.True(t, u.HasData)
		assert.Equal(t, "one", string(u.Payload), "failed refresh still carries last known data")
		require.NotNil(t, u.Err)
		assert.Equal(t, types.CodeUpstreamUnavailable, u.Err.Code)
	}
}

func TestPollingBacksOffOnRetryableFailures(t *testing.T) {
	h := newHarness(t)
	f := newFetcher(returns("x"))

	_, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{})
	require.NoError(t, err)
	h.settle(t)
	job := h.scheduler.only(t)
	assert.Equal(t, 10*time.Second, job.Interval())

	f.then(fails(upstream()), fails(upstream()), fails(upstream()), fails(upstream()),
		fails(types.NewError(types.CodeAuthRejected, "401", nil)), returns("y"))

	for _, want := range []time.Duration{20, 40, 80, 80} {
		job.Fire()
		h.settle(t)
		assert.Equal(t, want*time.Second, job.Interval())
	}

	job.Fire()
	h.settle(t)
	assert.Equal(t, 80*time.Second, job.Interval(), "non-retryable failures do not change the interval")

	job.Fire()
	h.settle(t)
	assert.Equal(t, 10*time.Second, job.Interval(), "success restores the base interval")
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		base, max time.Duration
		failures  int
		want      time.Duration
	}{
		{10 * time.Second, time.Minute, 0, 10 * time.Second},
		{10 * time.Second, time.Minute, 1, 20 * time.Second},
		{10 * time.Second, time.Minute, 3, time.Minute},
		{10 * time.Second, time.Minute, 50, time.Minute},
		{10 * time.Second, 0, 3, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := pollInterval(tt.base, tt.failures, tt.max); got != tt.want {
			t.Errorf("pollInterval(%v, %d, %v) = %v, want %v", tt.base, tt.failures, tt.max, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := newFetcher(returns("x"))

	_, err := h.cache.Fetch(ctx, "a", f.fetch)
	require.NoError(t, err)
	_, err = h.cache.Fetch(ctx, "b", f.fetch)
	require.NoError(t, err)
	_, err = h.cache.Subscribe("a", f.fetch, types.SubscribeOptions{})
	require.NoError(t, err)

	h.clock.Advance(31 * time.Second)
	health := h.cache.Health()
	assert.Equal(t, 2, health.Entries)
	assert.Equal(t, 2, health.StaleEntries)
	assert.Equal(t, 1, health.Subscriptions)
	assert.Equal(t, 1, health.PollingKeys)
	assert.Equal(t, 0, health.InFlight)
}

func TestClose(t *testing.T) {
	t.Run("stops polling and rejects new work", func(t *testing.T) {
		h := newHarness(t)
		f := newFetcher(returns("x"))
		_, err := h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{})
		require.NoError(t, err)
		job := h.scheduler.only(t)

		require.NoError(t, h.cache.Close())
		require.NoError(t, h.cache.Close())
		assert.True(t, job.Stopped())

		snap := h.cache.Get(context.Background(), "k", f.fetch)
		assert.ErrorIs(t, snap.Err, types.ErrClosed)

		_, err = h.cache.Fetch(context.Background(), "k", f.fetch)
		assert.ErrorIs(t, err, types.ErrClosed)

		_, err = h.cache.Subscribe("k", f.fetch, types.SubscribeOptions{})
		assert.ErrorIs(t, err, types.ErrClosed)

		_, err = h.cache.Refetch(context.Background(), "k")
		assert.ErrorIs(t, err, types.ErrClosed)
	})

	t.Run("cancels in-flight fetches", func(t *testing.T) {
		h := newHarness(t)
		f := newFetcher(returns("x")).gated()
		_ = h.cache.Get(context.Background(), "k", f.fetch)
		<-f.started

		require.NoError(t, h.cache.CloseWithTimeout(time.Second))
	})

	t.Run("times out on stuck fetches", func(t *testing.T) {
		h := newHarness(t)
		stuck := make(chan struct{})
		defer close(stuck)
		started := make(chan struct{})
		_ = h.cache.Get(context.Background(), "k", func(context.Context) ([]byte, error) {
			close(started)
			<-stuck
			return nil, nil
		})
		<-started

		err := h.cache.CloseWithTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, types.ErrShutdownTimeout)
	})
}
