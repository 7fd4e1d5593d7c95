// Package auth keeps the session credential valid for the resilient client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/types"
)

const renewKey = "renew"

var errNoRefreshToken = errors.New("credential has no refresh token")

// Manager holds the current credential, renews it before it expires and
// coalesces concurrent renewals into a single exchange.
type Manager struct {
	auth    types.Authenticator
	store   types.CredentialStore
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics types.MetricsRecorder

	renewBuffer     time.Duration
	exchangeTimeout time.Duration
	onIrrecoverable func(*types.Error)

	group singleflight.Group

	mu       sync.RWMutex
	cred     types.Credential
	terminal *types.Error
	notified bool
	closed   bool
	timer    clockwork.Timer
	// generation changes on Reset so a renewal started for an earlier
	// session cannot overwrite the new credential.
	generation uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock driving expiry checks and the renewal timer.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder for renewals.
func WithMetrics(recorder types.MetricsRecorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

// WithStore persists every renewed credential and clears it on terminal failure.
func WithStore(store types.CredentialStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithOnAuthIrrecoverable registers the callback invoked once when the
// session can no longer be renewed.
func WithOnAuthIrrecoverable(fn func(*types.Error)) Option {
	return func(m *Manager) {
		m.onIrrecoverable = fn
	}
}

// NewManager creates a token manager for a freshly obtained credential and
// schedules its first renewal at ExpiresAt - RenewBuffer.
func NewManager(cfg config.TokenConfig, authenticator types.Authenticator, cred types.Credential, opts ...Option) (*Manager, error) {
	if authenticator == nil {
		return nil, errors.New("auth: authenticator is required")
	}
	if cred.RefreshToken.IsEmpty() {
		return nil, fmt.Errorf("auth: %w", errNoRefreshToken)
	}

	m := &Manager{
		auth:            authenticator,
		clock:           clockwork.NewRealClock(),
		logger:          slog.Default(),
		metrics:         metrics.NewNoOpTracker(),
		renewBuffer:     cfg.RenewBuffer,
		exchangeTimeout: cfg.ExchangeTimeout,
		cred:            cred,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.renewBuffer <= 0 {
		m.renewBuffer = 5 * time.Minute
	}
	if m.exchangeTimeout <= 0 {
		m.exchangeTimeout = 30 * time.Second
	}
	m.logger = m.logger.With("component", "token-manager")

	m.mu.Lock()
	m.scheduleLocked()
	m.mu.Unlock()

	m.logger.Info("Token manager started",
		"expires_at", cred.ExpiresAt,
		"renew_buffer", m.renewBuffer,
	)
	return m, nil
}

// Current returns a credential that stays valid for longer than the renew
// buffer, renewing first when needed.
func (m *Manager) Current(ctx context.Context) (types.Credential, error) {
	m.mu.RLock()
	cred, err := m.cred, m.failureLocked()
	m.mu.RUnlock()

	if err != nil {
		return types.Credential{}, err
	}
	if cred.ValidFor(m.clock.Now(), m.renewBuffer) {
		return cred, nil
	}
	return m.renew(ctx, cred.AccessToken)
}

// ForceRenew exchanges the refresh token regardless of the current
// credential's expiry. It is used after the backend rejected the access token.
func (m *Manager) ForceRenew(ctx context.Context) (types.Credential, error) {
	m.mu.RLock()
	seen, err := m.cred.AccessToken, m.failureLocked()
	m.mu.RUnlock()

	if err != nil {
		return types.Credential{}, err
	}
	return m.renew(ctx, seen)
}

func (m *Manager) failureLocked() *types.Error {
	if m.closed {
		return types.NewErrorAt(m.clock.Now(), types.CodeAuthRefreshFailed, "token manager closed", types.ErrClosed)
	}
	return m.terminal
}

// renew runs one exchange shared by every concurrent caller. seen is the
// access token the caller found unusable; if another renewal already replaced
// it the exchange is skipped. The exchange is detached from any single
// caller's cancellation and bounded by the exchange timeout, so a caller that
// gives up gets CANCELED while the exchange finishes.
func (m *Manager) renew(ctx context.Context, seen types.SecretString) (types.Credential, error) {
	ch := m.group.DoChan(renewKey, func() (any, error) {
		exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.exchangeTimeout)
		defer cancel()
		return m.exchange(exchangeCtx, seen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.Credential{}, res.Err
		}
		return res.Val.(types.Credential), nil
	case <-ctx.Done():
		return types.Credential{}, types.NewErrorAt(m.clock.Now(), types.CodeCanceled, "waiting for credential renewal", ctx.Err())
	}
}

func (m *Manager) exchange(ctx context.Context, seen types.SecretString) (types.Credential, error) {
	m.mu.RLock()
	if err := m.failureLocked(); err != nil {
		m.mu.RUnlock()
		return types.Credential{}, err
	}
	if current := m.cred; !current.AccessToken.Equal(seen) && current.ValidFor(m.clock.Now(), m.renewBuffer) {
		m.mu.RUnlock()
		return current, nil
	}
	refresh := m.cred.RefreshToken.Value()
	generation := m.generation
	m.mu.RUnlock()

	start := m.clock.Now()
	cred, err := m.auth.ExchangeRefreshToken(ctx, refresh)
	latency := m.clock.Since(start)

	if err == nil && !cred.ValidFor(m.clock.Now(), m.renewBuffer) {
		err = fmt.Errorf("renewed credential expires at %s, inside the renew buffer", cred.ExpiresAt.Format(time.RFC3339))
	}
	m.metrics.RecordTokenRenewal(err == nil, latency)

	if err != nil {
		return types.Credential{}, m.terminate(generation, err)
	}

	if cred.RefreshToken.IsEmpty() {
		cred.RefreshToken = types.NewSecretString(refresh)
	}

	m.mu.Lock()
	if m.generation != generation || m.closed {
		current := m.cred
		m.mu.Unlock()
		m.logger.Debug("Discarding renewal from a previous session")
		return current, nil
	}
	m.cred = cred
	m.scheduleLocked()
	m.mu.Unlock()

	m.logger.Info("Credential renewed", "expires_at", cred.ExpiresAt, "latency", latency)
	m.persist(cred)
	return cred, nil
}

// terminate records a terminal renewal failure for the given session,
// clears the stored credential and fires the irrecoverable callback once.
func (m *Manager) terminate(generation uint64, cause error) *types.Error {
	m.mu.Lock()
	if m.generation != generation {
		current := m.terminal
		m.mu.Unlock()
		if current != nil {
			return current
		}
		return types.NewErrorAt(m.clock.Now(), types.CodeAuthRefreshFailed, "credential renewal superseded", cause)
	}
	if m.terminal == nil {
		m.terminal = types.NewErrorAt(m.clock.Now(), types.CodeAuthRefreshFailed, "credential renewal failed", cause)
	}
	terminal := m.terminal
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	notify := !m.notified && m.onIrrecoverable != nil
	m.notified = true
	m.mu.Unlock()

	m.logger.Warn("Session terminated, credential renewal failed", "error", cause)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.exchangeTimeout)
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear stored credential", "error", err)
		}
		cancel()
	}

	if notify {
		m.onIrrecoverable(terminal)
	}
	return terminal
}

func (m *Manager) persist(cred types.Credential) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.exchangeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, cred); err != nil {
		m.logger.Warn("Failed to persist credential", "error", err)
	}
}

// scheduleLocked arms the renewal timer for the current credential.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	delay := m.cred.ExpiresAt.Sub(m.clock.Now()) - m.renewBuffer
	if delay < 0 {
		delay = 0
	}
	m.timer = m.clock.AfterFunc(delay, func() { go m.scheduledRenew() })
	m.logger.Debug("Renewal scheduled", "in", delay)
}

func (m *Manager) scheduledRenew() {
	m.mu.RLock()
	seen := m.cred.AccessToken
	skip := m.closed || m.terminal != nil || m.cred.ValidFor(m.clock.Now(), m.renewBuffer)
	m.mu.RUnlock()
	if skip {
		return
	}

	if _, err := m.renew(context.Background(), seen); err != nil {
		m.logger.Debug("Scheduled renewal failed", "error", err)
	}
}

// Reset replaces the credential after a fresh sign-in and re-arms a
// terminated manager.
func (m *Manager) Reset(cred types.Credential) error {
	if cred.RefreshToken.IsEmpty() {
		return fmt.Errorf("auth: %w", errNoRefreshToken)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return types.ErrClosed
	}
	m.generation++
	m.cred = cred
	m.terminal = nil
	m.notified = false
	m.scheduleLocked()
	m.mu.Unlock()

	m.logger.Info("Session reset", "expires_at", cred.ExpiresAt)
	m.persist(cred)
	return nil
}

// Terminated reports whether the session ended with a terminal renewal failure.
func (m *Manager) Terminated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminal != nil
}

// Health returns the credential's remaining lifetime.
func (m *Manager) Health() types.TokenHealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	remaining := m.cred.ExpiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return types.TokenHealthMetrics{
		ExpiresAt:  m.cred.ExpiresAt,
		Remaining:  remaining,
		Terminated: m.terminal != nil,
	}
}

// Close stops the renewal timer. Subsequent calls fail with AUTH_REFRESH_FAILED.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.logger.Info("Token manager closed")
	return nil
}
