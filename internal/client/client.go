// Package client issues authenticated backend calls through the circuit
// breaker, retry and concurrency limiter and normalizes every failure.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/metrics"
	"github.com/LavishGent/freshline/internal/resilience"
	"github.com/LavishGent/freshline/internal/types"
)

// Request headers set by the client.
const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	HeaderUserAgent     = "User-Agent"
)

// TokenSource hands out bearer credentials. *auth.Manager implements it.
type TokenSource interface {
	Current(ctx context.Context) (types.Credential, error)
	ForceRenew(ctx context.Context) (types.Credential, error)
}

// Client is the resilient client. It is safe for concurrent use.
type Client struct {
	transport types.Transport
	tokens    TokenSource
	policy    *resilience.Policy
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   types.MetricsRecorder

	timeout   time.Duration
	userAgent string

	inFlight atomic.Int64
}

// Option configures a Client.
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics types.MetricsRecorder
}

// WithClock sets the clock used for backoff waits, breaker timing and latency.
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

// New creates a client. tokens may be nil for backends that need no
// credential; no Authorization header is sent then.
func New(cfg *config.Config, transport types.Transport, tokens TokenSource, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("client: transport is required")
	}

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

	c := &Client{
		transport: transport,
		tokens:    tokens,
		clock:     o.clock,
		logger:    o.logger.With("component", "client"),
		metrics:   o.metrics,
		timeout:   cfg.Client.Timeout,
		userAgent: cfg.Client.UserAgent,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}

	policy, err := resilience.NewPolicy(cfg, c.clock,
		resilience.WithOnRetry(func(attempt int, backoff time.Duration, err error) {
			c.logger.Debug("Retrying request", "attempt", attempt+1, "backoff", backoff, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	policy.SetOnCircuitStateChange(c.onCircuitStateChange)
	c.policy = policy

	return c, nil
}

func (c *Client) onCircuitStateChange(from, to resilience.State) {
	c.metrics.RecordCircuitBreakerStateChange(from.String(), to.String())
	if to == resilience.StateOpen {
		c.logger.Warn("Circuit breaker opened", "from", from.String())
		return
	}
	c.logger.Info("Circuit breaker state changed", "from", from.String(), "to", to.String())
}

// Do sends req through the breaker, retry and limiter and returns the
// backend's response unchanged on success. Every error is a *types.Error.
func (c *Client) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req == nil {
		return nil, c.newError(types.CodeValidation, "nil request", nil)
	}
	if req.Method == "" {
		req = req.Clone()
		req.Method = http.MethodGet
	}

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := c.logger.With("request_id", requestID, "method", req.Method, "path", req.Path)

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	start := c.clock.Now()
	var (
		resp     *types.Response
		attempts int
		renewed  bool
	)
	err := c.policy.Execute(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if attempt > 1 {
			c.metrics.RecordRetry(attempt)
		}
		r, err := c.attempt(ctx, req, requestID, &renewed)
		if err != nil {
			logger.Debug("Attempt failed", "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	})
	latency := c.clock.Since(start)

	if err != nil {
		nerr := c.normalize(err, req, attempts)
		c.metrics.RecordRequest(req.Method, metrics.OutcomeFailure, latency)
		c.logFailure(logger, nerr, attempts, latency)
		return nil, nerr
	}

	c.metrics.RecordRequest(req.Method, metrics.OutcomeSuccess, latency)
	logger.Debug("Request succeeded", "status", resp.StatusCode, "attempts", attempts, "latency", latency)
	return resp, nil
}

// attempt performs one transport call. The first 401 of a request renews the
// credential and repeats the call; renewed records that across retries so a
// later 401 is final.
func (c *Client) attempt(ctx context.Context, req *types.Request, requestID string, renewed *bool) (*types.Response, error) {
	cred, err := c.credential(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, requestID, cred)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		if *renewed {
			return nil, c.newError(types.CodeAuthRejected, "backend rejected renewed credential", nil).
				WithStatus(resp.StatusCode)
		}
		*renewed = true
		c.logger.Info("Backend rejected credential, renewing", "request_id", requestID)
		cred, err = c.credential(ctx, true)
		if err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, req, requestID, cred)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, c.newError(types.CodeAuthRejected, "backend rejected renewed credential", nil).
				WithStatus(resp.StatusCode)
		}
	}

	return resp, c.classifyStatus(req, resp)
}

func (c *Client) credential(ctx context.Context, force bool) (types.Credential, error) {
	if c.tokens == nil {
		return types.Credential{}, nil
	}
	if force {
		return c.tokens.ForceRenew(ctx)
	}
	return c.tokens.Current(ctx)
}

// send runs the transport under the per-attempt timeout. A failure caused by
// the caller's own context is returned as the raw context error.
func (c *Client) send(ctx context.Context, req *types.Request, requestID string, cred types.Credential) (*types.Response, error) {
	out := req.Clone()
	out.Header.Set(HeaderRequestID, requestID)
	if !cred.AccessToken.IsEmpty() {
		out.Header.Set(HeaderAuthorization, "Bearer "+cred.AccessToken.Value())
	}
	if c.userAgent != "" && out.Header.Get(HeaderUserAgent) == "" {
		out.Header.Set(HeaderUserAgent, c.userAgent)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.transport.Send(attemptCtx, out)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if resilience.IsTimeout(err) {
			return nil, c.newError(types.CodeTimeout,
				fmt.Sprintf("%s %s timed out after %s", req.Method, req.Path, c.timeout), err)
		}
		return nil, c.newError(types.CodeUpstreamUnavailable,
			fmt.Sprintf("%s %s failed", req.Method, req.Path), err)
	}
	return resp, nil
}

// classifyStatus maps a non-success HTTP status to a normalized error.
func (c *Client) classifyStatus(req *types.Request, resp *types.Response) error {
	status := resp.StatusCode
	switch {
	case status < http.StatusBadRequest:
		return nil
	case resilience.IsTransientStatus(status):
		return c.newError(types.CodeUpstreamUnavailable,
			fmt.Sprintf("%s %s returned %d", req.Method, req.Path, status), nil).WithStatus(status)
	case status == http.StatusUnauthorized:
		return c.newError(types.CodeAuthRejected, "backend rejected credential", nil).WithStatus(status)
	default:
		return c.newError(types.CodeRequestRejected,
			fmt.Sprintf("%s %s returned %d", req.Method, req.Path, status), nil).WithStatus(status)
	}
}

func (c *Client) newError(code types.Code, message string, cause error) *types.Error {
	return types.NewErrorAt(c.clock.Now(), code, message, cause)
}

// normalize turns the policy's final error into the error handed to callers.
func (c *Client) normalize(err error, req *types.Request, attempts int) *types.Error {
	switch {
	case errors.Is(err, context.Canceled) && !isNormalized(err):
		return c.newError(types.CodeCanceled, "request canceled by caller", err)
	case errors.Is(err, context.DeadlineExceeded) && !isNormalized(err):
		return c.newError(types.CodeTimeout, "caller deadline exceeded", err)
	}

	e, ok := types.AsError(err)
	if !ok {
		e = c.newError(types.CodeUpstreamUnavailable, fmt.Sprintf("%s %s failed", req.Method, req.Path), err)
	}
	if attempts > 1 && (e.Code == types.CodeUpstreamUnavailable || e.Code == types.CodeTimeout) {
		return &types.Error{
			Code:       e.Code,
			Message:    fmt.Sprintf("%s after %d attempts", e.Message, attempts),
			Retryable:  e.Retryable,
			Timestamp:  e.Timestamp,
			StatusCode: e.StatusCode,
			Err:        e.Err,
		}
	}
	return e
}

func isNormalized(err error) bool {
	_, ok := types.AsError(err)
	return ok
}

func (c *Client) logFailure(logger *slog.Logger, err *types.Error, attempts int, latency time.Duration) {
	args := []any{"code", err.Code, "attempts", attempts, "latency", latency, "error", err}
	if err.StatusCode != 0 {
		args = append(args, "status", err.StatusCode)
	}
	switch err.Code {
	case types.CodeCanceled, types.CodeRequestRejected:
		logger.Debug("Request failed", args...)
	default:
		logger.Warn("Request failed", args...)
	}
}

// Policy exposes the breaker, retry and limiter for health reporting.
func (c *Client) Policy() *resilience.Policy {
	return c.policy
}

// Health describes the breaker and the calls currently in flight.
func (c *Client) Health() types.ClientHealthMetrics {
	stats := c.policy.Breaker().Stats()
	return types.ClientHealthMetrics{
		CircuitBreakerState: stats.State.String(),
		ConsecutiveFailures: stats.ConsecutiveFails,
		LastFailure:         stats.LastFailure,
		LastTransition:      stats.LastTransition,
		InFlight:            int(c.inFlight.Load()),
	}
}
