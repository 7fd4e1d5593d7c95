// Package freshline provides a resilient data access layer for a remote
// HTTP backend.
//
// A Layer combines three parts behind one API: a resilient client that sends
// every call through a circuit breaker, retries and a concurrency limit; a
// token manager that keeps a short-lived access credential valid; and a
// polling cache that serves the last known data while refreshing it in the
// background.
//
// # Features
//
//   - Circuit Breaker: Stops calling a failing backend and probes it again after a cool-down
//   - Credential Renewal: Renews before expiry, on 401, and coalesces concurrent renewals
//   - Normalized Errors: Every failure is an *Error with a stable Code
//   - Polling Cache: TTL, staleness and request deduplication per key, with subscriptions
//   - Observability: In-process counters, Prometheus collectors and DataDog gauges
//
// # Quick Start
//
//	cfg := freshline.Config()
//	cfg.Client.BaseURL = "https://api.example.com"
//
//	layer, err := freshline.NewFromConfig(cfg, nil, authenticator, credential)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer layer.Close()
//
// # Reading Data
//
// Get never blocks on the backend. It returns the last known snapshot and
// starts a fetch when the entry is missing or older than its TTL:
//
//	req := &freshline.Request{Path: "/accounts/42"}
//	snap := layer.GetRequest(ctx, req)
//	if snap.Loading {
//	    // first fetch in flight, nothing to show yet
//	}
//
// Fetch waits for the refresh instead:
//
//	snap, err := layer.FetchRequest(ctx, req, freshline.WithTTL(10*time.Second))
//	account, err := freshline.Decode[Account](snap)
//
// A failed refresh keeps the previous payload; the failure is on snap.Err
// and snap.Stale tells whether the data is older than the stale threshold.
//
// # Subscriptions
//
// Subscribe polls a key while at least one subscription is active. Failed
// polls back off exponentially up to cache.maxPollBackoff:
//
//	sub, err := layer.SubscribeRequest(req, freshline.SubscribeOptions{
//	    Interval: 15 * time.Second,
//	    Listener: func(u freshline.Update) { render(u.Snapshot) },
//	})
//	defer sub.Unsubscribe()
//
// # Authentication
//
// The Authenticator exchanges the refresh token for a new credential. When
// an exchange fails the session is terminated: every later call fails with
// AUTH_REFRESH_FAILED and the WithOnAuthIrrecoverable callback runs once.
// SignIn starts a new session. With a credential store configured
// (WithCredentialStore, or redis.enabled), Resume continues a session saved
// by an earlier process.
//
// # Health Checks
//
//	health := layer.Health()
//	switch health.Status {
//	case freshline.HealthStatusDegraded:
//	    // circuit breaker not closed, cached data still served
//	case freshline.HealthStatusUnhealthy:
//	    // sign-in required
//	}
//
// # Configuration
//
// Load configuration from a JSON file with FRESHLINE_* environment overrides:
//
//	layer, err := freshline.NewFromFile("freshline.json", nil, authenticator, credential)
//
// For testing, use the test configuration:
//
//	cfg := freshline.TestConfig()
//
// # Thread Safety
//
// All Layer methods are safe for concurrent use.
package freshline
