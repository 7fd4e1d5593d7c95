package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from a JSON file.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a JSON file and applies FRESHLINE_*
// and DD_* environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

//nolint:gocyclo // Environment variable parsing requires many conditional checks
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRESHLINE_CLIENT_BASE_URL"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("FRESHLINE_CLIENT_TIMEOUT"); v != "" {
		cfg.Client.Timeout = parseDuration(v, cfg.Client.Timeout)
	}
	if v := os.Getenv("FRESHLINE_CLIENT_MAX_CONCURRENT"); v != "" {
		cfg.Client.MaxConcurrent = parseInt(v, cfg.Client.MaxConcurrent)
	}

	if v := os.Getenv("FRESHLINE_RETRY_ENABLED"); v != "" {
		cfg.Retry.Enabled = parseBool(v)
	}
	if v := os.Getenv("FRESHLINE_RETRY_MAX_ATTEMPTS"); v != "" {
		cfg.Retry.MaxAttempts = parseInt(v, cfg.Retry.MaxAttempts)
	}
	if v := os.Getenv("FRESHLINE_RETRY_INITIAL_BACKOFF"); v != "" {
		cfg.Retry.InitialBackoff = parseDuration(v, cfg.Retry.InitialBackoff)
	}
	if v := os.Getenv("FRESHLINE_RETRY_MAX_BACKOFF"); v != "" {
		cfg.Retry.MaxBackoff = parseDuration(v, cfg.Retry.MaxBackoff)
	}

	if v := os.Getenv("FRESHLINE_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.CircuitBreaker.Enabled = parseBool(v)
	}
	if v := os.Getenv("FRESHLINE_CIRCUIT_BREAKER_FAILURE_THRESHOLD"); v != "" {
		cfg.CircuitBreaker.FailureThreshold = parseInt(v, cfg.CircuitBreaker.FailureThreshold)
	}
	if v := os.Getenv("FRESHLINE_CIRCUIT_BREAKER_RESET_TIMEOUT"); v != "" {
		cfg.CircuitBreaker.ResetTimeout = parseDuration(v, cfg.CircuitBreaker.ResetTimeout)
	}
	if v := os.Getenv("FRESHLINE_CIRCUIT_BREAKER_FAILURE_POLICY"); v != "" {
		cfg.CircuitBreaker.FailurePolicy = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("FRESHLINE_TOKEN_RENEW_BUFFER"); v != "" {
		cfg.Token.RenewBuffer = parseDuration(v, cfg.Token.RenewBuffer)
	}

	if v := os.Getenv("FRESHLINE_CACHE_TTL"); v != "" {
		cfg.Cache.TTL = parseDuration(v, cfg.Cache.TTL)
	}
	if v := os.Getenv("FRESHLINE_CACHE_STALE_THRESHOLD"); v != "" {
		cfg.Cache.StaleThreshold = parseDuration(v, cfg.Cache.StaleThreshold)
	}
	if v := os.Getenv("FRESHLINE_CACHE_POLLING_INTERVAL"); v != "" {
		cfg.Cache.PollingInterval = parseDuration(v, cfg.Cache.PollingInterval)
	}
	if v := os.Getenv("FRESHLINE_CACHE_MAX_AGE"); v != "" {
		cfg.Cache.MaxAge = parseDuration(v, cfg.Cache.MaxAge)
	}

	if v := os.Getenv("FRESHLINE_MEMORY_MAX_SIZE_MB"); v != "" {
		cfg.Memory.MaxSizeMB = parseInt(v, cfg.Memory.MaxSizeMB)
	}

	if v := os.Getenv("FRESHLINE_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("FRESHLINE_REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("FRESHLINE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = NewSecretString(v)
	}
	if v := os.Getenv("FRESHLINE_REDIS_DB"); v != "" {
		cfg.Redis.DB = parseInt(v, cfg.Redis.DB)
	}
	if v := os.Getenv("FRESHLINE_REDIS_KEY_PREFIX"); v != "" {
		cfg.Redis.KeyPrefix = v
	}
	if v := os.Getenv("FRESHLINE_REDIS_ENABLE_TLS"); v != "" {
		cfg.Redis.EnableTLS = parseBool(v)
	}

	if v := os.Getenv("FRESHLINE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FRESHLINE_PROMETHEUS_ENABLED"); v != "" {
		cfg.Metrics.Prometheus.Enabled = parseBool(v)
	}

	if v := os.Getenv("DD_AGENT_HOST"); v != "" {
		cfg.Metrics.DataDog.AgentHost = v
		cfg.Metrics.DataDog.Enabled = true
	}
	if v := os.Getenv("DD_DOGSTATSD_PORT"); v != "" {
		cfg.Metrics.DataDog.Port = parseInt(v, cfg.Metrics.DataDog.Port)
	}
	if v := os.Getenv("DD_SERVICE"); v != "" {
		cfg.Metrics.DataDog.Prefix = v
	}
	if v := os.Getenv("DD_ENV"); v != "" {
		cfg.Metrics.DataDog.Tags = append(cfg.Metrics.DataDog.Tags, "env:"+v)
	}
	if v := os.Getenv("DD_VERSION"); v != "" {
		cfg.Metrics.DataDog.Tags = append(cfg.Metrics.DataDog.Tags, "version:"+v)
	}

	if v := os.Getenv("FRESHLINE_DATADOG_ENABLED"); v != "" {
		if os.Getenv("DD_AGENT_HOST") == "" {
			cfg.Metrics.DataDog.Enabled = parseBool(v)
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}
	if c.Client.MaxConcurrent < 0 {
		errs = append(errs, errors.New("client.maxConcurrent must not be negative"))
	}

	if c.Retry.Enabled {
		if c.Retry.MaxAttempts <= 0 {
			errs = append(errs, errors.New("retry.maxAttempts must be positive"))
		}
		if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
			errs = append(errs, errors.New("retry backoff must not be negative"))
		}
		if c.Retry.Multiplier < 1 {
			errs = append(errs, errors.New("retry.multiplier must be at least 1"))
		}
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			errs = append(errs, errors.New("circuitBreaker.failureThreshold must be positive"))
		}
		if c.CircuitBreaker.ResetTimeout <= 0 {
			errs = append(errs, errors.New("circuitBreaker.resetTimeout must be positive"))
		}
		switch c.CircuitBreaker.FailurePolicy {
		case "", FailurePolicyPerRequest, FailurePolicyPerAttempt:
		default:
			errs = append(errs, fmt.Errorf("circuitBreaker.failurePolicy %q must be %q or %q",
				c.CircuitBreaker.FailurePolicy, FailurePolicyPerRequest, FailurePolicyPerAttempt))
		}
	}

	if c.Token.RenewBuffer < 0 {
		errs = append(errs, errors.New("token.renewBuffer must not be negative"))
	}

	if c.Cache.TTL < 0 || c.Cache.StaleThreshold < 0 || c.Cache.MaxAge < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}
	if c.Cache.PollingInterval <= 0 {
		errs = append(errs, errors.New("cache.pollingInterval must be positive"))
	}

	if c.Memory.MaxSizeMB <= 0 {
		errs = append(errs, errors.New("memory.maxSizeMB must be positive"))
	}
	if c.Memory.MaxEntrySize <= 0 {
		errs = append(errs, errors.New("memory.maxEntrySize must be positive"))
	}
	if c.Memory.Shards <= 0 || (c.Memory.Shards&(c.Memory.Shards-1)) != 0 {
		errs = append(errs, errors.New("memory.shards must be a positive power of 2"))
	} else if c.Memory.MaxSizeMB > 0 && c.Memory.MaxSizeMB*1024*1024/c.Memory.Shards < c.Memory.MaxEntrySize {
		errs = append(errs, fmt.Errorf("memory: %dMB over %d shards leaves less than maxEntrySize %d bytes per shard",
			c.Memory.MaxSizeMB, c.Memory.Shards, c.Memory.MaxEntrySize))
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("redis.address is required when redis is enabled"))
		}
		if c.Redis.PoolSize <= 0 {
			errs = append(errs, errors.New("redis.poolSize must be positive"))
		}
	}

	return errors.Join(errs...)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseInt(s string, defaultVal int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultVal
	}
	return v
}

// parseDuration accepts Go duration syntax or a plain integer of milliseconds.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)

	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultVal
}
