package config

import "time"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:       30 * time.Second,
			MaxConcurrent: 64,
			UserAgent:     "freshline",
		},
		Retry: RetryConfig{
			Enabled:        true,
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
			Jitter:         true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			FailureThreshold:    5,
			SuccessThreshold:    1,
			ResetTimeout:        60 * time.Second,
			HalfOpenMaxRequests: 1,
			FailurePolicy:       FailurePolicyPerRequest,
		},
		Token: TokenConfig{
			RenewBuffer:     5 * time.Minute,
			ExchangeTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             60 * time.Second,
			StaleThreshold:  5 * time.Minute,
			PollingInterval: 30 * time.Second,
			MaxPollBackoff:  5 * time.Minute,
			MaxAge:          0,
		},
		Memory: MemoryConfig{
			MaxSizeMB:       64,
			CleanupInterval: time.Minute,
			Shards:          16, // 4MB per shard
			MaxEntrySize:    1024 * 1024, // 1MB
		},
		Redis: RedisConfig{
			Enabled:       false,
			Address:       "localhost:6379",
			Password:      SecretString{},
			DB:            0,
			KeyPrefix:     "freshline:",
			PoolSize:      10,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			EnableTLS:     false,
			TLSSkipVerify: false,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PublishInterval: 10 * time.Second,
			DataDog: DataDogConfig{
				Enabled:   false,
				AgentHost: "127.0.0.1",
				Port:      8125,
				Prefix:    "freshline",
				Tags:      []string{},
			},
			Prometheus: PrometheusConfig{
				Enabled:   false,
				Namespace: "freshline",
			},
		},
		KeyValidation: KeyValidationConfig{
			Enabled:         true,
			MaxKeyLength:    512,
			AllowWhitespace: false,
		},
	}
}

// ForTesting returns a minimal configuration suitable for unit tests.
func ForTesting() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:       time.Second,
			MaxConcurrent: 0,
			UserAgent:     "freshline-test",
		},
		Retry: RetryConfig{
			Enabled:        true,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			Multiplier:     2.0,
			Jitter:         false,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			FailureThreshold:    3,
			SuccessThreshold:    1,
			ResetTimeout:        time.Second,
			HalfOpenMaxRequests: 1,
			FailurePolicy:       FailurePolicyPerRequest,
		},
		Token: TokenConfig{
			RenewBuffer:     time.Minute,
			ExchangeTimeout: time.Second,
		},
		Cache: CacheConfig{
			TTL:             time.Minute,
			StaleThreshold:  30 * time.Second,
			PollingInterval: time.Second,
			MaxPollBackoff:  10 * time.Second,
		},
		Memory: MemoryConfig{
			MaxSizeMB:       4,
			CleanupInterval: time.Second,
			Shards:          16,
			MaxEntrySize:    64 * 1024,
		},
		Redis: RedisConfig{
			Enabled:      false, // Disabled for unit tests
			Address:      "localhost:6379",
			KeyPrefix:    "freshline-test:",
			PoolSize:     2,
			DialTimeout:  time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			PublishInterval: time.Second,
		},
		KeyValidation: KeyValidationConfig{
			Enabled:         true,
			MaxKeyLength:    512,
			AllowWhitespace: false,
		},
	}
}

// ForTestingWithRedis returns a test config with the Redis credential store enabled.
func ForTestingWithRedis(addr string) *Config {
	cfg := ForTesting()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = addr
	return cfg
}
