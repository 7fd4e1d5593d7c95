package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("client defaults", func(t *testing.T) {
		if cfg.Client.Timeout != 30*time.Second {
			t.Errorf("Client.Timeout = %v, want 30s", cfg.Client.Timeout)
		}
		if cfg.Client.MaxConcurrent != 64 {
			t.Errorf("Client.MaxConcurrent = %d, want 64", cfg.Client.MaxConcurrent)
		}
	})

	t.Run("circuit breaker defaults", func(t *testing.T) {
		if !cfg.CircuitBreaker.Enabled {
			t.Error("CircuitBreaker.Enabled = false, want true")
		}
		if cfg.CircuitBreaker.FailureThreshold != 5 {
			t.Errorf("CircuitBreaker.FailureThreshold = %d, want 5", cfg.CircuitBreaker.FailureThreshold)
		}
		if cfg.CircuitBreaker.ResetTimeout != 60*time.Second {
			t.Errorf("CircuitBreaker.ResetTimeout = %v, want 60s", cfg.CircuitBreaker.ResetTimeout)
		}
		if cfg.CircuitBreaker.HalfOpenMaxRequests != 1 {
			t.Errorf("CircuitBreaker.HalfOpenMaxRequests = %d, want 1", cfg.CircuitBreaker.HalfOpenMaxRequests)
		}
		if cfg.CircuitBreaker.FailurePolicy != FailurePolicyPerRequest {
			t.Errorf("CircuitBreaker.FailurePolicy = %s, want per-request", cfg.CircuitBreaker.FailurePolicy)
		}
	})

	t.Run("retry defaults", func(t *testing.T) {
		if !cfg.Retry.Enabled {
			t.Error("Retry.Enabled = false, want true")
		}
		if cfg.Retry.MaxAttempts != 3 {
			t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
		}
		if cfg.Retry.InitialBackoff != 100*time.Millisecond {
			t.Errorf("Retry.InitialBackoff = %v, want 100ms", cfg.Retry.InitialBackoff)
		}
		if cfg.Retry.Multiplier != 2.0 {
			t.Errorf("Retry.Multiplier = %f, want 2.0", cfg.Retry.Multiplier)
		}
	})

	t.Run("token defaults", func(t *testing.T) {
		if cfg.Token.RenewBuffer != 5*time.Minute {
			t.Errorf("Token.RenewBuffer = %v, want 5m", cfg.Token.RenewBuffer)
		}
	})

	t.Run("cache defaults", func(t *testing.T) {
		if cfg.Cache.TTL != 60*time.Second {
			t.Errorf("Cache.TTL = %v, want 60s", cfg.Cache.TTL)
		}
		if cfg.Cache.MaxAge != 0 {
			t.Errorf("Cache.MaxAge = %v, want 0 (never evict)", cfg.Cache.MaxAge)
		}
	})

	t.Run("redis disabled", func(t *testing.T) {
		if cfg.Redis.Enabled {
			t.Error("Redis.Enabled = true, want false")
		}
		if cfg.Redis.KeyPrefix != "freshline:" {
			t.Errorf("Redis.KeyPrefix = %s, want freshline:", cfg.Redis.KeyPrefix)
		}
	})

	t.Run("defaults are valid", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})
}

func TestForTesting(t *testing.T) {
	cfg := ForTesting()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if cfg.Retry.Jitter {
		t.Error("Retry.Jitter = true, want false for deterministic tests")
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
	if cfg.Redis.Enabled {
		t.Error("Redis.Enabled = true, want false")
	}
}

func TestForTestingWithRedis(t *testing.T) {
	addr := "redis.test.local:6380"
	cfg := ForTestingWithRedis(addr)

	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true")
	}
	if cfg.Redis.Address != addr {
		t.Errorf("Redis.Address = %s, want %s", cfg.Redis.Address, addr)
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.CircuitBreaker.FailureThreshold != 5 {
			t.Errorf("FailureThreshold = %d, want 5", cfg.CircuitBreaker.FailureThreshold)
		}
	})

	t.Run("non-existent file returns defaults", func(t *testing.T) {
		cfg, err := Load("/non/existent/path/config.json")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Cache.TTL != 60*time.Second {
			t.Errorf("Cache.TTL = %v, want 60s", cfg.Cache.TTL)
		}
	})

	t.Run("loads valid JSON file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")

		jsonContent := `{
			"client": {"baseURL": "https://api.example.com", "timeout": 5000000000},
			"circuitBreaker": {"enabled": true, "failureThreshold": 2, "resetTimeout": 1000000000, "failurePolicy": "per-attempt"},
			"cache": {"ttl": 60000000000, "staleThreshold": 30000000000, "pollingInterval": 10000000000}
		}`

		if err := os.WriteFile(configPath, []byte(jsonContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Client.BaseURL != "https://api.example.com" {
			t.Errorf("Client.BaseURL = %s", cfg.Client.BaseURL)
		}
		if cfg.Client.Timeout != 5*time.Second {
			t.Errorf("Client.Timeout = %v, want 5s", cfg.Client.Timeout)
		}
		if cfg.CircuitBreaker.FailurePolicy != FailurePolicyPerAttempt {
			t.Errorf("FailurePolicy = %s, want per-attempt", cfg.CircuitBreaker.FailurePolicy)
		}
		if cfg.Cache.StaleThreshold != 30*time.Second {
			t.Errorf("Cache.StaleThreshold = %v, want 30s", cfg.Cache.StaleThreshold)
		}
		// Sections absent from the file keep their defaults.
		if cfg.Token.RenewBuffer != 5*time.Minute {
			t.Errorf("Token.RenewBuffer = %v, want 5m", cfg.Token.RenewBuffer)
		}
	})

	t.Run("returns error for invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")

		if err := os.WriteFile(configPath, []byte("not valid json"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := Load(configPath); err == nil {
			t.Error("Load() error = nil, want error")
		}
	})

	t.Run("returns error for invalid config values", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid-values.json")

		if err := os.WriteFile(configPath, []byte(`{"circuitBreaker": {"enabled": true, "failurePolicy": "sometimes"}}`), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := Load(configPath)
		if err == nil {
			t.Fatal("Load() error = nil, want validation error")
		}
		if !strings.Contains(err.Error(), "failurePolicy") {
			t.Errorf("error = %v, want failurePolicy message", err)
		}
	})
}

func TestLoadWithEnv(t *testing.T) {
	t.Run("applies environment overrides", func(t *testing.T) {
		t.Setenv("FRESHLINE_CACHE_TTL", "60000")
		t.Setenv("FRESHLINE_CACHE_STALE_THRESHOLD", "30s")
		t.Setenv("FRESHLINE_CIRCUIT_BREAKER_FAILURE_POLICY", "Per-Attempt")
		t.Setenv("FRESHLINE_REDIS_ENABLED", "true")
		t.Setenv("FRESHLINE_REDIS_ADDRESS", "redis.env:6380")

		cfg, err := LoadWithEnv("")
		if err != nil {
			t.Fatalf("LoadWithEnv() error = %v", err)
		}

		if cfg.Cache.TTL != 60*time.Second {
			t.Errorf("Cache.TTL = %v, want 60s", cfg.Cache.TTL)
		}
		if cfg.Cache.StaleThreshold != 30*time.Second {
			t.Errorf("Cache.StaleThreshold = %v, want 30s", cfg.Cache.StaleThreshold)
		}
		if cfg.CircuitBreaker.FailurePolicy != FailurePolicyPerAttempt {
			t.Errorf("FailurePolicy = %s, want per-attempt", cfg.CircuitBreaker.FailurePolicy)
		}
		if !cfg.Redis.Enabled || cfg.Redis.Address != "redis.env:6380" {
			t.Errorf("Redis = %+v, want enabled at redis.env:6380", cfg.Redis)
		}
	})

	t.Run("env overrides JSON file values", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(configPath, []byte(`{"client": {"baseURL": "https://json.example.com", "timeout": 1000000000}}`), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		t.Setenv("FRESHLINE_CLIENT_BASE_URL", "https://env.example.com")

		cfg, err := LoadWithEnv(configPath)
		if err != nil {
			t.Fatalf("LoadWithEnv() error = %v", err)
		}
		if cfg.Client.BaseURL != "https://env.example.com" {
			t.Errorf("Client.BaseURL = %s, want env value", cfg.Client.BaseURL)
		}
	})

	t.Run("invalid override fails validation", func(t *testing.T) {
		t.Setenv("FRESHLINE_CIRCUIT_BREAKER_FAILURE_THRESHOLD", "0")

		if _, err := LoadWithEnv(""); err == nil {
			t.Error("LoadWithEnv() error = nil, want error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"client.timeout must be positive", func(c *Config) { c.Client.Timeout = 0 }},
		{"retry.maxAttempts must be positive", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"retry.multiplier at least 1", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"failureThreshold must be positive", func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 }},
		{"resetTimeout must be positive", func(c *Config) { c.CircuitBreaker.ResetTimeout = 0 }},
		{"unknown failure policy", func(c *Config) { c.CircuitBreaker.FailurePolicy = "sometimes" }},
		{"negative renew buffer", func(c *Config) { c.Token.RenewBuffer = -time.Second }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"polling interval must be positive", func(c *Config) { c.Cache.PollingInterval = 0 }},
		{"shards must be power of 2", func(c *Config) { c.Memory.Shards = 100 }},
		{"max size must be positive", func(c *Config) { c.Memory.MaxSizeMB = 0 }},
		{"shard smaller than max entry", func(c *Config) { c.Memory.Shards = 256 }},
		{"redis address required", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"redis pool size", func(c *Config) { c.Redis.Enabled = true; c.Redis.PoolSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}

	t.Run("disabled components skip validation", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CircuitBreaker.Enabled = false
		cfg.CircuitBreaker.FailureThreshold = 0
		cfg.Retry.Enabled = false
		cfg.Retry.MaxAttempts = 0
		cfg.Redis.Enabled = false
		cfg.Redis.Address = ""

		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Client.Timeout = 0
		cfg.Cache.PollingInterval = 0

		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() error = nil, want error")
		}
		if !strings.Contains(err.Error(), "client.timeout") || !strings.Contains(err.Error(), "pollingInterval") {
			t.Errorf("error = %v, want both problems reported", err)
		}
	})
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"invalid", false},
		{"", false},
		{"  true  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseBool(tt.input); got != tt.expected {
				t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		input      string
		defaultVal int
		expected   int
	}{
		{"42", 0, 42},
		{"0", 10, 0},
		{"-5", 0, -5},
		{"invalid", 99, 99},
		{"", 99, 99},
		{"  100  ", 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseInt(tt.input, tt.defaultVal); got != tt.expected {
				t.Errorf("parseInt(%q, %d) = %d, want %d", tt.input, tt.defaultVal, got, tt.expected)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	defaultDur := 5 * time.Second

	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"100ms", 100 * time.Millisecond},
		{"60000", 60 * time.Second}, // plain number as milliseconds
		{"250", 250 * time.Millisecond},
		{"invalid", defaultDur},
		{"", defaultDur},
		{"  30s  ", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, defaultDur); got != tt.expected {
				t.Errorf("parseDuration(%q, %v) = %v, want %v", tt.input, defaultDur, got, tt.expected)
			}
		})
	}
}

func TestApplyEnvOverrides_DataDog(t *testing.T) {
	t.Setenv("DD_AGENT_HOST", "dd-agent")
	t.Setenv("DD_DOGSTATSD_PORT", "9125")
	t.Setenv("DD_SERVICE", "campaigns")
	t.Setenv("DD_ENV", "staging")
	t.Setenv("DD_VERSION", "1.2.3")
	t.Setenv("FRESHLINE_DATADOG_ENABLED", "false")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	dd := cfg.Metrics.DataDog
	if !dd.Enabled {
		t.Error("DataDog.Enabled = false, want true when DD_AGENT_HOST is set")
	}
	if dd.AgentHost != "dd-agent" || dd.Port != 9125 || dd.Prefix != "campaigns" {
		t.Errorf("DataDog = %+v", dd)
	}
	if len(dd.Tags) != 2 || dd.Tags[0] != "env:staging" || dd.Tags[1] != "version:1.2.3" {
		t.Errorf("DataDog.Tags = %v", dd.Tags)
	}
}

func TestRedisPasswordRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Password = NewSecretString("hunter2")

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("redis password leaked into JSON")
	}
	if cfg.Redis.Password.Value() != "hunter2" {
		t.Error("Value() should return the raw password")
	}
}

func TestKeyValidationToTypesConfig(t *testing.T) {
	cfg := KeyValidationConfig{MaxKeyLength: 10, AllowWhitespace: true, ReservedPatterns: []string{"::"}}
	got := cfg.ToTypesConfig()
	if got.MaxKeyLength != 10 || !got.AllowWhitespace || len(got.ReservedPatterns) != 1 {
		t.Errorf("ToTypesConfig() = %+v", got)
	}
}
