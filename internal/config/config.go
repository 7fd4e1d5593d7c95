// Package config provides configuration management for freshline.
package config

import (
	"time"

	"github.com/LavishGent/freshline/internal/types"
)

// SecretString is a string type that redacts its value when marshaled to JSON.
type SecretString = types.SecretString

// NewSecretString creates a new SecretString with the provided value.
func NewSecretString(value string) SecretString {
	return types.NewSecretString(value)
}

// Failure policies for circuit breaker accounting.
const (
	// FailurePolicyPerRequest records one breaker failure per request whose
	// retries were exhausted.
	FailurePolicyPerRequest = "per-request"
	// FailurePolicyPerAttempt records one breaker failure per failed attempt.
	FailurePolicyPerAttempt = "per-attempt"
)

// Config contains all configuration for a freshline data layer.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type Config struct {
	Client         ClientConfig         `json:"client"`
	Retry          RetryConfig          `json:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`
	Token          TokenConfig          `json:"token"`
	Cache          CacheConfig          `json:"cache"`
	Memory         MemoryConfig         `json:"memory"`
	Redis          RedisConfig          `json:"redis"`
	Metrics        MetricsConfig        `json:"metrics"`
	KeyValidation  KeyValidationConfig  `json:"keyValidation"`
}

// ClientConfig contains configuration for the resilient client.
//
//nolint:govet // Small config struct - minimal alignment benefit
type ClientConfig struct {
	// BaseURL is the backend root used by the net/http transport.
	BaseURL string `json:"baseURL"`
	// Timeout bounds a single transport call.
	Timeout time.Duration `json:"timeout"`
	// MaxConcurrent bounds in-flight transport calls. Zero disables the limit.
	MaxConcurrent int    `json:"maxConcurrent"`
	UserAgent     string `json:"userAgent"`
}

// RetryConfig contains configuration for the retry pattern.
type RetryConfig struct {
	InitialBackoff time.Duration `json:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff"`
	Multiplier     float64       `json:"multiplier"`
	MaxAttempts    int           `json:"maxAttempts"`
	Enabled        bool          `json:"enabled"`
	Jitter         bool          `json:"jitter"`
}

// CircuitBreakerConfig contains configuration for the circuit breaker pattern.
//
//nolint:govet // Small config struct - minimal alignment benefit
type CircuitBreakerConfig struct {
	Enabled             bool          `json:"enabled"`
	FailureThreshold    int           `json:"failureThreshold"`
	SuccessThreshold    int           `json:"successThreshold"`
	ResetTimeout        time.Duration `json:"resetTimeout"`
	HalfOpenMaxRequests int           `json:"halfOpenMaxRequests"`
	FailurePolicy       string        `json:"failurePolicy"`
}

// TokenConfig contains configuration for credential renewal.
type TokenConfig struct {
	// RenewBuffer is how long before expiry a credential is renewed.
	RenewBuffer time.Duration `json:"renewBuffer"`
	// ExchangeTimeout bounds a single refresh token exchange.
	ExchangeTimeout time.Duration `json:"exchangeTimeout"`
}

// CacheConfig contains default freshness settings for the polling cache.
type CacheConfig struct {
	TTL             time.Duration `json:"ttl"`
	StaleThreshold  time.Duration `json:"staleThreshold"`
	PollingInterval time.Duration `json:"pollingInterval"`
	MaxPollBackoff  time.Duration `json:"maxPollBackoff"`
	// MaxAge evicts entries older than this. Zero keeps entries forever.
	MaxAge time.Duration `json:"maxAge"`
}

// MemoryConfig contains configuration for the bigcache-backed entry store.
type MemoryConfig struct {
	CleanupInterval time.Duration `json:"cleanupInterval"`
	MaxSizeMB       int           `json:"maxSizeMB"`
	Shards          int           `json:"shards"`
	MaxEntrySize    int           `json:"maxEntrySize"`
}

// RedisConfig contains configuration for the Redis credential store.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type RedisConfig struct {
	DialTimeout   time.Duration `json:"dialTimeout"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	Password      SecretString  `json:"password"`
	Address       string        `json:"address"`
	KeyPrefix     string        `json:"keyPrefix"`
	DB            int           `json:"db"`
	PoolSize      int           `json:"poolSize"`
	Enabled       bool          `json:"enabled"`
	EnableTLS     bool          `json:"enableTLS"`
	TLSSkipVerify bool          `json:"tlsSkipVerify"`
}

// MetricsConfig contains configuration for metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type MetricsConfig struct {
	PublishInterval time.Duration    `json:"publishInterval"`
	DataDog         DataDogConfig    `json:"datadog"`
	Prometheus      PrometheusConfig `json:"prometheus"`
	Enabled         bool             `json:"enabled"`
}

// DataDogConfig contains configuration for DataDog metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DataDogConfig struct {
	Tags      []string `json:"tags"`
	AgentHost string   `json:"agentHost"`
	Prefix    string   `json:"prefix"`
	Port      int      `json:"port"`
	Enabled   bool     `json:"enabled"`
}

// PrometheusConfig contains configuration for the Prometheus recorder.
type PrometheusConfig struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// KeyValidationConfig contains configuration for cache key validation.
type KeyValidationConfig struct {
	ReservedPatterns []string `json:"reservedPatterns"`
	MaxKeyLength     int      `json:"maxKeyLength"`
	Enabled          bool     `json:"enabled"`
	AllowWhitespace  bool     `json:"allowWhitespace"`
}

// ToTypesConfig converts this config to a types.KeyValidationConfig.
func (c KeyValidationConfig) ToTypesConfig() types.KeyValidationConfig {
	return types.KeyValidationConfig{
		MaxKeyLength:     c.MaxKeyLength,
		AllowWhitespace:  c.AllowWhitespace,
		ReservedPatterns: c.ReservedPatterns,
	}
}
