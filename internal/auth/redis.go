package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/types"
)

const credentialKey = "credential"

// RedisStore persists the credential in Redis so a restarted process can
// resume the session.
type RedisStore struct {
	client *redis.Client
	config config.RedisConfig
	logger *slog.Logger

	mu            sync.RWMutex
	lastError     error
	lastErrorTime time.Time
}

// storedCredential is the wire form. Credential itself redacts its tokens
// when marshaled.
type storedCredential struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// NewRedisStore connects to Redis. An unreachable server is logged and
// surfaces as errors from Load and Save rather than failing construction.
func NewRedisStore(cfg config.RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("auth: redis address is required")
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password.Value(),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for local development
		}
		if cfg.TLSSkipVerify {
			logger.Warn("TLS certificate verification is disabled - this is insecure for production use")
		}
	}

	s := &RedisStore{
		client: redis.NewClient(opts),
		config: cfg,
		logger: logger.With("component", "redis-credential-store"),
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("Redis initial connection failed", "error", err)
		s.setError(err)
	} else {
		s.logger.Info("Redis connected", "address", cfg.Address)
	}

	return s, nil
}

func (s *RedisStore) key() string {
	return s.config.KeyPrefix + credentialKey
}

func (s *RedisStore) Load(ctx context.Context) (types.Credential, bool, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Credential{}, false, nil
		}
		s.setError(err)
		return types.Credential{}, false, fmt.Errorf("redis load credential: %w", err)
	}

	var stored storedCredential
	if err := json.Unmarshal(data, &stored); err != nil {
		return types.Credential{}, false, fmt.Errorf("decode stored credential: %w", err)
	}

	return types.NewCredential(stored.AccessToken, stored.RefreshToken, stored.ExpiresAt), true, nil
}

func (s *RedisStore) Save(ctx context.Context, cred types.Credential) error {
	data, err := json.Marshal(storedCredential{
		AccessToken:  cred.AccessToken.Value(),
		RefreshToken: cred.RefreshToken.Value(),
		ExpiresAt:    cred.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	if err := s.client.Set(ctx, s.key(), data, 0).Err(); err != nil {
		s.setError(err)
		return fmt.Errorf("redis save credential: %w", err)
	}
	s.logger.Debug("Credential stored", "expires_at", cred.ExpiresAt)
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		s.setError(err)
		return fmt.Errorf("redis clear credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) LastError() (error, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError, s.lastErrorTime
}

func (s *RedisStore) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
	s.lastErrorTime = time.Now()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ types.CredentialStore = (*RedisStore)(nil)
