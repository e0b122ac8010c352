package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PALATE_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PALATE_CONFIG is set
//  3. env (prefix PALATE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PALATE_QUEUE_SIZE -> queue_size; underscores are kept to match the koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.KVBackend != KVBackendRedis && c.KVBackend != KVBackendBadger:
		return fmt.Errorf("%w: kv_backend must be %q or %q, got %q", ErrInvalidConfig, KVBackendRedis, KVBackendBadger, c.KVBackend)
	case c.KVBackend == KVBackendRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr must not be empty", ErrInvalidConfig)
	case c.DiscoveryMode != DiscoverySQL && c.DiscoveryMode != DiscoveryIndex:
		return fmt.Errorf("%w: discovery_mode must be %q or %q, got %q", ErrInvalidConfig, DiscoverySQL, DiscoveryIndex, c.DiscoveryMode)
	case c.BatchHour < 0 || c.BatchHour > 23:
		return fmt.Errorf("%w: batch_hour out of range: %d", ErrInvalidConfig, c.BatchHour)
	case c.BatchMinute < 0 || c.BatchMinute > 59:
		return fmt.Errorf("%w: batch_minute out of range: %d", ErrInvalidConfig, c.BatchMinute)
	case c.LockTTLMinutes <= 0:
		return fmt.Errorf("%w: lock_ttl_minutes must be positive", ErrInvalidConfig)
	case c.RetryDelayMS < 0:
		return fmt.Errorf("%w: retry_delay_ms must not be negative", ErrInvalidConfig)
	case c.FriendsTTLMinutes <= 0 || c.ListTTLMinutes <= 0 || c.PairTTLMinutes <= 0:
		return fmt.Errorf("%w: cache TTLs must be positive", ErrInvalidConfig)
	case c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1:
		return fmt.Errorf("%w: breaker_failure_ratio must be in (0,1]", ErrInvalidConfig)
	}
	return nil
}
