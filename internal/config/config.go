// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and PALATE_* env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"
)

// Supported KV backends.
const (
	KVBackendRedis  = "redis"
	KVBackendBadger = "badger"
)

// Supported pair discovery modes.
const (
	DiscoverySQL   = "sql"
	DiscoveryIndex = "index"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database holding taste_similarity and the journal tables.
	DBPath string `koanf:"db_path"`

	// KVBackend selects the cache/lock store: redis or badger.
	KVBackend     string `koanf:"kv_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	// BadgerPath is the badger directory; empty runs badger in memory.
	BadgerPath string `koanf:"badger_path"`

	// QueueSize bounds the incremental trigger queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of trigger workers.
	WorkerCount int `koanf:"worker_count"`
	// RetryDelayMS is the fixed delay before the single trigger retry.
	RetryDelayMS int `koanf:"retry_delay_ms"`

	// BatchHour and BatchMinute set the daily UTC batch time.
	BatchHour   int `koanf:"batch_hour"`
	BatchMinute int `koanf:"batch_minute"`
	// BatchOnStart runs one batch right after start-up.
	BatchOnStart bool `koanf:"batch_on_start"`
	// LockTTLMinutes is the batch lock expiry.
	LockTTLMinutes int `koanf:"lock_ttl_minutes"`
	// DiscoveryMode selects the bulk pair discovery strategy: sql or index.
	DiscoveryMode string `koanf:"discovery_mode"`

	// Cache TTLs.
	FriendsTTLMinutes int `koanf:"friends_ttl_minutes"`
	ListTTLMinutes    int `koanf:"list_ttl_minutes"`
	PairTTLMinutes    int `koanf:"pair_ttl_minutes"`

	// Item source circuit breaker.
	BreakerMinRequests    int     `koanf:"breaker_min_requests"`
	BreakerFailureRatio   float64 `koanf:"breaker_failure_ratio"`
	BreakerOpenTimeoutSec int     `koanf:"breaker_open_timeout_sec"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		DBPath:                "palate.db",
		KVBackend:             KVBackendRedis,
		RedisAddr:             "localhost:6379",
		RedisDB:               0,
		BadgerPath:            "",
		QueueSize:             10_000,
		WorkerCount:           runtime.NumCPU() * 2,
		RetryDelayMS:          5_000,
		BatchHour:             3,
		BatchMinute:           0,
		BatchOnStart:          false,
		LockTTLMinutes:        120,
		DiscoveryMode:         DiscoverySQL,
		FriendsTTLMinutes:     60,
		ListTTLMinutes:        24 * 60,
		PairTTLMinutes:        24 * 60,
		BreakerMinRequests:    10,
		BreakerFailureRatio:   0.6,
		BreakerOpenTimeoutSec: 30,
	}
}

// RetryDelay returns the trigger retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// LockTTL returns the batch lock expiry.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// FriendsTTL returns the friends list TTL.
func (c *Config) FriendsTTL() time.Duration {
	return time.Duration(c.FriendsTTLMinutes) * time.Minute
}

// ListTTL returns the high/moderate list TTL.
func (c *Config) ListTTL() time.Duration {
	return time.Duration(c.ListTTLMinutes) * time.Minute
}

// PairTTL returns the raw pair score TTL.
func (c *Config) PairTTL() time.Duration {
	return time.Duration(c.PairTTLMinutes) * time.Minute
}

// BreakerOpenTimeout returns how long the item source breaker stays open.
func (c *Config) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.BreakerOpenTimeoutSec) * time.Second
}
