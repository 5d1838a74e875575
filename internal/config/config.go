// Package config builds the single immutable configuration value the
// rest of the engine is constructed from. There is no package-level
// mutable config: construct a new Config and rebuild the affected
// component to pick up a change.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFilename is the default on-disk config file name.
const ConfigFilename = "pulsecore.yaml"

// RepositoryBackend selects which Repository implementation backs the
// engine's durable storage.
type RepositoryBackend string

const (
	BackendPostgres RepositoryBackend = "postgres"
	BackendSQLite   RepositoryBackend = "sqlite"
)

// DedupCacheBackend selects the L1 dedup cache implementation.
type DedupCacheBackend string

const (
	DedupCacheMemory DedupCacheBackend = "memory"
	DedupCacheRedis  DedupCacheBackend = "redis"
)

// Config is the full configuration surface: bucketing/aggregation,
// baseline model, detector rules, deduplication, downtime watching,
// concurrency/admission control, and the wiring fields for the storage
// and transport backends. It is built once at startup and never
// mutated; construct a new Config and rebuild the affected components
// to pick up a change.
type Config struct {
	// Bucket / aggregation.
	BucketMs int64 `yaml:"bucket_ms"`

	// Baseline model.
	BaselineWindowBuckets int  `yaml:"baseline_window_buckets"`
	RocWindowBuckets      int  `yaml:"roc_window_buckets"`
	UseRobustMAD          bool `yaml:"use_robust_mad"`

	// Detector rules.
	ZThreshold          float64 `yaml:"z_threshold"`
	MinDataPoints       int     `yaml:"min_data_points"`
	RateChangeThreshold float64 `yaml:"rate_change_threshold"`
	MinRateForRoc       float64 `yaml:"min_rate_for_roc"`
	CooldownSeconds     int     `yaml:"cooldown_seconds"`
	AlertRetryAttempts  int     `yaml:"alert_retry_attempts"`

	// Static fallback rule, used when a baseline isn't established yet.
	ErrorCountThreshold float64 `yaml:"error_count_threshold"`
	LatencyThresholdMs  float64 `yaml:"latency_threshold_ms"`

	// Deduplication.
	DeduplicationWindowSec int `yaml:"deduplication_window_sec"`
	MaxClockSkewSec        int `yaml:"max_clock_skew_sec"`
	LockTimeoutMs          int `yaml:"lock_timeout_ms"`
	CacheSize              int `yaml:"cache_size"`
	CacheTTLMs             int `yaml:"cache_ttl_ms"`

	// Downtime watcher.
	ServiceDowntimeMinutes int `yaml:"service_downtime_minutes"`

	// Concurrency / admission control.
	NumShards     int `yaml:"num_shards"`
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// Storage and transport backend wiring.
	RepositoryBackend RepositoryBackend `yaml:"repository_backend"`
	PostgresDSN       string            `yaml:"postgres_dsn"`
	SQLitePath        string            `yaml:"sqlite_path"`
	DedupCacheBackend DedupCacheBackend `yaml:"dedup_cache_backend"`
	RedisAddr         string            `yaml:"redis_addr"`
	AdminHTTPAddr     string            `yaml:"admin_http_addr"`
	StreamGatewayAddr string            `yaml:"stream_gateway_addr"`
	LogLevel          string            `yaml:"log_level"`
}

// Default returns the configuration with every documented default value
// applied, plus sensible defaults for the wiring fields.
func Default() *Config {
	return &Config{
		BucketMs:               60_000,
		BaselineWindowBuckets:  60,
		RocWindowBuckets:       5,
		UseRobustMAD:           false,
		ZThreshold:             3.0,
		MinDataPoints:          30,
		RateChangeThreshold:    0.5,
		MinRateForRoc:          0.1,
		CooldownSeconds:        120,
		AlertRetryAttempts:     3,
		ErrorCountThreshold:    10,
		LatencyThresholdMs:     1000,
		DeduplicationWindowSec: 5,
		MaxClockSkewSec:        3,
		LockTimeoutMs:          1000,
		CacheSize:              1000,
		CacheTTLMs:             10_000,
		ServiceDowntimeMinutes: 5,
		NumShards:              16,
		MaxQueueDepth:          100_000,
		RepositoryBackend:      BackendSQLite,
		SQLitePath:             "pulsecore.db",
		DedupCacheBackend:      DedupCacheMemory,
		RedisAddr:              "127.0.0.1:6379",
		AdminHTTPAddr:          ":8090",
		StreamGatewayAddr:      ":8091",
		LogLevel:               "info",
	}
}

// BucketDuration is BucketMs as a time.Duration convenience.
func (c *Config) BucketDuration() time.Duration {
	return time.Duration(c.BucketMs) * time.Millisecond
}

// DeduplicationWindow, MaxClockSkew and LockTimeout mirror their
// millisecond/second config fields as time.Duration.
func (c *Config) DeduplicationWindow() time.Duration {
	return time.Duration(c.DeduplicationWindowSec) * time.Second
}

func (c *Config) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewSec) * time.Second
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

func (c *Config) ServiceDowntime() time.Duration {
	return time.Duration(c.ServiceDowntimeMinutes) * time.Minute
}

// L1CacheTTL is W + 2*maxClockSkew + 2s, the formula for the LRU entry
// TTL, used when CacheTTLMs is left at its zero value.
func (c *Config) L1CacheTTL() time.Duration {
	if c.CacheTTLMs > 0 {
		return c.CacheTTL()
	}
	return c.DeduplicationWindow() + 2*c.MaxClockSkew() + 2*time.Second
}

// Load reads a YAML config file at path, falling back to Default() for
// any field the file doesn't set by unmarshaling on top of the default
// value. A missing file is not an error; it just returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML with owner-only (0600) permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// DefaultPath returns the on-disk config path in the user's config
// directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ConfigFilename
	}
	return filepath.Join(dir, "pulsecore", ConfigFilename)
}
