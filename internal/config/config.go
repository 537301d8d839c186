// Package config defines service configuration and its loading from
// defaults, an optional YAML file and BACKR_* environment variables.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the document store: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`

	// StoreDSN is the SQL data source. Required for sqlite and postgres.
	StoreDSN string `koanf:"store_dsn"`

	// StorePollIntervalMS is how often SQL stores look for writes made by
	// other processes.
	StorePollIntervalMS int `koanf:"store_poll_interval_ms"`

	// SnapshotPath enables periodic snapshots of the memory store.
	SnapshotPath       string `koanf:"snapshot_path"`
	SnapshotIntervalMS int    `koanf:"snapshot_interval_ms"`

	WorkerCount int `koanf:"worker_count"`
	QueueSize   int `koanf:"queue_size"`

	// DedupeSize bounds the remembered toggle idempotency keys.
	DedupeSize int `koanf:"dedupe_size"`

	// IdentityCacheSize bounds the display name cache.
	IdentityCacheSize   int `koanf:"identity_cache_size"`
	DirectoryCacheTTLMS int `koanf:"directory_cache_ttl_ms"`

	DebounceMS         int `koanf:"debounce_ms"`
	ReconnectBackoffMS int `koanf:"reconnect_backoff_ms"`
	MaxSearchResults   int `koanf:"max_search_results"`

	// DisplayNames seeds the static directory: user id -> display name.
	DisplayNames map[string]string `koanf:"display_names"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		StoreDriver:         DriverMemory,
		StorePollIntervalMS: 500,
		SnapshotIntervalMS:  30_000,
		WorkerCount:         runtime.NumCPU(),
		QueueSize:           1024,
		DedupeSize:          50_000,
		IdentityCacheSize:   10_000,
		DirectoryCacheTTLMS: 300_000,
		DebounceMS:          25,
		ReconnectBackoffMS:  500,
		MaxSearchResults:    50,
		DisplayNames:        map[string]string{},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite && c.StoreDriver != DriverPostgres:
		return fmt.Errorf("%w: store_driver must be memory, sqlite or postgres, got %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver != DriverMemory && c.StoreDSN == "":
		return fmt.Errorf("%w: store_dsn is required for %s", ErrInvalidConfig, c.StoreDriver)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be at least 1", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be at least 1", ErrInvalidConfig)
	case c.DebounceMS < 0:
		return fmt.Errorf("%w: debounce_ms must not be negative", ErrInvalidConfig)
	case c.ReconnectBackoffMS < 1:
		return fmt.Errorf("%w: reconnect_backoff_ms must be positive", ErrInvalidConfig)
	}
	return nil
}

// Debounce returns DebounceMS as a duration.
func (c *Config) Debounce() time.Duration { return ms(c.DebounceMS) }

// ReconnectBackoff returns ReconnectBackoffMS as a duration.
func (c *Config) ReconnectBackoff() time.Duration { return ms(c.ReconnectBackoffMS) }

// SnapshotInterval returns SnapshotIntervalMS as a duration.
func (c *Config) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMS) }

// StorePollInterval returns StorePollIntervalMS as a duration.
func (c *Config) StorePollInterval() time.Duration { return ms(c.StorePollIntervalMS) }

// DirectoryCacheTTL returns DirectoryCacheTTLMS as a duration.
func (c *Config) DirectoryCacheTTL() time.Duration { return ms(c.DirectoryCacheTTLMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
