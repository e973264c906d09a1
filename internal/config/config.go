// Package config defines tracker configuration structures and loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load layers a YAML file and env vars on top.
// - Durations are configured in milliseconds and exposed through typed accessors.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// DefaultSQLiteFile is the database created next to the session file when
// the sqlite store has no DSN.
const DefaultSQLiteFile = "crewmap.db"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the local status HTTP listen address; empty disables it.
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`

	// SessionFile is where the local participant's session is kept.
	SessionFile string `koanf:"session_file" validate:"required"`

	// Timezone names the location used to compute day buckets; empty means Local.
	Timezone string `koanf:"timezone" validate:"omitempty,timezone"`

	// Position feed provider.
	FeedURL              string `koanf:"feed_url" validate:"required,url"`
	FeedEmail            string `koanf:"feed_email"`
	FeedPassword         string `koanf:"feed_password"`
	FeedTimeoutMS        int    `koanf:"feed_timeout_ms" validate:"gt=0"`
	FeedBackoffInitialMS int    `koanf:"feed_backoff_initial_ms" validate:"gt=0"`
	FeedBackoffMaxMS     int    `koanf:"feed_backoff_max_ms" validate:"gtefield=FeedBackoffInitialMS"`
	FeedMaxReconnects    int    `koanf:"feed_max_reconnects" validate:"gte=0"`

	// StoreDriver selects the directory and trail store backend. memory
	// does not outlive the process and only suits tests.
	StoreDriver string `koanf:"store_driver" validate:"oneof=memory postgres sqlite"`
	// StoreDSN is required for postgres; sqlite defaults to a file next to
	// SessionFile.
	StoreDSN string `koanf:"store_dsn" validate:"required_if=StoreDriver postgres"`

	// NotifyDriver selects how change notifications are delivered for SQL stores.
	NotifyDriver string `koanf:"notify_driver" validate:"oneof=none postgres nats"`
	NATSURL      string `koanf:"nats_url" validate:"required_if=NotifyDriver nats"`

	// EventQueueSize bounds the reconciler's event queue.
	EventQueueSize int `koanf:"event_queue_size" validate:"gt=0"`

	// PersistWorkers sets the number of trail persistence workers.
	PersistWorkers int `koanf:"persist_workers" validate:"gt=0"`

	// UnresolvedLimit caps the number of devices held without a known member.
	UnresolvedLimit int `koanf:"unresolved_limit" validate:"gt=0"`

	// DedupeSize caps the number of remembered trail point ids.
	DedupeSize int `koanf:"dedupe_size" validate:"gt=0"`

	// Trail fade weighting.
	TrailFadeMaxAgeMS int     `koanf:"trail_fade_max_age_ms" validate:"gt=0"`
	TrailMinOpacity   float64 `koanf:"trail_min_opacity" validate:"gte=0,lte=1"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 "127.0.0.1:9080",
		SessionFile:          "crewmap-session.yaml",
		FeedURL:              "http://localhost:8082",
		FeedTimeoutMS:        10_000,
		FeedBackoffInitialMS: 1_000,
		FeedBackoffMaxMS:     30_000,
		FeedMaxReconnects:    5,
		StoreDriver:          "sqlite",
		NotifyDriver:         "none",
		EventQueueSize:       1_024,
		PersistWorkers:       2,
		UnresolvedLimit:      256,
		DedupeSize:           50_000,
		TrailFadeMaxAgeMS:    int((24 * time.Hour).Milliseconds()),
		TrailMinOpacity:      0.1,
	}
}

// FeedTimeout is the per-request timeout for provider REST calls.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.FeedTimeoutMS) * time.Millisecond
}

// FeedBackoffInitial is the first reconnect delay.
func (c *Config) FeedBackoffInitial() time.Duration {
	return time.Duration(c.FeedBackoffInitialMS) * time.Millisecond
}

// FeedBackoffMax caps the reconnect delay.
func (c *Config) FeedBackoffMax() time.Duration {
	return time.Duration(c.FeedBackoffMaxMS) * time.Millisecond
}

// TrailFadeMaxAge is the age at which a trail point reaches minimum opacity.
func (c *Config) TrailFadeMaxAge() time.Duration {
	return time.Duration(c.TrailFadeMaxAgeMS) * time.Millisecond
}

// Persistent reports whether the store outlives the process.
func (c *Config) Persistent() bool {
	return c.StoreDriver != "memory"
}

// ResolvedStoreDSN returns StoreDSN, or for sqlite without one a database
// file in the session file's directory.
func (c *Config) ResolvedStoreDSN() string {
	if c.StoreDSN != "" || c.StoreDriver != "sqlite" {
		return c.StoreDSN
	}
	return "file:" + filepath.Join(filepath.Dir(c.SessionFile), DefaultSQLiteFile)
}

// Location resolves Timezone, defaulting to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}
