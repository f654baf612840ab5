// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and BASELINE_* environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Server names accepted by the Server field.
const (
	ServerDefault = "default"
	ServerStaging = "staging"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogJSON switches log output to JSON.
	LogJSON bool `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StudyID identifies the study this process serves.
	StudyID string `koanf:"study_id"`

	// ResourceDir is the study resource bundle holding metrics.json and tests.toml.
	ResourceDir string `koanf:"resource_dir"`

	// DataDir holds the results database and the per-study lock file.
	DataDir string `koanf:"data_dir"`

	// Server selects the remote endpoints: default or staging.
	Server string `koanf:"server"`

	// ServerURL overrides the endpoint chosen by Server when non-empty.
	ServerURL string `koanf:"server_url"`

	// MinSampleSize is the smallest reference population that may produce a
	// percentile. Zero defers to the value in metrics.json.
	MinSampleSize int `koanf:"min_sample_size"`

	// QueueSize bounds the in-memory sync job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of sync workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the delivered-update cache of the notifier.
	DedupeSize int `koanf:"dedupe_size"`

	// SyncIntervalMS is how often remote updates are polled.
	SyncIntervalMS int `koanf:"sync_interval_ms"`

	// SweepIntervalMS is how often unsynced results are re-enqueued.
	SweepIntervalMS int `koanf:"sweep_interval_ms"`

	// CORSOrigins lists origins allowed to call the HTTP API.
	CORSOrigins []string `koanf:"cors_origins"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":9080",
		StudyID:         "baseline-dev",
		ResourceDir:     "./resources",
		DataDir:         "./data",
		Server:          ServerDefault,
		MinSampleSize:   0,
		QueueSize:       10_000,
		WorkerCount:     runtime.NumCPU(),
		DedupeSize:      50_000,
		SyncIntervalMS:  30_000,
		SweepIntervalMS: 60_000,
		CORSOrigins:     []string{"*"},
	}
}

// SyncInterval returns SyncIntervalMS as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMS) * time.Millisecond
}

// SweepInterval returns SweepIntervalMS as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// Validate checks the fields that cannot be defaulted at use sites.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.StudyID) == "":
		return fmt.Errorf("%w: study_id must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.ResourceDir) == "":
		return fmt.Errorf("%w: resource_dir must not be empty", ErrInvalidConfig)
	case c.MinSampleSize < 0:
		return fmt.Errorf("%w: min_sample_size must not be negative", ErrInvalidConfig)
	}
	switch c.Server {
	case ServerDefault, ServerStaging:
	default:
		return fmt.Errorf("%w: unknown server %q", ErrInvalidConfig, c.Server)
	}
	return nil
}
