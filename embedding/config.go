package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	defaultVersion        = 242
	defaultResolveTimeout = 5 * time.Second
	defaultIdleInterval   = 10 * time.Millisecond

	// MinSupportedVersion is the oldest host version the embedding layer
	// drives.
	MinSupportedVersion = 232
)

// Config holds initialization parameters for an embedded session.
type Config struct {
	// Version is the host application version to attach to.
	Version int `json:"version,omitempty"`
	// ReadOnly attaches without a modification license.
	ReadOnly bool `json:"read_only,omitempty"`
	// AllowMultiple lifts the one-session-per-process restriction. Intended
	// for scenarios that construct many short-lived sessions, such as
	// documentation builds.
	AllowMultiple bool `json:"allow_multiple,omitempty"`
	// Observer names an entry in the observability registry ("slog", "noop").
	Observer string `json:"observer,omitempty"`
	// ResolveTimeout bounds how long a handle resolution waits out an
	// in-progress graph rebuild before failing.
	ResolveTimeout time.Duration `json:"resolve_timeout,omitempty"`
	// IdleInterval is the mailbox drain interval during idle waits.
	IdleInterval time.Duration `json:"idle_interval,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version:        defaultVersion,
		Observer:       "slog",
		ResolveTimeout: defaultResolveTimeout,
		IdleInterval:   defaultIdleInterval,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Version > 0 {
		c.Version = source.Version
	}
	if source.ReadOnly {
		c.ReadOnly = true
	}
	if source.AllowMultiple {
		c.AllowMultiple = true
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.ResolveTimeout > 0 {
		c.ResolveTimeout = source.ResolveTimeout
	}
	if source.IdleInterval > 0 {
		c.IdleInterval = source.IdleInterval
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
