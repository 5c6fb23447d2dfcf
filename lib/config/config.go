// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/mx/lib/cache"
	"github.com/bureau-foundation/mx/lib/ref"
)

// Config is the configuration shared by the mx command line tools.
type Config struct {
	// HomeserverURL is the base URL of the homeserver, including the
	// scheme. Required.
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the fully qualified user the tools act as
	// (@localpart:domain). Required for login; a saved session file
	// carries its own user and wins over this field.
	UserID string `yaml:"user_id"`

	// SessionFile is where the login session (token, device, sync
	// position, filter memo) is persisted between runs.
	// Default: ${HOME}/.cache/mx/session
	SessionFile string `yaml:"session_file"`

	// CacheLevel selects how much room state the client keeps cached:
	// none, some, or all. Default: some
	CacheLevel string `yaml:"cache_level"`

	// FilterPreset is the path to a filter definition file (JSON with
	// comments) uploaded to the server and applied to sync requests.
	// Empty means sync unfiltered.
	FilterPreset string `yaml:"filter_preset"`

	// Sync tunes the background sync loop.
	Sync SyncConfig `yaml:"sync"`
}

// SyncConfig tunes the sync loop. All durations are Go duration
// strings ("30s", "1m30s"); empty fields take the listed defaults.
type SyncConfig struct {
	// Timeout is how long the server may hold a sync request open
	// waiting for activity before returning an empty response.
	// Default: 30s
	Timeout string `yaml:"timeout"`

	// PollDelay is an extra pause between poll rounds. Default: none.
	PollDelay string `yaml:"poll_delay"`

	// BackoffSeed is the first retry delay after a server error.
	// Delays double from here on consecutive failures. Default: 5s
	BackoffSeed string `yaml:"backoff_seed"`

	// BackoffCeiling caps the doubling retry delay. Default: 1h
	BackoffCeiling string `yaml:"backoff_ceiling"`
}

// SyncDurations holds the parsed form of [SyncConfig].
type SyncDurations struct {
	Timeout        time.Duration
	PollDelay      time.Duration
	BackoffSeed    time.Duration
	BackoffCeiling time.Duration
}

// Durations parses the sync tuning fields, applying defaults for any
// left empty.
func (s SyncConfig) Durations() (SyncDurations, error) {
	parsed := SyncDurations{
		Timeout:        30 * time.Second,
		BackoffSeed:    5 * time.Second,
		BackoffCeiling: time.Hour,
	}
	fields := []struct {
		name  string
		raw   string
		value *time.Duration
	}{
		{"sync.timeout", s.Timeout, &parsed.Timeout},
		{"sync.poll_delay", s.PollDelay, &parsed.PollDelay},
		{"sync.backoff_seed", s.BackoffSeed, &parsed.BackoffSeed},
		{"sync.backoff_ceiling", s.BackoffCeiling, &parsed.BackoffCeiling},
	}
	for _, field := range fields {
		if field.raw == "" {
			continue
		}
		duration, err := time.ParseDuration(field.raw)
		if err != nil {
			return SyncDurations{}, fmt.Errorf("parsing %s: %w", field.name, err)
		}
		if duration < 0 {
			return SyncDurations{}, fmt.Errorf("%s must not be negative, got %s", field.name, duration)
		}
		*field.value = duration
	}
	return parsed, nil
}

// Default returns the default configuration. These defaults are a base
// for the config file to override; HomeserverURL has no default and
// must come from the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		SessionFile: filepath.Join(homeDir, ".cache", "mx", "session"),
		CacheLevel:  "some",
		Sync: SyncConfig{
			Timeout:        "30s",
			BackoffSeed:    "5s",
			BackoffCeiling: "1h",
		},
	}
}

// Load loads configuration from the MX_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or discovery: if MX_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("MX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MX_CONFIG environment variable not set; " +
			"set it to the path of your mx.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.SessionFile = expandVars(c.SessionFile, vars)
	c.FilterPreset = expandVars(c.FilterPreset, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("homeserver_url is required"))
	} else if parsed, err := url.Parse(c.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid homeserver_url: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("homeserver_url must use http or https, got %q", c.HomeserverURL))
	}

	if c.UserID != "" {
		if _, err := ref.ParseUserID(c.UserID); err != nil {
			errs = append(errs, fmt.Errorf("invalid user_id: %w", err))
		}
	}

	if c.SessionFile == "" {
		errs = append(errs, fmt.Errorf("session_file is required"))
	}

	if _, err := cache.ParseLevel(c.CacheLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid cache_level: %w", err))
	}

	if _, err := c.Sync.Durations(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Level returns the parsed cache level. Call Validate first; an
// unparseable level falls back to the default here.
func (c *Config) Level() cache.Level {
	level, err := cache.ParseLevel(c.CacheLevel)
	if err != nil {
		return cache.Some
	}
	return level
}

// EnsureSessionDir creates the directory holding the session file.
// The directory is private to the user: the session file holds an
// access token.
func (c *Config) EnsureSessionDir() error {
	dir := filepath.Dir(c.SessionFile)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
