// Package config loads monitor settings from the state directory's
// config.json, with environment overrides for the state dir itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// EnvHome overrides the state directory location.
	EnvHome = "CLAWMON_HOME"

	defaultDirName  = ".clawmon"
	configFileName  = "config.json"
	historyFileName = "history.db"
	profileDirName  = "profile"
	logsDirName     = "logs"

	// DefaultRefreshInterval is used when no interval is configured.
	DefaultRefreshInterval = 5 * time.Minute
	minRefreshInterval     = 1 * time.Minute
	maxRefreshInterval     = 60 * time.Minute
)

// Config holds the monitor's user-tunable settings.
type Config struct {
	// RefreshMinutes is the usage refresh cadence, clamped to [1, 60].
	RefreshMinutes int `json:"refresh_minutes,omitempty"`

	// BrowserPath overrides browser executable discovery.
	BrowserPath string `json:"browser_path,omitempty"`

	// Headless runs the capture browser without a visible window.
	// Interactive login always forces a visible window.
	Headless bool `json:"headless,omitempty"`

	// DebugPort attaches to an already-running browser instance instead of
	// launching one. Zero means launch our own.
	DebugPort int `json:"debug_port,omitempty"`

	// StatusFeedURL overrides the public status feed endpoint.
	StatusFeedURL string `json:"status_feed_url,omitempty"`

	// HistoryRetentionDays bounds the snapshot database. Zero keeps the
	// default of 90 days.
	HistoryRetentionDays int `json:"history_retention_days,omitempty"`

	stateDir string
}

// StateDir resolves the state directory: $CLAWMON_HOME if set, else
// ~/.clawmon.
func StateDir() (string, error) {
	if env := os.Getenv(EnvHome); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultDirName), nil
}

// Load reads config.json from the state directory, creating the directory if
// needed. A missing config file yields defaults; a malformed one is an error
// so a typo never silently reverts settings.
func Load(stateDir string) (*Config, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	cfg := &Config{stateDir: stateDir}
	data, err := os.ReadFile(filepath.Join(stateDir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config back to the state directory.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(c.stateDir, configFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// RefreshInterval returns the configured cadence clamped to the supported
// range, or the default when unset.
func (c *Config) RefreshInterval() time.Duration {
	if c.RefreshMinutes == 0 {
		return DefaultRefreshInterval
	}
	d := time.Duration(c.RefreshMinutes) * time.Minute
	if d < minRefreshInterval {
		return minRefreshInterval
	}
	if d > maxRefreshInterval {
		return maxRefreshInterval
	}
	return d
}

// HistoryRetention returns the snapshot retention window.
func (c *Config) HistoryRetention() time.Duration {
	days := c.HistoryRetentionDays
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *Config) StateDir() string    { return c.stateDir }
func (c *Config) ProfileDir() string  { return filepath.Join(c.stateDir, profileDirName) }
func (c *Config) HistoryPath() string { return filepath.Join(c.stateDir, historyFileName) }
func (c *Config) LogsDir() string     { return filepath.Join(c.stateDir, logsDirName) }
