// Package config loads the application configuration: a YAML file
// (repostguard.yaml by default) with environment variable overrides.
// Per-community moderation policy is not here; it lives in the policy
// store and is edited at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-level configuration.
type Config struct {
	// Token is the Discord bot token. Required to run the bot; the
	// offline commands (store, events) work without it.
	Token string `yaml:"token"`

	// DataDir is where per-community hash documents (hashes_<id>.json)
	// and the policy file live.
	// Default: "data"
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the SQLite audit database file.
	// Default: "<data_dir>/repostguard.db"
	DatabasePath string `yaml:"database_path"`

	// ScanLimit caps the number of messages one history scan processes.
	// Default: 1000, Range: 1-100000
	ScanLimit int `yaml:"scan_limit"`

	// ProgressInterval is the number of processed messages between status
	// message updates during a job.
	// Default: 100, Range: 1-10000
	ProgressInterval int `yaml:"progress_interval"`

	// ActionDelay spaces out moderation actions to stay under platform
	// rate limits. YAML values use Go duration syntax, e.g. "350ms".
	// Default: 350ms
	ActionDelay Duration `yaml:"action_delay"`

	// EventRetention configures the audit event cleanup loop.
	EventRetention EventRetentionConfig `yaml:"event_retention"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:          "data",
		ScanLimit:        1000,
		ProgressInterval: 100,
		ActionDelay:      Duration(350 * time.Millisecond),
		EventRetention:   DefaultEventRetentionConfig(),
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment are enough to run.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = cfg.DataDir + "/repostguard.db"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
//
// Environment variables:
//   - REPOSTGUARD_TOKEN: Discord bot token
//   - REPOSTGUARD_DATA_DIR: data directory
//   - REPOSTGUARD_DATABASE_PATH: audit database path
//   - REPOSTGUARD_SCAN_LIMIT: history scan message cap
//   - REPOSTGUARD_PROGRESS_INTERVAL: messages between status updates
//   - REPOSTGUARD_ACTION_DELAY: spacing between moderation actions (e.g. "350ms")
func (c *Config) applyEnv() error {
	if err := parseEnvString("REPOSTGUARD_TOKEN", &c.Token); err != nil {
		return err
	}
	if err := parseEnvString("REPOSTGUARD_DATA_DIR", &c.DataDir); err != nil {
		return err
	}
	if err := parseEnvString("REPOSTGUARD_DATABASE_PATH", &c.DatabasePath); err != nil {
		return err
	}
	if err := parseEnvInt("REPOSTGUARD_SCAN_LIMIT", &c.ScanLimit); err != nil {
		return err
	}
	if err := parseEnvInt("REPOSTGUARD_PROGRESS_INTERVAL", &c.ProgressInterval); err != nil {
		return err
	}
	if err := parseEnvDuration("REPOSTGUARD_ACTION_DELAY", (*time.Duration)(&c.ActionDelay)); err != nil {
		return err
	}
	return c.EventRetention.applyEnv()
}

// Validate checks if the configuration has valid values.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ScanLimit < 1 || c.ScanLimit > 100000 {
		return fmt.Errorf("scan_limit must be between 1 and 100000 (got %d)", c.ScanLimit)
	}
	if c.ProgressInterval < 1 || c.ProgressInterval > 10000 {
		return fmt.Errorf("progress_interval must be between 1 and 10000 (got %d)", c.ProgressInterval)
	}
	if c.ActionDelay < 0 || c.ActionDelay > Duration(time.Minute) {
		return fmt.Errorf("action_delay must be between 0 and 1m (got %v)", c.ActionDelay)
	}
	return c.EventRetention.Validate()
}

// parseEnvInt parses an int from an environment variable.
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable.
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable.
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}

// parseEnvDuration parses a duration from an environment variable.
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
