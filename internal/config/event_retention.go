package config

import "fmt"

// EventRetentionConfig holds configuration for audit event retention and
// cleanup.
type EventRetentionConfig struct {
	// RetentionDays is how long moderation events are kept.
	// Default: 90, Range: 1-730
	RetentionDays int `yaml:"retention_days"`

	// CleanupIntervalHours is how often the cleanup loop runs.
	// Default: 24, Range: 1-168
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`

	// CleanupBatchSize is the number of events deleted per transaction.
	// Larger batches mean faster cleanup but longer locks.
	// Default: 1000, Range: 100-10000
	CleanupBatchSize int `yaml:"cleanup_batch_size"`

	// CleanupEnabled controls whether automatic cleanup runs.
	// Default: true
	CleanupEnabled bool `yaml:"cleanup_enabled"`
}

// DefaultEventRetentionConfig returns the default retention configuration.
func DefaultEventRetentionConfig() EventRetentionConfig {
	return EventRetentionConfig{
		RetentionDays:        90,
		CleanupIntervalHours: 24,
		CleanupBatchSize:     1000,
		CleanupEnabled:       true,
	}
}

// Validate checks if the configuration has valid values.
func (c EventRetentionConfig) Validate() error {
	if c.RetentionDays < 1 || c.RetentionDays > 730 {
		return fmt.Errorf("retention_days must be between 1 and 730 (got %d)", c.RetentionDays)
	}
	if c.CleanupIntervalHours < 1 || c.CleanupIntervalHours > 168 {
		return fmt.Errorf("cleanup_interval_hours must be between 1 and 168 (got %d)",
			c.CleanupIntervalHours)
	}
	if c.CleanupBatchSize < 100 || c.CleanupBatchSize > 10000 {
		return fmt.Errorf("cleanup_batch_size must be between 100 and 10000 (got %d)",
			c.CleanupBatchSize)
	}
	return nil
}

// applyEnv overrides retention values from the environment.
//
// Environment variables:
//   - REPOSTGUARD_EVENT_RETENTION_DAYS
//   - REPOSTGUARD_EVENT_CLEANUP_INTERVAL_HOURS
//   - REPOSTGUARD_EVENT_CLEANUP_BATCH_SIZE
//   - REPOSTGUARD_EVENT_CLEANUP_ENABLED
func (c *EventRetentionConfig) applyEnv() error {
	if err := parseEnvInt("REPOSTGUARD_EVENT_RETENTION_DAYS", &c.RetentionDays); err != nil {
		return err
	}
	if err := parseEnvInt("REPOSTGUARD_EVENT_CLEANUP_INTERVAL_HOURS", &c.CleanupIntervalHours); err != nil {
		return err
	}
	if err := parseEnvInt("REPOSTGUARD_EVENT_CLEANUP_BATCH_SIZE", &c.CleanupBatchSize); err != nil {
		return err
	}
	return parseEnvBool("REPOSTGUARD_EVENT_CLEANUP_ENABLED", &c.CleanupEnabled)
}
