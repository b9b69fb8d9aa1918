// Package storage defines the persistent audit backend: moderation events,
// job summaries, and durable markers such as per-channel catch-up positions.
// The hash stores themselves live in their own JSON documents; this database
// holds everything the guard needs to answer "what happened and when".
package storage

import (
	"context"

	"github.com/repostguard/repostguard/internal/events"
	"github.com/repostguard/repostguard/internal/storage/sqlite"
)

// Storage is the interface for audit storage backends.
type Storage interface {
	// Moderation events - the audit trail of detections and actions.
	StoreEvent(ctx context.Context, event *events.Event) error
	GetEvents(ctx context.Context, filter events.Filter) ([]*events.Event, error)
	GetRecentEvents(ctx context.Context, limit int) ([]*events.Event, error)

	// Event cleanup - retention policy enforcement.
	CleanupEventsByAge(ctx context.Context, retentionDays, batchSize int) (int, error)
	GetEventCounts(ctx context.Context) (*sqlite.EventCounts, error)

	// Job summaries - one row per finished scan/catch-up/clear job.
	RecordJobSummary(ctx context.Context, summary *sqlite.JobSummary) error
	GetJobSummaries(ctx context.Context, communityID string, limit int) ([]*sqlite.JobSummary, error)

	// Catch-up markers - the newest message ID already reconciled per
	// channel, so a restart resumes where the last session stopped.
	GetLastSeen(ctx context.Context, communityID, channelID string) (string, error)
	SetLastSeen(ctx context.Context, communityID, channelID, messageID string) error

	// Config - small key/value settings that must survive restarts.
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration.
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path: "repostguard.db",
	}
}

// NewStorage creates a new SQLite storage backend.
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	return sqlite.New(cfg.Path)
}
