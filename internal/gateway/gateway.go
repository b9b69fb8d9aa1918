// Package gateway defines the platform-facing seams: message history,
// moderation actions, attachment fetching, and live event delivery. The
// guard core speaks only these interfaces; the discord subpackage provides
// the production implementation, and tests substitute in-memory fakes.
package gateway

import (
	"context"
	"time"
)

// Attachment is one file posted with a message. Only image attachments are
// fingerprinted; the guard decides by content type and filename.
type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ContentType string
}

// Message is a platform message reduced to what moderation needs.
type Message struct {
	ID          string
	CommunityID string
	ChannelID   string
	AuthorID    string
	AuthorBot   bool
	PostedAt    time.Time
	Attachments []Attachment
	JumpLink    string
}

// HistoryProvider pages a channel's message history.
type HistoryProvider interface {
	// MessagesAfter returns up to limit messages strictly newer than
	// afterID, oldest first. An empty afterID starts from the beginning of
	// the channel. An empty result means the channel is exhausted.
	MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]Message, error)

	// RecentMessages returns the channel's newest limit messages, oldest
	// first. Used by catch-up when no resume marker exists yet.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)

	// TextChannels lists the community's readable text channel IDs.
	TextChannels(ctx context.Context, communityID string) ([]string, error)
}

// LogEntry is a structured notice for the community's log channel.
type LogEntry struct {
	Title  string
	Body   string
	Fields map[string]string
	Level  string // "info", "warning", "error"
}

// ActionExecutor applies moderation actions. Implementations must be safe
// for concurrent use; pacing is the caller's job.
type ActionExecutor interface {
	Reply(ctx context.Context, channelID, messageID, content string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	Delete(ctx context.Context, channelID, messageID string) error
	RemoveOwnReactions(ctx context.Context, channelID, messageID, emoji string) error
	Log(ctx context.Context, channelID string, entry LogEntry) error
}

// Fetcher downloads attachment content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// EventHandler receives live platform events. Implementations must return
// quickly; long work belongs on the handler's own goroutines.
type EventHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandleMessageDelete(ctx context.Context, communityID, channelID, messageID string)
}
