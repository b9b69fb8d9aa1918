// Package events defines the structured audit events the guard emits:
// duplicates flagged, actions taken, jobs run, policy changes. Events are
// persisted by the storage layer and surfaced by the events CLI command
// and the per-community log channel.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	// EventDuplicateFlagged records a duplicate detection, whether or not
	// an action followed.
	EventDuplicateFlagged EventType = "duplicate_flagged"
	// EventReplySent records a reply posted under a flagged message.
	EventReplySent EventType = "reply_sent"
	// EventReactionAdded records a reaction placed on a flagged message.
	EventReactionAdded EventType = "reaction_added"
	// EventMessageDeleted records a flagged message deletion.
	EventMessageDeleted EventType = "message_deleted"
	// EventActionFailed records a flag action the platform rejected.
	EventActionFailed EventType = "action_failed"
	// EventRecordSuperseded records an older sighting replacing a stored
	// record during a scan or catch-up.
	EventRecordSuperseded EventType = "record_superseded"
	// EventJobStarted and EventJobFinished bracket scans, catch-ups, and
	// flag-clear jobs.
	EventJobStarted  EventType = "job_started"
	EventJobFinished EventType = "job_finished"
	// EventPolicyUpdated records a community policy change.
	EventPolicyUpdated EventType = "policy_updated"
	// EventStoreCleared records a manual store or partition wipe.
	EventStoreCleared EventType = "store_cleared"
)

// Severity indicates how loudly an event should surface.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one audit record. CommunityID is always set; ChannelID,
// MessageID, and AuthorID are set when the event concerns a specific
// message. Data carries type-specific detail (distance, original source,
// job counts) without widening the schema.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	CommunityID string                 `json:"community_id"`
	ChannelID   string                 `json:"channel_id,omitempty"`
	MessageID   string                 `json:"message_id,omitempty"`
	AuthorID    string                 `json:"author_id,omitempty"`
	Severity    Severity               `json:"severity"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// New creates an event with a fresh ID and the current time.
func New(eventType EventType, communityID string, severity Severity, message string) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		CommunityID: communityID,
		Severity:    severity,
		Message:     message,
		Data:        make(map[string]interface{}),
	}
}

// Filter selects events for queries. Zero values match everything.
type Filter struct {
	CommunityID string
	ChannelID   string
	Type        EventType
	Severity    Severity
	AfterTime   time.Time
	BeforeTime  time.Time
	Limit       int
}
