package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/repostguard/repostguard/internal/coordinator"
)

// StatusSink reports job progress by editing a single status message in the
// channel where the job was requested. When the message can no longer be
// edited (deleted by a moderator, channel access revoked) Update returns
// coordinator.ErrSinkExpired so the coordinator builds a fresh sink.
type StatusSink struct {
	session   *discordgo.Session
	channelID string
	messageID string
}

// NewStatusSinkFactory returns a SinkFactory that posts a new status
// message in channelID each time a sink is needed.
func NewStatusSinkFactory(session *discordgo.Session, channelID string) coordinator.SinkFactory {
	return func(ctx context.Context) (coordinator.ReportSink, error) {
		msg, err := session.ChannelMessageSend(channelID, "Starting…", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to post status message: %w", err)
		}
		return &StatusSink{session: session, channelID: channelID, messageID: msg.ID}, nil
	}
}

// Update edits the status message with the latest progress.
func (s *StatusSink) Update(ctx context.Context, p coordinator.Progress) error {
	content := formatProgress(p)
	_, err := s.session.ChannelMessageEdit(s.channelID, s.messageID, content, discordgo.WithContext(ctx))
	if isGone(err) {
		return coordinator.ErrSinkExpired
	}
	return err
}

// Finalize edits the final summary into the status message.
func (s *StatusSink) Finalize(ctx context.Context, summary coordinator.Summary) error {
	content := formatSummary(summary)
	_, err := s.session.ChannelMessageEdit(s.channelID, s.messageID, content, discordgo.WithContext(ctx))
	if isGone(err) {
		return coordinator.ErrSinkExpired
	}
	return err
}

func formatProgress(p coordinator.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ %s in progress: %d", p.Kind, p.Processed)
	if p.Total > 0 {
		fmt.Fprintf(&b, "/%d", p.Total)
	}
	b.WriteString(" messages processed")
	if p.Note != "" {
		fmt.Fprintf(&b, " (%s)", p.Note)
	}
	return b.String()
}

func formatSummary(s coordinator.Summary) string {
	var b strings.Builder
	switch {
	case s.Err != nil:
		fmt.Fprintf(&b, "❌ %s failed: %v", s.Kind, s.Err)
	case s.Canceled:
		fmt.Fprintf(&b, "🛑 %s cancelled", s.Kind)
	default:
		fmt.Fprintf(&b, "✅ %s complete", s.Kind)
	}
	fmt.Fprintf(&b, " in %s", s.Finished.Sub(s.Started).Round(time.Second))

	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %d", k, s.Counts[k])
	}
	return b.String()
}
