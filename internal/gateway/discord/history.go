package discord

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/repostguard/repostguard/internal/gateway"
)

const (
	historyPageMax  = 100 // Discord's per-request ceiling
	historyAttempts = 3
	historyBackoff  = time.Second
)

// History implements gateway.HistoryProvider over a session.
type History struct {
	session *discordgo.Session
}

// NewHistory creates a history provider.
func NewHistory(session *discordgo.Session) *History {
	return &History{session: session}
}

// MessagesAfter fetches up to limit messages newer than afterID, oldest
// first. Transient API failures are retried with backoff; persistent ones
// surface to the caller.
func (h *History) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]gateway.Message, error) {
	if limit <= 0 || limit > historyPageMax {
		limit = historyPageMax
	}
	if afterID == "" {
		// The API treats an empty after as "newest page"; anchoring at the
		// zero snowflake starts from the beginning of the channel as the
		// interface promises.
		afterID = "0"
	}

	var page []*discordgo.Message
	var err error
	for attempt := 0; attempt < historyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(historyBackoff << (attempt - 1)):
			}
		}
		page, err = h.session.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
		if err == nil {
			break
		}
		if isGone(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for channel %s: %w", channelID, err)
	}

	out := make([]gateway.Message, 0, len(page))
	for _, m := range page {
		out = append(out, convertMessage(m))
	}
	// The API does not guarantee ordering across pagination modes; the
	// reconciler requires oldest-first.
	sort.Slice(out, func(i, j int) bool {
		return compareSnowflakes(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

// RecentMessages fetches the channel's newest messages, paging backwards
// until limit is reached, and returns them oldest first.
func (h *History) RecentMessages(ctx context.Context, channelID string, limit int) ([]gateway.Message, error) {
	var collected []gateway.Message
	beforeID := ""
	for len(collected) < limit {
		pageSize := limit - len(collected)
		if pageSize > historyPageMax {
			pageSize = historyPageMax
		}
		page, err := h.session.ChannelMessages(channelID, pageSize, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch recent messages for channel %s: %w", channelID, err)
		}
		if len(page) == 0 {
			break
		}
		oldest := page[0].ID
		for _, m := range page {
			if compareSnowflakes(m.ID, oldest) < 0 {
				oldest = m.ID
			}
			collected = append(collected, convertMessage(m))
		}
		beforeID = oldest
	}
	sort.Slice(collected, func(i, j int) bool {
		return compareSnowflakes(collected[i].ID, collected[j].ID) < 0
	})
	return collected, nil
}

// TextChannels lists the community's text channel IDs.
func (h *History) TextChannels(ctx context.Context, communityID string) ([]string, error) {
	channels, err := h.session.GuildChannels(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list channels for guild %s: %w", communityID, err)
	}
	var ids []string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews {
			ids = append(ids, ch.ID)
		}
	}
	return ids, nil
}
