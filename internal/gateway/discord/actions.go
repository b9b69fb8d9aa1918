package discord

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/repostguard/repostguard/internal/gateway"
)

// Actions implements gateway.ActionExecutor over a session.
type Actions struct {
	session *discordgo.Session
}

// NewActions creates an action executor.
func NewActions(session *discordgo.Session) *Actions {
	return &Actions{session: session}
}

// Reply posts content as a reply to the flagged message.
func (a *Actions) Reply(ctx context.Context, channelID, messageID, content string) error {
	_, err := a.session.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
		MessageID: messageID,
		ChannelID: channelID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reply to message %s: %w", messageID, err)
	}
	return nil
}

// React places the configured emoji on the flagged message.
func (a *Actions) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := a.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to react to message %s: %w", messageID, err)
	}
	return nil
}

// Delete removes the flagged message.
func (a *Actions) Delete(ctx context.Context, channelID, messageID string) error {
	if err := a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}

// RemoveOwnReactions clears the bot's own emoji from a message, used by the
// flag-clear job.
func (a *Actions) RemoveOwnReactions(ctx context.Context, channelID, messageID, emoji string) error {
	if err := a.session.MessageReactionRemove(channelID, messageID, emoji, "@me", discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to remove reaction from message %s: %w", messageID, err)
	}
	return nil
}

var levelColors = map[string]int{
	"info":    0x3498db,
	"warning": 0xf39c12,
	"error":   0xe74c3c,
}

// Log posts a structured embed to the community's log channel.
func (a *Actions) Log(ctx context.Context, channelID string, entry gateway.LogEntry) error {
	embed := &discordgo.MessageEmbed{
		Title:       entry.Title,
		Description: entry.Body,
		Color:       levelColors[entry.Level],
	}
	names := make([]string, 0, len(entry.Fields))
	for name := range entry.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: name, Value: entry.Fields[name], Inline: true,
		})
	}
	if _, err := a.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send log embed to channel %s: %w", channelID, err)
	}
	return nil
}
