// Package discord implements the gateway interfaces on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/repostguard/repostguard/internal/gateway"
)

// Bot owns the Discord session and translates platform events into
// gateway.EventHandler calls.
type Bot struct {
	session *discordgo.Session
	handler gateway.EventHandler
	selfID  string
}

// New creates a bot for the given token. The session is not opened yet;
// call Open after wiring the handler.
func New(token string, handler gateway.EventHandler) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Message content is a privileged intent: the bot reads attachments and
	// moderates messages, nothing else.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bot{session: session, handler: handler}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onMessageDelete)
	return b, nil
}

// Open connects to the Discord gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	return nil
}

// Close disconnects the session.
func (b *Bot) Close() error {
	return b.session.Close()
}

// Session exposes the underlying session for the action executor and
// history provider constructors.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.selfID = r.User.ID
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.selfID {
		return
	}
	b.handler.HandleMessage(context.Background(), convertMessage(m.Message))
}

func (b *Bot) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	b.handler.HandleMessageDelete(context.Background(), m.GuildID, m.ChannelID, m.ID)
}

func convertMessage(m *discordgo.Message) gateway.Message {
	msg := gateway.Message{
		ID:          m.ID,
		CommunityID: m.GuildID,
		ChannelID:   m.ChannelID,
		PostedAt:    m.Timestamp,
		JumpLink:    fmt.Sprintf("https://discord.com/channels/%s/%s/%s", m.GuildID, m.ChannelID, m.ID),
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorBot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, gateway.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
		})
	}
	return msg
}

// isGone reports whether an API error means the target message or channel
// no longer accepts the operation: deleted message, revoked access, or an
// expired token. Callers treat these as expiry, not faults.
func isGone(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return true
		}
	}
	return false
}

// compareSnowflakes orders two Discord snowflake IDs chronologically.
func compareSnowflakes(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
