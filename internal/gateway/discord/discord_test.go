package discord

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/repostguard/repostguard/internal/coordinator"
)

func TestCompareSnowflakes(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"100", "200", -1},
		{"200", "100", 1},
		{"100", "100", 0},
		// A longer snowflake is always newer.
		{"999", "1000", -1},
		{"1000", "999", 1},
	}
	for _, tt := range tests {
		got := compareSnowflakes(tt.a, tt.b)
		if (got < 0) != (tt.want < 0) || (got > 0) != (tt.want > 0) {
			t.Errorf("compareSnowflakes(%q, %q) = %d, want sign of %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConvertMessage(t *testing.T) {
	posted := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "200",
		GuildID:   "1",
		ChannelID: "555",
		Author:    &discordgo.User{ID: "8", Bot: true},
		Timestamp: posted,
		Attachments: []*discordgo.MessageAttachment{
			{ID: "att-1", Filename: "cat.png", URL: "https://cdn.example/cat.png", ContentType: "image/png"},
		},
	}

	got := convertMessage(m)
	if got.ID != "200" || got.CommunityID != "1" || got.ChannelID != "555" {
		t.Errorf("identity fields wrong: %+v", got)
	}
	if got.AuthorID != "8" || !got.AuthorBot {
		t.Errorf("author fields wrong: %+v", got)
	}
	if !got.PostedAt.Equal(posted) {
		t.Errorf("PostedAt = %v", got.PostedAt)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Filename != "cat.png" {
		t.Errorf("attachments wrong: %+v", got.Attachments)
	}
	if got.JumpLink != "https://discord.com/channels/1/555/200" {
		t.Errorf("JumpLink = %q", got.JumpLink)
	}
}

func TestIsGone(t *testing.T) {
	if isGone(errors.New("plain error")) {
		t.Error("plain error treated as gone")
	}
	unknownMessage := &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage},
	}
	if !isGone(unknownMessage) {
		t.Error("unknown-message error not treated as gone")
	}
	unauthorized := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusUnauthorized},
	}
	if !isGone(unauthorized) {
		t.Error("401 not treated as gone")
	}
	rateLimited := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusTooManyRequests},
	}
	if isGone(rateLimited) {
		t.Error("429 treated as gone")
	}
}

func TestFormatProgress(t *testing.T) {
	got := formatProgress(coordinator.Progress{Kind: "scan", Processed: 300, Total: 1000})
	if !strings.Contains(got, "300/1000") {
		t.Errorf("progress = %q", got)
	}
	got = formatProgress(coordinator.Progress{Kind: "catchup", Processed: 42})
	if strings.Contains(got, "/") || !strings.Contains(got, "42") {
		t.Errorf("unbounded progress = %q", got)
	}
}

func TestFormatSummary(t *testing.T) {
	base := coordinator.Summary{
		Kind:     "scan",
		Started:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Finished: time.Date(2026, 5, 1, 10, 1, 30, 0, time.UTC),
		Counts:   map[string]int{"inserted": 10, "flagged": 2},
	}
	got := formatSummary(base)
	if !strings.Contains(got, "complete") || !strings.Contains(got, "1m30s") {
		t.Errorf("clean summary = %q", got)
	}
	if !strings.Contains(got, "flagged: 2") || !strings.Contains(got, "inserted: 10") {
		t.Errorf("counts missing from %q", got)
	}

	cancelled := base
	cancelled.Canceled = true
	if got := formatSummary(cancelled); !strings.Contains(got, "cancelled") {
		t.Errorf("cancelled summary = %q", got)
	}

	failed := base
	failed.Err = errors.New("history fetch failed")
	if got := formatSummary(failed); !strings.Contains(got, "failed") {
		t.Errorf("failed summary = %q", got)
	}
}
