package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default policy failed validation: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
		wantOK bool
	}{
		{"default", func(p *Policy) {}, true},
		{"threshold upper bound", func(p *Policy) { p.SimilarityThreshold = MaxSimilarityThreshold }, true},
		{"threshold too high", func(p *Policy) { p.SimilarityThreshold = MaxSimilarityThreshold + 1 }, false},
		{"threshold negative", func(p *Policy) { p.SimilarityThreshold = -1 }, false},
		{"hash size too small", func(p *Policy) { p.HashSize = 2 }, false},
		{"hash size too large", func(p *Policy) { p.HashSize = 64 }, false},
		{"bad scope", func(p *Policy) { p.Scope = "galaxy" }, false},
		{"bad check mode", func(p *Policy) { p.CheckMode = "lenient" }, false},
		{"negative max age", func(p *Policy) { p.MaxAgeDays = -5 }, false},
		{"zero catchup limit", func(p *Policy) { p.CatchUpLimitPerChannel = 0 }, false},
		{"channel scope", func(p *Policy) { p.Scope = ScopeChannel }, true},
		{"owner allowed", func(p *Policy) { p.CheckMode = CheckModeOwnerAllowed }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestNormalizeCoercesBadValues(t *testing.T) {
	p := Policy{
		HashSize:            1,
		SimilarityThreshold: 100,
		Scope:               "galaxy",
		CheckMode:           "lenient",
		MaxAgeDays:          -1,
	}
	p.Normalize()

	if p.HashSize != DefaultHashSize {
		t.Errorf("HashSize = %d, want %d", p.HashSize, DefaultHashSize)
	}
	if p.SimilarityThreshold != MaxSimilarityThreshold {
		t.Errorf("SimilarityThreshold = %d, want %d", p.SimilarityThreshold, MaxSimilarityThreshold)
	}
	if p.Scope != ScopeServer {
		t.Errorf("Scope = %q, want %q", p.Scope, ScopeServer)
	}
	if p.CheckMode != CheckModeStrict {
		t.Errorf("CheckMode = %q, want %q", p.CheckMode, CheckModeStrict)
	}
	if p.MaxAgeDays != 0 {
		t.Errorf("MaxAgeDays = %d, want 0", p.MaxAgeDays)
	}
	if p.ReplyTemplate != DefaultReplyTemplate {
		t.Error("empty reply template not restored to default")
	}
}

func TestExemptAndMonitored(t *testing.T) {
	p := Default()
	p.ExemptAuthors = []string{"101", "102"}
	p.MonitoredChannels = []string{"555"}

	if !p.IsExempt("101") {
		t.Error("101 should be exempt")
	}
	if p.IsExempt("999") {
		t.Error("999 should not be exempt")
	}
	if !p.MonitorsChannel("555") {
		t.Error("channel 555 should be monitored")
	}
	if p.MonitorsChannel("556") {
		t.Error("channel 556 should not be monitored")
	}

	p.MonitoredChannels = nil
	if !p.MonitorsChannel("556") {
		t.Error("empty monitored list should monitor all channels")
	}
}

func TestRenderReply(t *testing.T) {
	ctx := ReplyContext{
		Mention:             "<@42>",
		Filename:            "cat.png",
		Identifier:          "123-cat.png",
		Distance:            3,
		OriginalUserMention: "<@7>",
		Emoji:               "⚠️",
		JumpLink:            "https://example.com/m/123",
	}

	got := RenderReply(DefaultReplyTemplate, ctx)
	for _, want := range []string{"<@42>", "cat.png", "123-cat.png", "Dist: 3", "Orig User: <@7>", "https://example.com/m/123"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered reply missing %q:\n%s", want, got)
		}
	}

	// Unknown original poster: info fragment collapses to nothing.
	ctx.OriginalUserMention = ""
	ctx.JumpLink = ""
	got = RenderReply(DefaultReplyTemplate, ctx)
	if strings.Contains(got, "Orig User") || strings.Contains(got, "Original:") {
		t.Errorf("rendered reply leaked unknown-original fragments:\n%s", got)
	}
}

func TestRenderReplyUnknownPlaceholder(t *testing.T) {
	got := RenderReply("before {no_such_thing} after", ReplyContext{})
	if got != "before  after" {
		t.Errorf("unknown placeholder rendering = %q", got)
	}

	// Unbalanced braces pass through rather than panicking.
	got = RenderReply("dangling {mention", ReplyContext{Mention: "<@1>"})
	if got != "dangling {mention" {
		t.Errorf("unbalanced template rendering = %q", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")

	s, warnings, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	p := s.Get("guild-1")
	if p.HashSize != DefaultHashSize {
		t.Errorf("first-contact policy HashSize = %d, want %d", p.HashSize, DefaultHashSize)
	}

	p.SimilarityThreshold = 9
	p.Scope = ScopeChannel
	if err := s.Set("guild-1", p); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, warnings, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings on reopen: %v", warnings)
	}
	got := reopened.Get("guild-1")
	if got.SimilarityThreshold != 9 || got.Scope != ScopeChannel {
		t.Errorf("reloaded policy = %+v", got)
	}
}

func TestStoreCorruptFileRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	s, warnings, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore on corrupt file failed: %v", err)
	}
	if len(warnings) == 0 {
		t.Error("expected a corruption warning")
	}
	if got := s.Get("guild-1"); got.HashSize != DefaultHashSize {
		t.Errorf("store not usable after corruption: %+v", got)
	}
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	s, _, err := NewStore(filepath.Join(t.TempDir(), "policies.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	err = s.Update("guild-1", func(p *Policy) error {
		p.SimilarityThreshold = 999
		return nil
	})
	if err == nil {
		t.Error("expected validation error from Update")
	}
	if got := s.Get("guild-1"); got.SimilarityThreshold == 999 {
		t.Error("invalid update was applied")
	}
}
