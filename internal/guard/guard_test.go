package guard

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/repostguard/repostguard/internal/config"
	"github.com/repostguard/repostguard/internal/coordinator"
	"github.com/repostguard/repostguard/internal/events"
	"github.com/repostguard/repostguard/internal/gateway"
	"github.com/repostguard/repostguard/internal/hashstore"
	"github.com/repostguard/repostguard/internal/match"
	"github.com/repostguard/repostguard/internal/policy"
	"github.com/repostguard/repostguard/internal/storage"
	"github.com/repostguard/repostguard/internal/storage/sqlite"
)

// pngBytes renders a horizontal gradient; reverse flips it so the two
// images fingerprint maximally far apart.
func pngBytes(t *testing.T, reverse bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := x * 4
			if reverse {
				v = 255 - x*4
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

type fakeHistory struct {
	mu       sync.Mutex
	channels map[string][]gateway.Message
}

func (f *fakeHistory) MessagesAfter(_ context.Context, channelID, afterID string, limit int) ([]gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gateway.Message
	for _, m := range f.channels[channelID] {
		if afterID != "" && m.ID <= afterID {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeHistory) RecentMessages(_ context.Context, channelID string, limit int) ([]gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.channels[channelID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]gateway.Message(nil), msgs...), nil
}

func (f *fakeHistory) TextChannels(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type actionCall struct {
	kind      string
	channelID string
	messageID string
	detail    string
}

type fakeActions struct {
	mu    sync.Mutex
	calls []actionCall
}

func (f *fakeActions) record(kind, channelID, messageID, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, actionCall{kind, channelID, messageID, detail})
}

func (f *fakeActions) Reply(_ context.Context, channelID, messageID, content string) error {
	f.record("reply", channelID, messageID, content)
	return nil
}

func (f *fakeActions) React(_ context.Context, channelID, messageID, emoji string) error {
	f.record("react", channelID, messageID, emoji)
	return nil
}

func (f *fakeActions) Delete(_ context.Context, channelID, messageID string) error {
	f.record("delete", channelID, messageID, "")
	return nil
}

func (f *fakeActions) RemoveOwnReactions(_ context.Context, channelID, messageID, emoji string) error {
	f.record("unreact", channelID, messageID, emoji)
	return nil
}

func (f *fakeActions) Log(_ context.Context, channelID string, entry gateway.LogEntry) error {
	f.record("log", channelID, "", entry.Title)
	return nil
}

func (f *fakeActions) byKind(kind string) []actionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []actionCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeFetcher struct {
	files map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	return f.files[url], nil
}

type testEnv struct {
	guard    *Guard
	policies *policy.Store
	history  *fakeHistory
	actions  *fakeActions
	fetcher  *fakeFetcher
	audit    storage.Storage
}

func newTestEnv(t *testing.T, withAudit bool) *testEnv {
	return newTestEnvLimit(t, withAudit, 0)
}

func newTestEnvLimit(t *testing.T, withAudit bool, scanLimit int) *testEnv {
	t.Helper()
	dir := t.TempDir()

	policies, _, err := policy.NewStore(filepath.Join(dir, "policies.json"))
	if err != nil {
		t.Fatalf("policy store failed: %v", err)
	}

	var audit storage.Storage
	if withAudit {
		s, err := sqlite.New(":memory:")
		if err != nil {
			t.Fatalf("audit storage failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		audit = s
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.ActionDelay = 0
	cfg.ProgressInterval = 1
	if scanLimit > 0 {
		cfg.ScanLimit = scanLimit
	}

	env := &testEnv{
		policies: policies,
		history:  &fakeHistory{channels: make(map[string][]gateway.Message)},
		actions:  &fakeActions{},
		fetcher:  &fakeFetcher{files: make(map[string][]byte)},
		audit:    audit,
	}
	g, err := New(Deps{
		Config:   cfg,
		Policies: policies,
		Audit:    audit,
		History:  env.history,
		Actions:  env.actions,
		Fetcher:  env.fetcher,
	})
	if err != nil {
		t.Fatalf("guard construction failed: %v", err)
	}
	env.guard = g
	return env
}

func (e *testEnv) message(id, channelID, authorID, filename, url string, postedAt time.Time) gateway.Message {
	return gateway.Message{
		ID:          id,
		CommunityID: "guild-1",
		ChannelID:   channelID,
		AuthorID:    authorID,
		PostedAt:    postedAt,
		Attachments: []gateway.Attachment{
			{ID: id + "-att", Filename: filename, URL: url, ContentType: "image/png"},
		},
	}
}

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestHandleMessageRecordsOriginal(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)

	env.guard.HandleMessage(context.Background(), env.message("100", "555", "7", "cat.png", "u/cat", base))

	store, err := env.guard.hashStore("guild-1")
	if err != nil {
		t.Fatalf("hashStore failed: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d records, want 1", store.Len())
	}
	if len(env.actions.byKind("react")) != 0 || len(env.actions.byKind("reply")) != 0 {
		t.Error("original triggered actions")
	}
}

func TestHandleMessageFlagsDuplicate(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)

	ctx := context.Background()
	env.guard.HandleMessage(ctx, env.message("100", "555", "7", "cat.png", "u/cat", base))
	env.guard.HandleMessage(ctx, env.message("200", "555", "8", "cat-again.png", "u/cat", base.Add(time.Hour)))

	reacts := env.actions.byKind("react")
	if len(reacts) != 1 || reacts[0].messageID != "200" {
		t.Errorf("react calls = %+v, want one on the duplicate", reacts)
	}
	replies := env.actions.byKind("reply")
	if len(replies) != 1 {
		t.Fatalf("reply calls = %+v, want 1", replies)
	}
	if replies[0].detail == "" || replies[0].messageID != "200" {
		t.Errorf("reply = %+v", replies[0])
	}
	if len(env.actions.byKind("delete")) != 0 {
		t.Error("delete ran without delete_duplicates")
	}

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 1 {
		t.Errorf("duplicate was stored; store has %d records", store.Len())
	}
}

func TestHandleMessageDistinctImagesBothStored(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)
	env.fetcher.files["u/dog"] = pngBytes(t, true)

	ctx := context.Background()
	env.guard.HandleMessage(ctx, env.message("100", "555", "7", "cat.png", "u/cat", base))
	env.guard.HandleMessage(ctx, env.message("200", "555", "8", "dog.png", "u/dog", base.Add(time.Hour)))

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 2 {
		t.Errorf("store has %d records, want 2", store.Len())
	}
	if len(env.actions.byKind("react")) != 0 {
		t.Error("distinct image was flagged")
	}
}

func TestHandleMessageExemptAuthorNotActedOn(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)

	pol := policy.Default()
	pol.ExemptAuthors = []string{"8"}
	if err := env.policies.Set("guild-1", pol); err != nil {
		t.Fatalf("policy set failed: %v", err)
	}

	ctx := context.Background()
	env.guard.HandleMessage(ctx, env.message("100", "555", "7", "cat.png", "u/cat", base))
	env.guard.HandleMessage(ctx, env.message("200", "555", "8", "cat.png", "u/cat", base.Add(time.Hour)))

	if len(env.actions.calls) != 0 {
		t.Errorf("exempt poster drew actions: %+v", env.actions.calls)
	}
}

func TestHandleMessageSkipsBotsAndUnmonitoredChannels(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)

	pol := policy.Default()
	pol.MonitoredChannels = []string{"555"}
	if err := env.policies.Set("guild-1", pol); err != nil {
		t.Fatalf("policy set failed: %v", err)
	}

	ctx := context.Background()
	bot := env.message("100", "555", "7", "cat.png", "u/cat", base)
	bot.AuthorBot = true
	env.guard.HandleMessage(ctx, bot)
	env.guard.HandleMessage(ctx, env.message("200", "556", "7", "cat.png", "u/cat", base))

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 0 {
		t.Errorf("store has %d records, want 0", store.Len())
	}
}

func TestHandleMessageDeleteForgetsRecords(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)

	ctx := context.Background()
	env.guard.HandleMessage(ctx, env.message("100", "555", "7", "cat.png", "u/cat", base))
	env.guard.HandleMessageDelete(ctx, "guild-1", "555", "100")

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 0 {
		t.Errorf("store has %d records after delete, want 0", store.Len())
	}

	// The same image posted again is an original, not a duplicate.
	env.guard.HandleMessage(ctx, env.message("300", "555", "8", "cat.png", "u/cat", base.Add(time.Hour)))
	if len(env.actions.byKind("react")) != 0 {
		t.Error("repost after deletion was flagged")
	}
}

func waitForJobs(t *testing.T, g *Guard) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		g.Coordinator().Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("jobs never finished")
	}
}

func TestScanChannelFlagsHistory(t *testing.T) {
	env := newTestEnv(t, true)
	env.fetcher.files["u/cat"] = pngBytes(t, false)
	env.fetcher.files["u/dog"] = pngBytes(t, true)

	env.history.channels["555"] = []gateway.Message{
		env.message("100", "555", "7", "cat.png", "u/cat", base),
		env.message("200", "555", "8", "dog.png", "u/dog", base.Add(time.Hour)),
		env.message("300", "555", "9", "cat-repost.png", "u/cat", base.Add(2*time.Hour)),
	}

	ctx := context.Background()
	jobID, err := env.guard.ScanChannel(ctx, "guild-1", "555", "")
	if err != nil {
		t.Fatalf("ScanChannel failed: %v", err)
	}
	if jobID == "" {
		t.Fatal("empty job ID")
	}
	waitForJobs(t, env.guard)

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 2 {
		t.Errorf("store has %d records, want the two originals", store.Len())
	}
	reacts := env.actions.byKind("react")
	if len(reacts) != 1 || reacts[0].messageID != "300" {
		t.Errorf("react calls = %+v, want one on the repost", reacts)
	}

	summaries, err := env.audit.GetJobSummaries(ctx, "guild-1", 10)
	if err != nil {
		t.Fatalf("GetJobSummaries failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d job summaries, want 1", len(summaries))
	}
	s := summaries[0]
	if s.Kind != "scan" || s.Counts["inserted"] != 2 || s.Counts["flagged"] != 1 {
		t.Errorf("summary = kind %s counts %v", s.Kind, s.Counts)
	}
	if s.Counts["scanned"] != 3 {
		t.Errorf("scanned = %d, want 3", s.Counts["scanned"])
	}
}

func TestScanChannelIsIdempotent(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)
	env.history.channels["555"] = []gateway.Message{
		env.message("100", "555", "7", "cat.png", "u/cat", base),
		env.message("200", "555", "8", "cat-repost.png", "u/cat", base.Add(time.Hour)),
	}

	ctx := context.Background()
	if _, err := env.guard.ScanChannel(ctx, "guild-1", "555", ""); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	waitForJobs(t, env.guard)
	firstReacts := len(env.actions.byKind("react"))

	if _, err := env.guard.ScanChannel(ctx, "guild-1", "555", ""); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	waitForJobs(t, env.guard)

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 1 {
		t.Errorf("store grew on rescan: %d records", store.Len())
	}
	// The repost is flagged again on rescan, but nothing new is inserted.
	if got := len(env.actions.byKind("react")); got != firstReacts*2 {
		t.Errorf("react calls after rescan = %d, want %d", got, firstReacts*2)
	}
}

// The scan covers the channel's most recent messages up to the configured
// limit; older history is not fetched or recorded.
func TestScanHonorsMessageLimit(t *testing.T) {
	env := newTestEnvLimit(t, false, 2)
	env.fetcher.files["u/cat"] = pngBytes(t, false)
	env.fetcher.files["u/dog"] = pngBytes(t, true)
	env.history.channels["555"] = []gateway.Message{
		env.message("100", "555", "7", "cat.png", "u/cat", base),
		env.message("200", "555", "8", "dog.png", "u/dog", base.Add(time.Hour)),
		env.message("300", "555", "9", "cat-repost.png", "u/cat", base.Add(2*time.Hour)),
	}

	ctx := context.Background()
	if _, err := env.guard.ScanChannel(ctx, "guild-1", "555", ""); err != nil {
		t.Fatalf("ScanChannel failed: %v", err)
	}
	waitForJobs(t, env.guard)

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 2 {
		t.Errorf("store has %d records, want the two newest messages", store.Len())
	}
	if _, ok := store.Get(hashstore.ServerPartition, "100-cat.png"); ok {
		t.Error("message beyond the scan limit was recorded")
	}
	// The oldest cat image was out of reach, so the repost is an original.
	if got := len(env.actions.byKind("react")); got != 0 {
		t.Errorf("react calls = %d, want 0", got)
	}
}

func TestCatchUpRepairsWithoutActions(t *testing.T) {
	env := newTestEnv(t, true)
	env.fetcher.files["u/cat"] = pngBytes(t, false)
	env.history.channels["555"] = []gateway.Message{
		env.message("100", "555", "7", "cat.png", "u/cat", base),
		env.message("200", "555", "8", "cat-repost.png", "u/cat", base.Add(time.Hour)),
	}

	pol := policy.Default()
	pol.CatchUpOnStartup = true
	if err := env.policies.Set("guild-1", pol); err != nil {
		t.Fatalf("policy set failed: %v", err)
	}

	ctx := context.Background()
	if err := env.guard.CatchUpCommunity(ctx, "guild-1"); err != nil {
		t.Fatalf("catch-up failed: %v", err)
	}

	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 1 {
		t.Errorf("store has %d records, want 1", store.Len())
	}
	if len(env.actions.calls) != 0 {
		t.Errorf("catch-up applied actions: %+v", env.actions.calls)
	}

	marker, err := env.audit.GetLastSeen(ctx, "guild-1", "555")
	if err != nil {
		t.Fatalf("GetLastSeen failed: %v", err)
	}
	if marker != "200" {
		t.Errorf("marker = %q, want the newest message ID", marker)
	}

	// A second catch-up resumes from the marker and finds nothing new.
	if err := env.guard.CatchUpCommunity(ctx, "guild-1"); err != nil {
		t.Fatalf("second catch-up failed: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("store grew on repeat catch-up: %d records", store.Len())
	}
}

func TestClearFlagsRemovesRecordedReactions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	for _, id := range []string{"200", "300"} {
		e := events.ActionTaken(events.EventReactionAdded, "guild-1", "555", id)
		if err := env.audit.StoreEvent(ctx, e); err != nil {
			t.Fatalf("seed event failed: %v", err)
		}
	}

	if _, err := env.guard.ClearFlags(ctx, "guild-1", "555", ""); err != nil {
		t.Fatalf("ClearFlags failed: %v", err)
	}
	waitForJobs(t, env.guard)

	unreacts := env.actions.byKind("unreact")
	if len(unreacts) != 2 {
		t.Fatalf("unreact calls = %+v, want 2", unreacts)
	}

	summaries, err := env.audit.GetJobSummaries(ctx, "guild-1", 10)
	if err != nil {
		t.Fatalf("GetJobSummaries failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Counts["cleared"] != 2 {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestClearStoreWipesPartition(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.files["u/cat"] = pngBytes(t, false)
	env.fetcher.files["u/dog"] = pngBytes(t, true)

	pol := policy.Default()
	pol.Scope = policy.ScopeChannel
	if err := env.policies.Set("guild-1", pol); err != nil {
		t.Fatalf("policy set failed: %v", err)
	}

	ctx := context.Background()
	env.guard.HandleMessage(ctx, env.message("100", "555", "7", "cat.png", "u/cat", base))
	env.guard.HandleMessage(ctx, env.message("200", "556", "7", "dog.png", "u/dog", base))

	removed, err := env.guard.ClearStore(ctx, "guild-1", "555")
	if err != nil {
		t.Fatalf("ClearStore failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d records, want 1", removed)
	}
	store, _ := env.guard.hashStore("guild-1")
	if store.Len() != 1 {
		t.Errorf("store has %d records, want the other partition intact", store.Len())
	}
}

func TestScanRejectsBusyPartition(t *testing.T) {
	env := newTestEnv(t, false)

	// Hold the server partition with a job that blocks until released.
	release := make(chan struct{})
	key := coordinator.Key{Community: "guild-1", Partition: match.PartitionFor(policy.ScopeServer, "555")}
	if _, err := env.guard.coord.Start(context.Background(), key, "scan",
		env.guard.sinkFactory(""), func(_ context.Context, _ func(coordinator.Progress)) (map[string]int, error) {
			<-release
			return nil, nil
		}); err != nil {
		t.Fatalf("blocker start failed: %v", err)
	}

	_, err := env.guard.ScanChannel(context.Background(), "guild-1", "555", "")
	if !errors.Is(err, coordinator.ErrPartitionBusy) {
		t.Errorf("err = %v, want ErrPartitionBusy", err)
	}
	close(release)
	waitForJobs(t, env.guard)
}
