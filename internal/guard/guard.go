// Package guard wires the moderation core together: per-community hash
// stores, the match engine on the live message path, the reconciler behind
// scans and catch-up, and the audit trail. It owns no platform code; the
// gateway interfaces keep Discord at arm's length.
package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/repostguard/repostguard/internal/config"
	"github.com/repostguard/repostguard/internal/coordinator"
	"github.com/repostguard/repostguard/internal/events"
	"github.com/repostguard/repostguard/internal/gateway"
	"github.com/repostguard/repostguard/internal/hash"
	"github.com/repostguard/repostguard/internal/hashstore"
	"github.com/repostguard/repostguard/internal/match"
	"github.com/repostguard/repostguard/internal/policy"
	"github.com/repostguard/repostguard/internal/storage"
)

// SinkFactoryFunc builds a report sink factory for the channel a job was
// requested from. A nil function (or empty channel) falls back to a no-op
// sink, which is what headless catch-up uses.
type SinkFactoryFunc func(requestChannelID string) coordinator.SinkFactory

// Deps are the collaborators the guard needs. Audit may be nil in tests;
// events are then dropped.
type Deps struct {
	Config   config.Config
	Policies *policy.Store
	Audit    storage.Storage
	History  gateway.HistoryProvider
	Actions  gateway.ActionExecutor
	Fetcher  gateway.Fetcher
	Sinks    SinkFactoryFunc
}

// Guard is the moderation core for all communities the bot serves.
type Guard struct {
	cfg      config.Config
	policies *policy.Store
	audit    storage.Storage
	history  gateway.HistoryProvider
	actions  gateway.ActionExecutor
	fetcher  gateway.Fetcher
	sinks    SinkFactoryFunc
	coord    *coordinator.Coordinator

	mu     sync.Mutex
	stores map[string]*hashstore.Store
}

// New creates the guard.
func New(deps Deps) (*Guard, error) {
	coordCfg := coordinator.Config{
		ProgressInterval: deps.Config.ProgressInterval,
		ActionDelay:      time.Duration(deps.Config.ActionDelay),
	}
	if err := coordCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator configuration: %w", err)
	}
	return &Guard{
		cfg:      deps.Config,
		policies: deps.Policies,
		audit:    deps.Audit,
		history:  deps.History,
		actions:  deps.Actions,
		fetcher:  deps.Fetcher,
		sinks:    deps.Sinks,
		coord:    coordinator.New(coordCfg),
		stores:   make(map[string]*hashstore.Store),
	}, nil
}

// Coordinator exposes the job coordinator for status and cancel commands.
func (g *Guard) Coordinator() *coordinator.Coordinator {
	return g.coord
}

// Shutdown waits for running jobs after they have been cancelled.
func (g *Guard) Shutdown() {
	for _, key := range g.coord.Running() {
		g.coord.Cancel(key)
	}
	g.coord.Wait()
}

// hashStore returns the community's hash store, opening its document on
// first contact. A corrupt document degrades to an empty store with a
// warning, never a refusal to serve the community.
func (g *Guard) hashStore(communityID string) (*hashstore.Store, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.stores[communityID]; ok {
		return s, nil
	}

	path := filepath.Join(g.cfg.DataDir, "hashes_"+communityID+".json")
	s, warnings, err := hashstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash store for community %s: %w", communityID, err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	g.stores[communityID] = s
	return s, nil
}

// saveStore persists the community's hash document. Failures are warned,
// not fatal: the in-memory store stays authoritative for the session.
func (g *Guard) saveStore(communityID string, s *hashstore.Store) {
	if err := s.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save hash store for community %s: %v\n", communityID, err)
	}
}

// recordEvent writes an audit event, best effort.
func (g *Guard) recordEvent(ctx context.Context, e *events.Event) {
	if g.audit == nil {
		return
	}
	if err := g.audit.StoreEvent(ctx, e); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record %s event: %v\n", e.Type, err)
	}
}

// HandleMessage is the live pipeline: fingerprint each image attachment,
// check it against the store, record originals, and act on duplicates. One
// unreadable or failing attachment never blocks the others.
func (g *Guard) HandleMessage(ctx context.Context, msg gateway.Message) {
	if msg.AuthorBot {
		return
	}
	pol := g.policies.Get(msg.CommunityID)
	if !pol.MonitorsChannel(msg.ChannelID) || len(msg.Attachments) == 0 {
		return
	}

	store, err := g.hashStore(msg.CommunityID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	engine := match.NewEngine(store)
	partition := match.PartitionFor(pol.Scope, msg.ChannelID)
	lock := g.coord.PartitionLock(coordinator.Key{Community: msg.CommunityID, Partition: partition})
	now := time.Now().UTC()

	dirty := false
	for _, att := range msg.Attachments {
		if !isImage(att) {
			continue
		}
		fp, err := g.fingerprint(ctx, att, pol.HashSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping attachment %s on message %s: %v\n", att.Filename, msg.ID, err)
			continue
		}
		obs := observationFrom(msg, att, fp)

		// Check-then-insert must be atomic against concurrent jobs on the
		// same partition.
		lock.Lock()
		res := engine.Check(obs, pol, now)
		if res.Verdict == match.NoMatch {
			store.Upsert(partition, hashstore.Record{
				SourceID:    obs.SourceID,
				Fingerprint: obs.Fingerprint,
				ChannelID:   obs.ChannelID,
				AuthorID:    obs.AuthorID,
				PostedAt:    obs.PostedAt,
			})
			dirty = true
		}
		lock.Unlock()

		if res.Verdict == match.Duplicate {
			g.handleDuplicate(ctx, pol, msg, att, res)
		}
	}
	if dirty {
		g.saveStore(msg.CommunityID, store)
	}
}

// handleDuplicate records the detection and applies the community's
// configured actions unless the poster is exempt.
func (g *Guard) handleDuplicate(ctx context.Context, pol policy.Policy, msg gateway.Message, att gateway.Attachment, res match.Result) {
	g.recordEvent(ctx, events.DuplicateFlagged(
		msg.CommunityID, msg.ChannelID, msg.ID, msg.AuthorID, res.Original.SourceID, res.Distance))
	if res.Exempt {
		return
	}

	if pol.ReactToDuplicates {
		g.runAction(ctx, msg, "react", events.EventReactionAdded, func() error {
			return g.actions.React(ctx, msg.ChannelID, msg.ID, pol.ReactionEmoji)
		})
	}
	if pol.ReplyToDuplicates {
		content := policy.RenderReply(pol.ReplyTemplate, replyContext(pol, msg, att, res))
		g.runAction(ctx, msg, "reply", events.EventReplySent, func() error {
			return g.actions.Reply(ctx, msg.ChannelID, msg.ID, content)
		})
	}
	if pol.DeleteDuplicates {
		g.runAction(ctx, msg, "delete", events.EventMessageDeleted, func() error {
			return g.actions.Delete(ctx, msg.ChannelID, msg.ID)
		})
	}
	if pol.LogChannelID != "" {
		entry := gateway.LogEntry{
			Title: "Duplicate image detected",
			Body:  fmt.Sprintf("`%s` matched `%s`", att.Filename, res.Original.SourceID),
			Level: "warning",
			Fields: map[string]string{
				"Poster":   "<@" + msg.AuthorID + ">",
				"Distance": fmt.Sprintf("%d", res.Distance),
				"Channel":  "<#" + msg.ChannelID + ">",
			},
		}
		if err := g.actions.Log(ctx, pol.LogChannelID, entry); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to post to log channel %s: %v\n", pol.LogChannelID, err)
		}
	}
}

// runAction paces and executes one moderation action, recording the outcome.
func (g *Guard) runAction(ctx context.Context, msg gateway.Message, name string, success events.EventType, fn func() error) {
	if err := g.coord.PaceAction(ctx); err != nil {
		return
	}
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s on message %s failed: %v\n", name, msg.ID, err)
		g.recordEvent(ctx, events.ActionFailed(msg.CommunityID, msg.ChannelID, msg.ID, name, err))
		return
	}
	g.recordEvent(ctx, events.ActionTaken(success, msg.CommunityID, msg.ChannelID, msg.ID))
}

// HandleMessageDelete forgets every record the deleted message produced, in
// all partitions, so a moderator-deleted original stops matching.
func (g *Guard) HandleMessageDelete(ctx context.Context, communityID, channelID, messageID string) {
	store, err := g.hashStore(communityID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	if n := store.RemoveMessage(messageID); n > 0 {
		g.saveStore(communityID, store)
	}
}

// ClearStore wipes a community's records: one partition when channelID is
// given under channel scope, or everything.
func (g *Guard) ClearStore(ctx context.Context, communityID, partition string) (int, error) {
	store, err := g.hashStore(communityID)
	if err != nil {
		return 0, err
	}
	var removed int
	if partition == "" {
		removed = store.Clear()
	} else {
		removed = store.ClearPartition(partition)
	}
	g.saveStore(communityID, store)
	g.recordEvent(ctx, events.StoreCleared(communityID, partition, removed))
	return removed, nil
}

// fingerprint downloads and hashes one attachment.
func (g *Guard) fingerprint(ctx context.Context, att gateway.Attachment, hashSize int) (hash.Fingerprint, error) {
	data, err := g.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return hash.Fingerprint{}, err
	}
	return hash.DHashBytes(data, hashSize)
}

func observationFrom(msg gateway.Message, att gateway.Attachment, fp hash.Fingerprint) match.Observation {
	return match.Observation{
		Fingerprint: fp,
		SourceID:    msg.ID + "-" + att.Filename,
		AuthorID:    msg.AuthorID,
		ChannelID:   msg.ChannelID,
		PostedAt:    msg.PostedAt,
	}
}

func replyContext(pol policy.Policy, msg gateway.Message, att gateway.Attachment, res match.Result) policy.ReplyContext {
	ctx := policy.ReplyContext{
		Mention:    "<@" + msg.AuthorID + ">",
		Filename:   att.Filename,
		Identifier: res.Original.SourceID,
		Distance:   res.Distance,
		Emoji:      pol.ReactionEmoji,
	}
	if res.Original.AuthorID != "" {
		ctx.OriginalUserMention = "<@" + res.Original.AuthorID + ">"
	}
	if res.Original.ChannelID != "" {
		ctx.JumpLink = fmt.Sprintf("https://discord.com/channels/%s/%s/%s",
			msg.CommunityID, res.Original.ChannelID, res.Original.MessageID())
	}
	return ctx
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// isImage decides whether an attachment is worth fingerprinting: the
// platform's content type when present, the filename extension otherwise.
func isImage(att gateway.Attachment) bool {
	if att.ContentType != "" {
		return strings.HasPrefix(att.ContentType, "image/")
	}
	return imageExtensions[strings.ToLower(filepath.Ext(att.Filename))]
}
