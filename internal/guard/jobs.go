package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/repostguard/repostguard/internal/coordinator"
	"github.com/repostguard/repostguard/internal/events"
	"github.com/repostguard/repostguard/internal/gateway"
	"github.com/repostguard/repostguard/internal/match"
	"github.com/repostguard/repostguard/internal/policy"
	"github.com/repostguard/repostguard/internal/reconcile"
	"github.com/repostguard/repostguard/internal/storage/sqlite"
)

// catchUpConcurrency bounds how many channels a startup catch-up walks at
// once.
const catchUpConcurrency = 4

// noopSink discards progress; headless jobs use it.
type noopSink struct{}

func (noopSink) Update(context.Context, coordinator.Progress) error  { return nil }
func (noopSink) Finalize(context.Context, coordinator.Summary) error { return nil }

// sinkFactory resolves the report sink for a job requested from the given
// channel, falling back to a no-op sink when there is no status surface.
func (g *Guard) sinkFactory(requestChannelID string) coordinator.SinkFactory {
	if g.sinks == nil || requestChannelID == "" {
		return func(context.Context) (coordinator.ReportSink, error) { return noopSink{}, nil }
	}
	return g.sinks(requestChannelID)
}

// auditedSink tees the final summary into the audit database before
// forwarding it to the wrapped sink. The once guard keeps a sink
// replacement from persisting the summary twice.
type auditedSink struct {
	g     *Guard
	inner coordinator.ReportSink
	once  *sync.Once
}

func (a *auditedSink) Update(ctx context.Context, p coordinator.Progress) error {
	if a.inner == nil {
		return nil
	}
	return a.inner.Update(ctx, p)
}

func (a *auditedSink) Finalize(ctx context.Context, s coordinator.Summary) error {
	a.once.Do(func() { a.g.persistSummary(ctx, s) })
	if a.inner == nil {
		return nil
	}
	return a.inner.Finalize(ctx, s)
}

// auditingFactory wraps a sink factory so every job's summary lands in the
// audit database even when the status surface has expired.
func (g *Guard) auditingFactory(inner coordinator.SinkFactory) coordinator.SinkFactory {
	var once sync.Once
	return func(ctx context.Context) (coordinator.ReportSink, error) {
		sink, err := inner(ctx)
		if err != nil {
			// No status surface; the audit record still matters.
			fmt.Fprintf(os.Stderr, "Warning: failed to create status sink: %v\n", err)
			return &auditedSink{g: g, once: &once}, nil
		}
		return &auditedSink{g: g, inner: sink, once: &once}, nil
	}
}

func (g *Guard) persistSummary(ctx context.Context, s coordinator.Summary) {
	errText := ""
	if s.Err != nil {
		errText = s.Err.Error()
	}
	if g.audit != nil {
		err := g.audit.RecordJobSummary(ctx, &sqlite.JobSummary{
			JobID:       s.JobID,
			Kind:        s.Kind,
			CommunityID: s.Community,
			Partition:   s.Partition,
			StartedAt:   s.Started,
			FinishedAt:  s.Finished,
			Counts:      s.Counts,
			Canceled:    s.Canceled,
			Error:       errText,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to persist job summary %s: %v\n", s.JobID, err)
		}
	}
	g.recordEvent(ctx, events.JobFinished(s.Community, s.Partition, s.JobID, s.Kind, s.Counts, s.Canceled, s.Err))
}

// ScanChannel launches a history scan of one channel: the channel's most
// recent messages up to the configured limit, reconciled oldest-first, with
// flag actions applied to duplicates. Returns the job ID; ErrPartitionBusy
// when a job already runs on the channel's partition.
func (g *Guard) ScanChannel(ctx context.Context, communityID, channelID, requestChannelID string) (string, error) {
	pol := g.policies.Get(communityID)
	store, err := g.hashStore(communityID)
	if err != nil {
		return "", err
	}
	partition := match.PartitionFor(pol.Scope, channelID)
	key := coordinator.Key{Community: communityID, Partition: partition}
	rec := reconcile.New(store)
	limit := g.cfg.ScanLimit

	factory := g.auditingFactory(g.sinkFactory(requestChannelID))
	jobID, err := g.coord.Start(ctx, key, "scan", factory, func(jobCtx context.Context, report func(coordinator.Progress)) (map[string]int, error) {
		counts := make(map[string]int)
		lock := g.coord.PartitionLock(key)

		// The most recent limit messages, reconciled oldest-first.
		page, err := g.history.RecentMessages(jobCtx, channelID, limit)
		if err != nil {
			return counts, err
		}
		for i, m := range page {
			report(coordinator.Progress{Processed: i + 1, Total: len(page)})
			if err := g.reconcileMessage(jobCtx, rec, lock, pol, m, counts, true); err != nil {
				g.saveStore(communityID, store)
				return counts, err
			}
		}
		counts["scanned"] = len(page)
		g.saveStore(communityID, store)
		return counts, nil
	})
	if err != nil {
		return "", err
	}
	g.recordEvent(ctx, events.JobStarted(communityID, partition, jobID, "scan"))
	return jobID, nil
}

// CancelJob cancels whatever job runs on the channel's partition.
func (g *Guard) CancelJob(communityID, channelID string) bool {
	pol := g.policies.Get(communityID)
	partition := match.PartitionFor(pol.Scope, channelID)
	return g.coord.Cancel(coordinator.Key{Community: communityID, Partition: partition})
}

// reconcileMessage feeds one message's image attachments to the reconciler.
// applyActions distinguishes a history scan (acts on flagged items) from
// catch-up (store repair only).
func (g *Guard) reconcileMessage(ctx context.Context, rec *reconcile.Reconciler, lock *sync.Mutex, pol policy.Policy, m gateway.Message, counts map[string]int, applyActions bool) error {
	if m.AuthorBot {
		return ctx.Err()
	}
	for _, att := range m.Attachments {
		if !isImage(att) {
			continue
		}
		fp, err := g.fingerprint(ctx, att, pol.HashSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			counts["unreadable"]++
			continue
		}
		obs := observationFrom(m, att, fp)

		lock.Lock()
		c := rec.Apply(obs, pol, time.Now().UTC())
		lock.Unlock()
		counts[c.Outcome.String()]++

		switch {
		case c.Outcome == reconcile.Superseded:
			g.recordEvent(ctx, events.RecordSuperseded(m.CommunityID, m.ChannelID, c.Original.SourceID, obs.SourceID))
		case c.Outcome == reconcile.Flagged && applyActions:
			g.handleDuplicate(ctx, pol, m, att, match.Result{
				Verdict:  match.Duplicate,
				Original: c.Original,
				Distance: c.Distance,
				Exempt:   c.Exempt,
			})
		}
	}
	return ctx.Err()
}

// CatchUpAll runs the startup catch-up for every community that opted in.
func (g *Guard) CatchUpAll(ctx context.Context) {
	for _, communityID := range g.policies.Communities() {
		pol := g.policies.Get(communityID)
		if !pol.CatchUpOnStartup {
			continue
		}
		if err := g.CatchUpCommunity(ctx, communityID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: catch-up for community %s failed: %v\n", communityID, err)
		}
	}
}

// CatchUpCommunity reconciles messages missed while the bot was offline.
// It repairs the store only: no replies, reactions, or deletions, because
// acting on old messages long after the fact helps no one. Channels are
// walked concurrently, resuming from each channel's last-seen marker.
func (g *Guard) CatchUpCommunity(ctx context.Context, communityID string) error {
	pol := g.policies.Get(communityID)
	store, err := g.hashStore(communityID)
	if err != nil {
		return err
	}
	rec := reconcile.New(store)

	channels := pol.MonitoredChannels
	if len(channels) == 0 {
		channels, err = g.history.TextChannels(ctx, communityID)
		if err != nil {
			return fmt.Errorf("failed to list channels for catch-up: %w", err)
		}
	}

	started := time.Now().UTC()
	var mu sync.Mutex
	totals := make(map[string]int)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(catchUpConcurrency)
	for _, channelID := range channels {
		channelID := channelID
		eg.Go(func() error {
			counts, err := g.catchUpChannel(egCtx, communityID, pol, rec, channelID)
			mu.Lock()
			for k, v := range counts {
				totals[k] += v
			}
			mu.Unlock()
			return err
		})
	}
	err = eg.Wait()
	g.saveStore(communityID, store)

	summary := coordinator.Summary{
		JobID:     uuid.NewString(),
		Kind:      "catchup",
		Community: communityID,
		Started:   started,
		Finished:  time.Now().UTC(),
		Counts:    totals,
		Canceled:  errors.Is(err, context.Canceled),
		Err:       err,
	}
	if summary.Canceled {
		summary.Err = nil
	}
	g.persistSummary(ctx, summary)
	return err
}

func (g *Guard) catchUpChannel(ctx context.Context, communityID string, pol policy.Policy, rec *reconcile.Reconciler, channelID string) (map[string]int, error) {
	counts := make(map[string]int)
	limit := pol.CatchUpLimitPerChannel

	marker := ""
	if g.audit != nil {
		var err error
		marker, err = g.audit.GetLastSeen(ctx, communityID, channelID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to read catch-up marker for channel %s: %v\n", channelID, err)
		}
	}

	partition := match.PartitionFor(pol.Scope, channelID)
	lock := g.coord.PartitionLock(coordinator.Key{Community: communityID, Partition: partition})

	lastSeen := ""
	processed := 0
	for processed < limit {
		var page []gateway.Message
		var err error
		if marker == "" {
			// First contact with this channel: look at its most recent
			// messages only.
			page, err = g.history.RecentMessages(ctx, channelID, limit)
		} else {
			page, err = g.history.MessagesAfter(ctx, channelID, marker, limit-processed)
		}
		if err != nil {
			return counts, err
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			marker = m.ID
			lastSeen = m.ID
			if processed >= limit {
				break
			}
			processed++
			if err := g.reconcileMessage(ctx, rec, lock, pol, m, counts, false); err != nil {
				return counts, err
			}
		}
		if marker == "" {
			break
		}
	}
	counts["caught_up"] = processed

	if lastSeen != "" && g.audit != nil {
		if err := g.audit.SetLastSeen(ctx, communityID, channelID, lastSeen); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to advance catch-up marker for channel %s: %v\n", channelID, err)
		}
	}
	return counts, nil
}

// ClearFlags launches a job that removes the bot's reactions from every
// message it previously flagged in the channel, using the audit trail to
// find them.
func (g *Guard) ClearFlags(ctx context.Context, communityID, channelID, requestChannelID string) (string, error) {
	if g.audit == nil {
		return "", fmt.Errorf("flag clearing requires the audit database")
	}
	pol := g.policies.Get(communityID)
	partition := match.PartitionFor(pol.Scope, channelID)
	key := coordinator.Key{Community: communityID, Partition: partition}

	factory := g.auditingFactory(g.sinkFactory(requestChannelID))
	jobID, err := g.coord.Start(ctx, key, "flag-clear", factory, func(jobCtx context.Context, report func(coordinator.Progress)) (map[string]int, error) {
		counts := make(map[string]int)
		flagged, err := g.audit.GetEvents(jobCtx, events.Filter{
			CommunityID: communityID,
			ChannelID:   channelID,
			Type:        events.EventReactionAdded,
		})
		if err != nil {
			return counts, err
		}
		for i, e := range flagged {
			report(coordinator.Progress{Processed: i + 1, Total: len(flagged)})
			if err := g.coord.PaceAction(jobCtx); err != nil {
				return counts, err
			}
			if err := g.actions.RemoveOwnReactions(jobCtx, e.ChannelID, e.MessageID, pol.ReactionEmoji); err != nil {
				counts["errors"]++
				continue
			}
			counts["cleared"]++
		}
		return counts, nil
	})
	if err != nil {
		return "", err
	}
	g.recordEvent(ctx, events.JobStarted(communityID, partition, jobID, "flag-clear"))
	return jobID, nil
}
