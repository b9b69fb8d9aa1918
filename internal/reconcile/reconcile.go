// Package reconcile decides, for each observation in an oldest-first stream,
// whether to insert it as a new canonical record, flag it as a duplicate, or
// fold it into an existing record. Bulk history scans and startup catch-up
// both drive this algorithm; they differ only in whether Flagged outcomes
// are acted on.
//
// The oldest-first input ordering is a hard precondition: the "oldest wins"
// guarantee holds only because every observation is compared against a store
// that already contains everything older than it.
package reconcile

import (
	"time"

	"github.com/repostguard/repostguard/internal/hashstore"
	"github.com/repostguard/repostguard/internal/match"
	"github.com/repostguard/repostguard/internal/policy"
)

// Outcome classifies one reconciled observation.
type Outcome int

const (
	// Inserted: no match; the observation became a new canonical record.
	Inserted Outcome = iota
	// Flagged: the observation duplicates an earlier record by another
	// author; the caller applies the community's configured actions.
	Flagged
	// OwnerPass: the observation matches the author's own earlier record
	// (or an unknown-author record under the permissive reading); no flag.
	OwnerPass
	// Refreshed: the observation is the stored record itself, re-encountered
	// on a rescan; missing metadata was backfilled if the observation
	// supplied it.
	Refreshed
	// Superseded: the observation is older than the stored record with the
	// same fingerprint; the observation replaced it as canonical.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Flagged:
		return "flagged"
	case OwnerPass:
		return "owner_pass"
	case Refreshed:
		return "refreshed"
	case Superseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Classification is the per-item result: the outcome plus enough context for
// the caller to apply actions (reply/react/delete/log) to Flagged items.
type Classification struct {
	Outcome     Outcome
	Observation match.Observation
	// Original is the matched canonical record; valid for Flagged and
	// OwnerPass, and for Superseded it is the record that was replaced.
	Original hashstore.Record
	Distance int
	// Exempt means the poster is on the exempt list: the classification
	// stands for bookkeeping but no punitive action may be applied.
	Exempt bool
}

// Reconciler applies observations to one community's hash store. It does not
// lock: callers serialize writes per partition through the task coordinator.
type Reconciler struct {
	store  *hashstore.Store
	engine *match.Engine
}

// New creates a reconciler over the community's store.
func New(store *hashstore.Store) *Reconciler {
	return &Reconciler{store: store, engine: match.NewEngine(store)}
}

// Apply reconciles one observation and returns its classification. The
// caller must feed observations oldest-first and must hold the partition's
// write lock.
func (r *Reconciler) Apply(obs match.Observation, pol policy.Policy, now time.Time) Classification {
	partition := match.PartitionFor(pol.Scope, obs.ChannelID)

	// Record identity first: an exact-fingerprint record decides whether
	// this observation is the record itself, an older sighting that should
	// supersede it, or a repost of it. Refresh and supersede have no time
	// window: a record's own identity never ages out. Flagging does: a
	// repost of a record older than the policy window is not a duplicate,
	// so it falls through to similarity matching (which applies the same
	// window) and becomes a new canonical record.
	if exact, ok := r.store.FindExact(partition, obs.Fingerprint, ""); ok {
		switch {
		case exact.SourceID == obs.SourceID:
			return r.refresh(partition, exact, obs)
		case !exact.HasPostedAt() || (obs.PostedAt.Before(exact.PostedAt) && !obs.PostedAt.IsZero()):
			// The stored record has no usable time, or this sighting is
			// provably older: the observation becomes canonical.
			r.store.Remove(partition, exact.SourceID)
			r.store.Upsert(partition, recordFrom(obs))
			return Classification{Outcome: Superseded, Observation: obs, Original: exact}
		case inWindow(exact, pol, now):
			return r.classifyRepost(partition, exact, obs, 0, pol)
		}
	}

	// No identical record: fall back to similarity matching under policy.
	res := r.engine.Check(obs, pol, now)
	switch res.Verdict {
	case match.Duplicate:
		return Classification{Outcome: Flagged, Observation: obs, Original: res.Original, Distance: res.Distance, Exempt: res.Exempt}
	case match.OwnerMatch:
		return Classification{Outcome: OwnerPass, Observation: obs, Original: res.Original, Distance: res.Distance, Exempt: res.Exempt}
	default:
		r.store.Upsert(partition, recordFrom(obs))
		return Classification{Outcome: Inserted, Observation: obs, Exempt: res.Exempt}
	}
}

// refresh re-encounters the record's own source: never a duplicate of
// itself. Missing metadata is backfilled from the observation; complete
// metadata is left alone.
func (r *Reconciler) refresh(partition string, exact hashstore.Record, obs match.Observation) Classification {
	updated := exact
	changed := false
	if updated.AuthorID == "" && obs.AuthorID != "" {
		updated.AuthorID = obs.AuthorID
		changed = true
	}
	if !updated.HasPostedAt() && !obs.PostedAt.IsZero() {
		updated.PostedAt = obs.PostedAt
		changed = true
	}
	if updated.ChannelID == "" && obs.ChannelID != "" {
		updated.ChannelID = obs.ChannelID
		changed = true
	}
	if changed {
		r.store.Upsert(partition, updated)
	}
	return Classification{Outcome: Refreshed, Observation: obs, Original: updated}
}

// classifyRepost handles an observation that exactly matches an older
// record with a different source: per check mode it is a flagged duplicate
// or an owner repost. An owner repost may backfill the original's missing
// author (same image, owner rule matched), but never replaces complete
// metadata and never advances the original's timestamp.
func (r *Reconciler) classifyRepost(partition string, exact hashstore.Record, obs match.Observation, distance int, pol policy.Policy) Classification {
	exempt := pol.IsExempt(obs.AuthorID)

	if pol.CheckMode == policy.CheckModeOwnerAllowed {
		ownerPass := false
		switch {
		case exact.AuthorID == "" && !pol.FlagUnknownOwner:
			ownerPass = true
		case exact.AuthorID == obs.AuthorID && obs.AuthorID != "":
			ownerPass = true
		}
		if ownerPass {
			if exact.AuthorID == "" && obs.AuthorID != "" && distance == 0 {
				exact.AuthorID = obs.AuthorID
				r.store.Upsert(partition, exact)
			}
			return Classification{Outcome: OwnerPass, Observation: obs, Original: exact, Distance: distance, Exempt: exempt}
		}
	}
	return Classification{Outcome: Flagged, Observation: obs, Original: exact, Distance: distance, Exempt: exempt}
}

// inWindow reports whether the record is recent enough to count as a
// duplicate source under the policy's time window. Undated records never
// age out.
func inWindow(rec hashstore.Record, pol policy.Policy, now time.Time) bool {
	if pol.MaxAgeDays <= 0 || !rec.HasPostedAt() {
		return true
	}
	return !rec.PostedAt.Before(now.AddDate(0, 0, -pol.MaxAgeDays))
}

func recordFrom(obs match.Observation) hashstore.Record {
	return hashstore.Record{
		SourceID:    obs.SourceID,
		Fingerprint: obs.Fingerprint,
		ChannelID:   obs.ChannelID,
		AuthorID:    obs.AuthorID,
		PostedAt:    obs.PostedAt,
	}
}
