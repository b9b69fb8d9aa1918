// Package match decides whether a newly observed image duplicates a stored
// record. The engine is a pure decision function over a candidate snapshot:
// it never mutates the hash store, which keeps every policy combination
// directly testable.
package match

import (
	"time"

	"github.com/repostguard/repostguard/internal/hash"
	"github.com/repostguard/repostguard/internal/hashstore"
	"github.com/repostguard/repostguard/internal/policy"
)

// Verdict classifies an observation against the store.
type Verdict int

const (
	// NoMatch means no stored record is within the similarity threshold.
	// The caller is expected to record the observation as a new original.
	NoMatch Verdict = iota
	// Duplicate means a different author's record matched; the observation
	// is subject to the community's configured actions.
	Duplicate
	// OwnerMatch means the closest record belongs to the same author (or to
	// an unknown author under the permissive reading); the observation is
	// not flagged.
	OwnerMatch
)

func (v Verdict) String() string {
	switch v {
	case NoMatch:
		return "no_match"
	case Duplicate:
		return "duplicate"
	case OwnerMatch:
		return "owner_match"
	default:
		return "unknown"
	}
}

// Observation is one image sighting: the fingerprint plus the context the
// check-mode policy needs.
type Observation struct {
	Fingerprint hash.Fingerprint
	SourceID    string // message ID + "-" + filename; excluded from matching
	AuthorID    string
	ChannelID   string
	PostedAt    time.Time
}

// Result is the engine's decision. Original is valid only when Verdict is
// Duplicate or OwnerMatch. Exempt reports that the poster is on the
// community's exempt list: the lookup still ran for bookkeeping, but the
// caller must not apply punitive actions.
type Result struct {
	Verdict  Verdict
	Original hashstore.Record
	Distance int
	Exempt   bool
}

// PartitionFor maps the community's scope setting to the partition key an
// observation in the given channel belongs to.
func PartitionFor(scope policy.Scope, channelID string) string {
	if scope == policy.ScopeChannel {
		return channelID
	}
	return hashstore.ServerPartition
}

// Engine evaluates observations against a community's hash store under its
// policy. The policy is captured per call, so a concurrent policy change
// never applies mid-decision.
type Engine struct {
	store *hashstore.Store
}

// NewEngine creates a match engine over the community's store.
func NewEngine(store *hashstore.Store) *Engine {
	return &Engine{store: store}
}

// Check runs the match algorithm: pull the width- and time-filtered
// candidates for the observation's partition, find the closest one, and
// classify it under the check mode. now anchors the time window.
func (e *Engine) Check(obs Observation, pol policy.Policy, now time.Time) Result {
	candidates := e.store.QueryCandidates(hashstore.Query{
		Partition:     PartitionFor(pol.Scope, obs.ChannelID),
		Width:         obs.Fingerprint.Width(),
		MaxAgeDays:    pol.MaxAgeDays,
		Now:           now,
		ExcludeSource: obs.SourceID,
	})
	res := Classify(obs, candidates, pol)
	res.Exempt = pol.IsExempt(obs.AuthorID)
	return res
}

// Classify applies the threshold and check-mode rules to a candidate
// snapshot. Candidates must be pre-filtered for width and time (Check does
// this); candidates whose width still differs are skipped, never an error.
//
// Tie-break on equal minimal distance: the earliest posted_at wins; records
// with unknown post times lose to dated ones and order among themselves by
// source ID. QueryCandidates returns candidates already in that order, so
// the first strictly-closer candidate encountered is the winner.
func Classify(obs Observation, candidates []hashstore.Record, pol policy.Policy) Result {
	best := hashstore.Record{}
	bestDistance := -1
	for _, cand := range candidates {
		if cand.SourceID == obs.SourceID {
			continue
		}
		d, err := hash.Distance(obs.Fingerprint, cand.Fingerprint)
		if err != nil {
			// Mixed-width record that slipped past the store filter:
			// architecturally incomparable, skip.
			continue
		}
		if d > pol.SimilarityThreshold {
			continue
		}
		if bestDistance < 0 || d < bestDistance {
			best = cand
			bestDistance = d
		}
	}

	if bestDistance < 0 {
		return Result{Verdict: NoMatch}
	}

	res := Result{Original: best, Distance: bestDistance}
	switch pol.CheckMode {
	case policy.CheckModeOwnerAllowed:
		switch {
		case best.AuthorID == "" && !pol.FlagUnknownOwner:
			res.Verdict = OwnerMatch
		case best.AuthorID == obs.AuthorID && obs.AuthorID != "":
			res.Verdict = OwnerMatch
		default:
			res.Verdict = Duplicate
		}
	default: // strict
		res.Verdict = Duplicate
	}
	return res
}
