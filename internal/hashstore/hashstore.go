// Package hashstore maintains the per-community perceptual-hash records the
// matching engine queries. Records are partitioned by the duplicate scope in
// effect when they were written: server-scoped records live in a single
// community-wide partition, channel-scoped records in one partition per
// channel. Switching scope does not migrate records between partitions; old
// records simply stop being reachable from the new scope's queries.
package hashstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/repostguard/repostguard/internal/hash"
)

// ServerPartition is the partition key for server-scoped records.
const ServerPartition = ""

// Record is one stored fingerprint. SourceID uniquely identifies the
// originating message and attachment (message ID + "-" + filename) and is
// the upsert/removal key. AuthorID and PostedAt may be unknown for records
// loaded from legacy databases.
type Record struct {
	SourceID    string
	Fingerprint hash.Fingerprint
	ChannelID   string    // channel the image was posted in; may be empty on legacy records
	AuthorID    string    // empty = unknown
	PostedAt    time.Time // zero = unknown
}

// MessageID returns the message-ID prefix of the record's source identifier.
func (r Record) MessageID() string {
	if i := strings.IndexByte(r.SourceID, '-'); i >= 0 {
		return r.SourceID[:i]
	}
	return r.SourceID
}

// HasPostedAt reports whether the record carries a known post time.
func (r Record) HasPostedAt() bool {
	return !r.PostedAt.IsZero()
}

// Query selects candidate records for matching. Width and time filtering
// happen here; author policy is the match engine's job, except that callers
// may pre-exclude an author for efficiency.
type Query struct {
	// Partition is the partition key (ServerPartition or a channel ID).
	Partition string
	// Width excludes records whose fingerprint width differs (records
	// hashed under a different hash_size are incomparable, not errors).
	Width int
	// MaxAgeDays excludes records older than this many days before Now.
	// 0 disables the time filter. Records with an unknown post time are
	// always included.
	MaxAgeDays int
	// Now anchors the time filter.
	Now time.Time
	// ExcludeAuthor drops records by this author when non-empty.
	ExcludeAuthor string
	// ExcludeSource drops the record with this source ID (self-exclusion
	// during rescans).
	ExcludeSource string
}

// Store is one community's hash record collection. All methods are safe for
// concurrent use; reads work on a consistent snapshot and never observe a
// partially-written record.
type Store struct {
	mu         sync.RWMutex
	path       string
	partitions map[string]map[string]Record
}

// NewStore creates an empty, unpersisted store (mainly for tests). Use Open
// to load a community's durable store.
func NewStore() *Store {
	return &Store{partitions: make(map[string]map[string]Record)}
}

// QueryCandidates returns the records in the partition that pass the width
// and time filters. The result is a copy ordered oldest-first (records with
// unknown post times sort last, stable by source ID) so tie-breaking on
// equal distance is deterministic.
func (s *Store) QueryCandidates(q Query) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part := s.partitions[q.Partition]
	if len(part) == 0 {
		return nil
	}

	var cutoff time.Time
	if q.MaxAgeDays > 0 {
		cutoff = q.Now.AddDate(0, 0, -q.MaxAgeDays)
	}

	out := make([]Record, 0, len(part))
	for _, rec := range part {
		if rec.SourceID == q.ExcludeSource && q.ExcludeSource != "" {
			continue
		}
		if q.Width > 0 && rec.Fingerprint.Width() != q.Width {
			continue
		}
		if q.ExcludeAuthor != "" && rec.AuthorID == q.ExcludeAuthor {
			continue
		}
		if !cutoff.IsZero() && rec.HasPostedAt() && rec.PostedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	sortOldestFirst(out)
	return out
}

// FindExact returns the record in the partition whose fingerprint is
// bit-identical to f, excluding excludeSource. Unlike QueryCandidates it
// applies no time filter: record identity does not age out. When several
// records carry the same fingerprint the oldest wins.
func (s *Store) FindExact(partition string, f hash.Fingerprint, excludeSource string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Record
	found := false
	for _, rec := range s.partitions[partition] {
		if rec.SourceID == excludeSource && excludeSource != "" {
			continue
		}
		if !hash.Equal(rec.Fingerprint, f) {
			continue
		}
		if !found || olderThan(rec, best) {
			best = rec
			found = true
		}
	}
	return best, found
}

// Get returns the record with the given source ID in the partition.
func (s *Store) Get(partition, sourceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.partitions[partition][sourceID]
	return rec, ok
}

// Upsert inserts or replaces the record keyed by its source ID. Replacement
// is wholesale: rescans use this to backfill missing metadata.
func (s *Store) Upsert(partition string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[partition]
	if !ok {
		part = make(map[string]Record)
		s.partitions[partition] = part
	}
	part[rec.SourceID] = rec
}

// Remove deletes the record with the given source ID from the partition and
// reports whether it existed.
func (s *Store) Remove(partition, sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[partition]
	if !ok {
		return false
	}
	if _, ok := part[sourceID]; !ok {
		return false
	}
	delete(part, sourceID)
	if len(part) == 0 {
		delete(s.partitions, partition)
	}
	return true
}

// RemoveMessage deletes every record originating from the message, across
// all partitions (a message may carry several attachments, and the operator
// removing a hash does not know which scope it was written under). Returns
// the number of records removed.
func (s *Store) RemoveMessage(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := messageID + "-"
	removed := 0
	for key, part := range s.partitions {
		for sourceID := range part {
			if strings.HasPrefix(sourceID, prefix) || sourceID == messageID {
				delete(part, sourceID)
				removed++
			}
		}
		if len(part) == 0 {
			delete(s.partitions, key)
		}
	}
	return removed
}

// ClearPartition removes all records in one partition and returns the count.
func (s *Store) ClearPartition(partition string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.partitions[partition])
	delete(s.partitions, partition)
	return n
}

// Clear removes every record in the store and returns the count.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, part := range s.partitions {
		n += len(part)
	}
	s.partitions = make(map[string]map[string]Record)
	return n
}

// Len returns the total number of records across all partitions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, part := range s.partitions {
		n += len(part)
	}
	return n
}

// Partitions returns the partition keys currently holding records.
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.partitions))
	for k := range s.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every record grouped by partition. The copy is
// detached from the store; mutating it has no effect.
func (s *Store) Snapshot() map[string][]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Record, len(s.partitions))
	for key, part := range s.partitions {
		recs := make([]Record, 0, len(part))
		for _, rec := range part {
			recs = append(recs, rec)
		}
		sortOldestFirst(recs)
		out[key] = recs
	}
	return out
}

func sortOldestFirst(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return olderThan(recs[i], recs[j])
	})
}

// olderThan orders records by known post time ascending; records without a
// post time sort after dated ones, stable by source ID.
func olderThan(a, b Record) bool {
	switch {
	case a.HasPostedAt() && b.HasPostedAt():
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		return a.SourceID < b.SourceID
	case a.HasPostedAt():
		return true
	case b.HasPostedAt():
		return false
	default:
		return a.SourceID < b.SourceID
	}
}
