package hashstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/repostguard/repostguard/internal/hash"
)

// The durable form is one JSON document per community, compatible with the
// hash databases the original bot wrote:
//
//	server scope:   {"<msgID>-<file>": {"hash": "...", "user_id": 1, "timestamp": "..."}}
//	channel scope:  {"<channelID>": {"<msgID>-<file>": {...}}}
//	legacy (v1):    {"<msgID>-<file>": "<hex>"}
//
// Legacy entries load with author and post time unknown. Both shapes may
// coexist in one document after a scope switch.

// timestampLayouts are the formats legacy documents carry; the first is also
// the save format.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999", // naive isoformat, assumed UTC
	"2006-01-02T15:04:05",
}

type wireRecord struct {
	Hash      string          `json:"hash"`
	UserID    json.RawMessage `json:"user_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
}

// Open loads a community's store from its durable document. A missing file
// yields an empty store; a corrupt or partially unparsable document yields
// whatever could be recovered plus warnings, never an error that would block
// the community's startup (a bad cache is recoverable by rescanning).
func Open(path string) (*Store, []string, error) {
	s := NewStore()
	s.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read hash store: %w", err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		warning := fmt.Sprintf("hash store %s is corrupt (%v); starting empty", path, err)
		return s, []string{warning}, nil
	}

	var warnings []string
	for key, raw := range top {
		switch classify(raw) {
		case entryString, entryRecord:
			rec, err := decodeRecord(key, raw)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("skipping record %q: %v", key, err))
				continue
			}
			s.Upsert(ServerPartition, rec)
		case entryNested:
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(raw, &nested); err != nil {
				warnings = append(warnings, fmt.Sprintf("skipping channel group %q: %v", key, err))
				continue
			}
			for sourceID, rawRec := range nested {
				rec, err := decodeRecord(sourceID, rawRec)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("skipping record %q in channel %s: %v", sourceID, key, err))
					continue
				}
				if rec.ChannelID == "" {
					rec.ChannelID = key
				}
				s.Upsert(key, rec)
			}
		default:
			warnings = append(warnings, fmt.Sprintf("skipping unrecognized entry %q", key))
		}
	}
	return s, warnings, nil
}

type entryKind int

const (
	entryUnknown entryKind = iota
	entryString            // v1 bare hex
	entryRecord            // object with a string "hash" field
	entryNested            // channel-scope group of records
)

func classify(raw json.RawMessage) entryKind {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return entryString
	}
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return entryUnknown
	}
	if h, ok := asObject["hash"]; ok {
		var hashStr string
		if err := json.Unmarshal(h, &hashStr); err == nil {
			return entryRecord
		}
	}
	return entryNested
}

func decodeRecord(sourceID string, raw json.RawMessage) (Record, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err == nil {
		f, err := hash.Parse(hexStr, len(hexStr)*4)
		if err != nil {
			return Record{}, fmt.Errorf("invalid fingerprint: %w", err)
		}
		return Record{SourceID: sourceID, Fingerprint: f}, nil
	}

	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, fmt.Errorf("unparsable record: %w", err)
	}
	if w.Hash == "" {
		return Record{}, fmt.Errorf("record has no fingerprint")
	}
	f, err := hash.Parse(w.Hash, len(w.Hash)*4)
	if err != nil {
		return Record{}, fmt.Errorf("invalid fingerprint: %w", err)
	}

	rec := Record{
		SourceID:    sourceID,
		Fingerprint: f,
		ChannelID:   w.ChannelID,
		AuthorID:    decodeUserID(w.UserID),
	}
	if w.Timestamp != "" {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, w.Timestamp); err == nil {
				rec.PostedAt = t.UTC()
				break
			}
		}
		// An unparsable timestamp degrades to unknown rather than failing
		// the record.
	}
	return rec, nil
}

// decodeUserID accepts the numeric IDs the original bot stored as well as
// string IDs; anything else (null, absent) is unknown.
func decodeUserID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

func encodeRecord(rec Record) wireRecord {
	w := wireRecord{
		Hash:      rec.Fingerprint.String(),
		ChannelID: rec.ChannelID,
	}
	if rec.AuthorID != "" {
		// IDs are numeric snowflakes in practice; keep the legacy numeric
		// encoding so older tooling can still read the document.
		if isDigits(rec.AuthorID) {
			w.UserID = json.RawMessage(rec.AuthorID)
		} else {
			quoted, _ := json.Marshal(rec.AuthorID)
			w.UserID = quoted
		}
	}
	if rec.HasPostedAt() {
		w.Timestamp = rec.PostedAt.UTC().Format(time.RFC3339Nano)
	}
	return w
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Save writes the store to its durable document atomically (temp file then
// rename), so a crash mid-write leaves the previous document intact.
func (s *Store) Save() error {
	if s.path == "" {
		return fmt.Errorf("store has no backing file")
	}

	s.mu.RLock()
	doc := make(map[string]json.RawMessage)
	for partKey, part := range s.partitions {
		if partKey == ServerPartition {
			for sourceID, rec := range part {
				encoded, err := json.Marshal(encodeRecord(rec))
				if err != nil {
					s.mu.RUnlock()
					return fmt.Errorf("failed to encode record %q: %w", sourceID, err)
				}
				doc[sourceID] = encoded
			}
			continue
		}
		group := make(map[string]wireRecord, len(part))
		for sourceID, rec := range part {
			group[sourceID] = encodeRecord(rec)
		}
		encoded, err := json.Marshal(group)
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("failed to encode partition %q: %w", partKey, err)
		}
		doc[partKey] = encoded
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hash store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".hashes-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write hash store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace hash store: %w", err)
	}
	return nil
}
