package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store keeps the per-community policies and their JSON persistence. A
// community gets a default policy on first contact; every mutation is
// validated and written through to disk.
//
// Reads return copies, so a policy read at the start of a match decision
// cannot change mid-decision.
type Store struct {
	mu       sync.RWMutex
	path     string
	policies map[string]Policy
}

// NewStore creates a policy store backed by the given JSON file. A missing
// file starts empty; a corrupt file starts empty with a warning returned so
// startup never fails on a bad config document.
func NewStore(path string) (*Store, []string, error) {
	s := &Store{
		path:     path,
		policies: make(map[string]Policy),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		warning := fmt.Sprintf("policy file %s is corrupt (%v); starting with defaults", path, err)
		return s, []string{warning}, nil
	}

	var warnings []string
	for communityID, doc := range raw {
		p := Default()
		if err := json.Unmarshal(doc, &p); err != nil {
			warnings = append(warnings, fmt.Sprintf("policy for community %s is unparsable (%v); using defaults", communityID, err))
			p = Default()
		}
		p.Normalize()
		s.policies[communityID] = p
	}
	return s, warnings, nil
}

// Get returns the community's policy, creating (and persisting) the default
// on first contact.
func (s *Store) Get(communityID string) Policy {
	s.mu.RLock()
	p, ok := s.policies[communityID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.policies[communityID]; ok {
		return p
	}
	p = Default()
	s.policies[communityID] = p
	// Best effort: first contact should not fail because the disk write did.
	if err := s.saveLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to persist default policy for community %s: %v\n", communityID, err)
	}
	return p
}

// Set validates and persists a replacement policy for the community.
func (s *Store) Set(communityID string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.policies[communityID]
	s.policies[communityID] = p
	if err := s.saveLocked(); err != nil {
		// Keep memory and disk consistent on failure.
		if existed {
			s.policies[communityID] = prev
		} else {
			delete(s.policies, communityID)
		}
		return fmt.Errorf("failed to persist policy: %w", err)
	}
	return nil
}

// Update applies fn to the community's current policy and persists the
// result. fn receives a copy; returning an error abandons the update.
func (s *Store) Update(communityID string, fn func(*Policy) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[communityID]
	if !ok {
		p = Default()
	}
	if err := fn(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	prev, existed := s.policies[communityID]
	s.policies[communityID] = p
	if err := s.saveLocked(); err != nil {
		if existed {
			s.policies[communityID] = prev
		} else {
			delete(s.policies, communityID)
		}
		return fmt.Errorf("failed to persist policy: %w", err)
	}
	return nil
}

// Communities returns the IDs of every community with a stored policy.
func (s *Store) Communities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.policies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode policies: %w", err)
	}

	// Write via a temp file so a crash mid-write never corrupts the document.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".policies-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write policies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace policy file: %w", err)
	}
	return nil
}
