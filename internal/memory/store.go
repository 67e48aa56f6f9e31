package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store is the node's memory store: one local partition plus a shared
// partition per peer that has sent memories via knowledge-sync.
type Store struct {
	mu     sync.RWMutex
	local  []*Memory
	shared map[string][]*Memory

	persist func(Document) error
}

// New creates an empty store. persist, if non-nil, is invoked after every
// mutating operation with the full document; OpenAt wires this to
// statefile.Save, a whole-file JSON writer.
func New(persist func(Document) error) *Store {
	return &Store{
		shared:  make(map[string][]*Memory),
		persist: persist,
	}
}

// Load replaces the store's contents with a previously persisted document.
// A nil or empty document leaves the store empty; this is how callers
// tolerate a missing or unparseable state file per spec §3.
func (s *Store) Load(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = doc.Memories
	if s.local == nil {
		s.local = []*Memory{}
	}
	s.shared = doc.Shared
	if s.shared == nil {
		s.shared = make(map[string][]*Memory)
	}
}

// snapshotLocked builds the Document to persist. Caller must hold s.mu.
func (s *Store) snapshotLocked() Document {
	return Document{Memories: s.local, Shared: s.shared}
}

func (s *Store) persistLocked() {
	if s.persist == nil {
		return
	}
	_ = s.persist(s.snapshotLocked())
}

// Write allocates a fresh local memory and persists the store.
func (s *Store) Write(category Category, title, content string, tags []string, context string, ttl int64) *Memory {
	m := &Memory{
		ID:       uuid.NewString(),
		Category: category,
		Title:    title,
		Content:  content,
		Tags:     normalizeTags(tags),
		Created:  nowMS(),
		Source:   LocalSource,
		TTL:      ttl,
		Context:  context,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, m)
	s.persistLocked()
	return m.clone()
}

// Read returns memories matching filt, newest first.
func (s *Store) Read(filt ReadFilter) []*Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := nowMS()
	var candidates []*Memory
	candidates = append(candidates, s.local...)
	if filt.IncludeShared {
		for _, peerMemories := range s.shared {
			candidates = append(candidates, peerMemories...)
		}
	}

	var out []*Memory
	for _, m := range candidates {
		if m.expired(now) {
			continue
		}
		if filt.Category != "" && m.Category != filt.Category {
			continue
		}
		if filt.Source != "" && m.Source != filt.Source {
			continue
		}
		if len(filt.Tags) > 0 && !anyTagMatches(m.Tags, filt.Tags) {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	if filt.Limit > 0 && len(out) > filt.Limit {
		out = out[:filt.Limit]
	}
	return cloneAll(out)
}

// Search performs a case-insensitive substring match over title, content,
// tags, and context. Title matches rank above non-title matches; ties break
// by created desc.
func (s *Store) Search(query string, opts SearchOptions) []*Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	q := strings.ToLower(strings.TrimSpace(query))
	now := nowMS()

	var candidates []*Memory
	candidates = append(candidates, s.local...)
	if opts.IncludeShared {
		for _, peerMemories := range s.shared {
			candidates = append(candidates, peerMemories...)
		}
	}

	type scored struct {
		m          *Memory
		titleMatch bool
	}
	var matches []scored
	for _, m := range candidates {
		if m.expired(now) {
			continue
		}
		if opts.Category != "" && m.Category != opts.Category {
			continue
		}
		titleMatch := strings.Contains(strings.ToLower(m.Title), q)
		if titleMatch ||
			strings.Contains(strings.ToLower(m.Content), q) ||
			strings.Contains(strings.ToLower(m.Context), q) ||
			tagContains(m.Tags, q) {
			matches = append(matches, scored{m: m, titleMatch: titleMatch})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].titleMatch != matches[j].titleMatch {
			return matches[i].titleMatch
		}
		return matches[i].m.Created > matches[j].m.Created
	})

	out := make([]*Memory, 0, len(matches))
	for _, sc := range matches {
		out = append(out, sc.m)
	}
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return cloneAll(out)
}

// Update mutates a local memory in place, stamping Updated=now. Returns nil
// if no local memory with that id exists.
func (s *Store) Update(id string, apply func(*Memory)) *Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.local {
		if m.ID == id {
			apply(m)
			m.Updated = nowMS()
			s.persistLocked()
			return m.clone()
		}
	}
	return nil
}

// Delete removes a local memory by id, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.local {
		if m.ID == id {
			s.local = append(s.local[:i], s.local[i+1:]...)
			s.persistLocked()
			return true
		}
	}
	return false
}

// Receive idempotently merges memories from a peer into that peer's shared
// partition, deduping by id. Source is always overwritten to peer: we
// attribute received memories to the sender regardless of what they claim.
func (s *Store) Receive(peer string, memories []*Memory) {
	if len(memories) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.shared[peer]
	byID := make(map[string]int, len(existing))
	for i, m := range existing {
		byID[m.ID] = i
	}

	for _, incoming := range memories {
		if incoming == nil || incoming.ID == "" {
			continue
		}
		c := incoming.clone()
		c.Source = peer
		if idx, ok := byID[c.ID]; ok {
			existing[idx] = c
		} else {
			byID[c.ID] = len(existing)
			existing = append(existing, c)
		}
	}
	s.shared[peer] = existing
	s.persistLocked()
}

// GetSince returns local memories whose created or updated timestamp is
// strictly after the given ms timestamp, used to compute a knowledge-sync
// outbound window.
func (s *Store) GetSince(timestampMS int64) []*Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Memory
	for _, m := range s.local {
		latest := m.Created
		if m.Updated > latest {
			latest = m.Updated
		}
		if latest > timestampMS {
			out = append(out, m)
		}
	}
	return cloneAll(out)
}

// CleanupExpired drops every memory (local and shared) whose TTL has passed.
func (s *Store) CleanupExpired() CleanupResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMS()
	var res CleanupResult

	kept := s.local[:0:0]
	for _, m := range s.local {
		if m.expired(now) {
			res.LocalExpired++
			continue
		}
		kept = append(kept, m)
	}
	s.local = kept

	for peer, list := range s.shared {
		keptPeer := list[:0:0]
		for _, m := range list {
			if m.expired(now) {
				res.SharedExpired++
				continue
			}
			keptPeer = append(keptPeer, m)
		}
		s.shared[peer] = keptPeer
	}

	res.TotalRemaining = len(s.local)
	for _, list := range s.shared {
		res.TotalRemaining += len(list)
	}

	s.persistLocked()
	return res
}

// Stats reports the current size of the local partition and each peer's
// shared partition.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shared := make(map[string]int, len(s.shared))
	for peer, list := range s.shared {
		shared[peer] = len(list)
	}
	return Stats{LocalCount: len(s.local), SharedCount: shared}
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func anyTagMatches(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

func tagContains(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(t, q) {
			return true
		}
	}
	return false
}

func cloneAll(in []*Memory) []*Memory {
	out := make([]*Memory, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}
