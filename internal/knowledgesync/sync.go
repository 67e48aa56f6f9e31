// Package knowledgesync implements the periodic bidirectional exchange of
// newly-created memories between this node and each configured peer
// (spec §4.8 C9). The exchange rides on the peer's natural-language execute
// endpoint rather than a dedicated RPC, per spec §9's open question; the
// protocol marker below is how we recognize a sync reply inside an
// otherwise free-text response.
package knowledgesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meshagent/meshnode/internal/memory"
	"github.com/meshagent/meshnode/internal/metrics"
	"github.com/meshagent/meshnode/internal/statefile"
)

// ResponseMarker prefixes the JSON payload a peer is asked to emit in its
// reply so it can be located inside an otherwise conversational response.
const ResponseMarker = "MESHNODE_SYNC_REPLY:"

// PeerSyncState is the persisted per-peer sync bookkeeping (spec §3).
type PeerSyncState struct {
	LastSyncTime   int64  `json:"lastSyncTime,omitempty"`
	LastSentID     string `json:"lastSentId,omitempty"`
	LastReceivedID string `json:"lastReceivedId,omitempty"`
	SyncCount      int    `json:"syncCount"`
}

// Document is the on-disk memory-sync.json shape.
type Document struct {
	Peers map[string]*PeerSyncState `json:"peers"`
}

// Exchange sends prompt to peer and returns its raw execute response.
type Exchange func(ctx context.Context, peer, prompt string) (string, error)

var nowMS = func() int64 { return time.Now().UnixMilli() }

// Syncer drives the knowledge-sync exchange against a fixed set of peers.
type Syncer struct {
	store      *memory.Store
	peers      []string
	categories map[string]bool
	exchange   Exchange
	logger     *slog.Logger

	mu    sync.Mutex
	state Document

	persist func(Document) error

	running sync.Mutex

	// Metrics, if set, receives a mesh_sync_total increment per round.
	// Left nil in tests; wired by the daemon at startup.
	Metrics *metrics.Metrics
}

// New constructs a Syncer. categories, if non-empty, restricts which
// category of local memory is sent (spec §4.8 step 1); empty means "all".
func New(store *memory.Store, peers []string, categories []string, exchange Exchange, logger *slog.Logger, persist func(Document) error) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	catSet := make(map[string]bool, len(categories))
	for _, c := range categories {
		catSet[c] = true
	}
	return &Syncer{
		store:      store,
		peers:      peers,
		categories: catSet,
		exchange:   exchange,
		logger:     logger,
		state:      Document{Peers: make(map[string]*PeerSyncState)},
		persist:    persist,
	}
}

// OpenAt loads memory-sync.json at path (tolerating a missing file) and
// wires persistence back to it.
func OpenAt(path string, store *memory.Store, peers []string, categories []string, exchange Exchange, logger *slog.Logger) (*Syncer, error) {
	var doc Document
	if err := statefile.Load(path, &doc); err != nil {
		doc = Document{}
	}
	if doc.Peers == nil {
		doc.Peers = make(map[string]*PeerSyncState)
	}
	s := New(store, peers, categories, exchange, logger, func(d Document) error {
		return statefile.Save(path, d)
	})
	s.state = doc
	return s, nil
}

func (s *Syncer) persistLocked() {
	if s.persist == nil {
		return
	}
	if err := s.persist(s.state); err != nil {
		s.logger.Error("persisting sync state failed", "error", err)
	}
}

func (s *Syncer) stateFor(peer string) *PeerSyncState {
	st, ok := s.state.Peers[peer]
	if !ok {
		st = &PeerSyncState{}
		s.state.Peers[peer] = st
	}
	return st
}

// Tick runs one sync round against every configured peer. If a previous
// Tick is still running, this call is skipped (non-overlap discipline).
func (s *Syncer) Tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("knowledge-sync tick skipped: previous tick still running")
		return
	}
	defer s.running.Unlock()

	for _, peer := range s.peers {
		s.syncPeer(ctx, peer)
	}
}

func (s *Syncer) syncPeer(ctx context.Context, peer string) {
	s.mu.Lock()
	st := s.stateFor(peer)
	since := st.LastSyncTime
	s.mu.Unlock()

	outbound := s.store.GetSince(since)
	outbound = s.filterCategories(outbound)

	payload, err := json.Marshal(outbound)
	if err != nil {
		s.logger.Error("knowledge-sync marshal failed", "peer", peer, "error", err)
		return
	}
	prompt := fmt.Sprintf(
		"Please store these memories and reply with your own new memories since %d, "+
			"prefixing the JSON array with %q.\n\n%s",
		since, ResponseMarker, string(payload),
	)

	response, err := s.exchange(ctx, peer, prompt)
	if err != nil {
		// Advisory: leave lastSyncTime unchanged so the next round retries
		// the same window (spec §4.8).
		s.logger.Warn("knowledge-sync exchange failed", "peer", peer, "error", err)
		s.recordMetric(peer, "error")
		return
	}

	received, err := extractReply(response)
	if err != nil {
		s.logger.Warn("knowledge-sync could not parse peer reply", "peer", peer, "error", err)
		s.recordMetric(peer, "error")
		return
	}

	s.store.Receive(peer, received)

	s.mu.Lock()
	defer s.mu.Unlock()
	st = s.stateFor(peer)
	st.LastSyncTime = nowMS()
	if len(outbound) > 0 {
		st.LastSentID = outbound[len(outbound)-1].ID
	}
	if len(received) > 0 {
		st.LastReceivedID = received[len(received)-1].ID
	}
	st.SyncCount++
	s.persistLocked()
	s.recordMetric(peer, "success")
}

// Snapshot returns a copy of the syncer's full persisted state, for
// reporting over /v1/scheduler (spec §6).
func (s *Syncer) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make(map[string]*PeerSyncState, len(s.state.Peers))
	for peer, st := range s.state.Peers {
		copied := *st
		peers[peer] = &copied
	}
	return Document{Peers: peers}
}

func (s *Syncer) recordMetric(peer, result string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Syncs.WithLabelValues(peer, result).Inc()
}

func (s *Syncer) filterCategories(memories []*memory.Memory) []*memory.Memory {
	if len(s.categories) == 0 {
		return memories
	}
	out := make([]*memory.Memory, 0, len(memories))
	for _, m := range memories {
		if s.categories[string(m.Category)] {
			out = append(out, m)
		}
	}
	return out
}

// extractReply locates ResponseMarker in response and parses the JSON array
// that follows it.
func extractReply(response string) ([]*memory.Memory, error) {
	idx := strings.Index(response, ResponseMarker)
	if idx == -1 {
		return nil, fmt.Errorf("response marker not found")
	}
	rest := response[idx+len(ResponseMarker):]
	start := strings.Index(rest, "[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON array found after marker")
	}
	end := strings.LastIndex(rest, "]")
	if end == -1 || end < start {
		return nil, fmt.Errorf("unterminated JSON array after marker")
	}
	var memories []*memory.Memory
	if err := json.Unmarshal([]byte(rest[start:end+1]), &memories); err != nil {
		return nil, fmt.Errorf("decoding synced memories: %w", err)
	}
	return memories, nil
}
