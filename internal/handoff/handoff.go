// Package handoff implements round-robin peer selection with failure
// quarantine for scheduled-task handoff (spec §4.7 C8).
package handoff

import (
	"sync"
	"time"

	"github.com/meshagent/meshnode/internal/metrics"
	"github.com/meshagent/meshnode/internal/statefile"
)

// quarantineThreshold and quarantineWindow implement spec §4.7's
// quarantine rule: consecutiveFailures >= 3 AND now-lastUsed < 5min.
const (
	quarantineThreshold   = 3
	quarantineWindow      = 5 * time.Minute
)

// PeerStats tracks one peer's handoff history.
type PeerStats struct {
	Handoffs            int   `json:"handoffs"`
	Successes           int   `json:"successes"`
	Failures            int   `json:"failures"`
	ConsecutiveFailures int   `json:"consecutiveFailures"`
	LastUsed            int64 `json:"lastUsed,omitempty"`
	LastSuccess         int64 `json:"lastSuccess,omitempty"`
}

// State is the persisted document (spec §3 HandoffState).
type State struct {
	LastPeerIndex int                   `json:"lastPeerIndex"`
	PeerStats     map[string]*PeerStats `json:"peerStats"`
}

// nowMS is overridable by tests.
var nowMS = func() int64 { return time.Now().UnixMilli() }

// Controller selects peers round-robin, skipping quarantined ones, and
// tracks per-peer success/failure stats.
type Controller struct {
	mu    sync.Mutex
	state State

	persist func(State) error

	// Metrics, if set, receives a mesh_handoff_total increment per
	// RecordResult call. Left nil in tests; wired by the daemon at startup.
	Metrics *metrics.Metrics
}

// New creates a Controller with an optional persist callback invoked after
// every state mutation.
func New(persist func(State) error) *Controller {
	return &Controller{
		state:   State{LastPeerIndex: -1, PeerStats: make(map[string]*PeerStats)},
		persist: persist,
	}
}

// OpenAt loads handoff-state.json at path (tolerating a missing file) and
// returns a Controller wired to persist back to the same path.
func OpenAt(path string) (*Controller, error) {
	st := State{LastPeerIndex: -1, PeerStats: make(map[string]*PeerStats)}
	if err := statefile.Load(path, &st); err != nil {
		st = State{LastPeerIndex: -1, PeerStats: make(map[string]*PeerStats)}
	}
	if st.PeerStats == nil {
		st.PeerStats = make(map[string]*PeerStats)
	}
	c := New(func(s State) error { return statefile.Save(path, s) })
	c.state = st
	return c, nil
}

func (c *Controller) persistLocked() {
	if c.persist == nil {
		return
	}
	_ = c.persist(c.state)
}

func (c *Controller) statsLocked(peer string) *PeerStats {
	s, ok := c.state.PeerStats[peer]
	if !ok {
		s = &PeerStats{}
		c.state.PeerStats[peer] = s
	}
	return s
}

func (c *Controller) quarantinedLocked(peer string, now int64) bool {
	s, ok := c.state.PeerStats[peer]
	if !ok {
		return false
	}
	return s.ConsecutiveFailures >= quarantineThreshold && now-s.LastUsed < quarantineWindow.Milliseconds()
}

// SelectNextPeer implements spec §4.7: start at (lastPeerIndex+1) mod N,
// walk the ring up to N slots returning the first non-quarantined peer, and
// if every peer is quarantined still return the next ring slot as a
// best-effort fallback. peers must be non-empty.
func (c *Controller) SelectNextPeer(peers []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(peers)
	if n == 0 {
		return ""
	}
	now := nowMS()
	start := (c.state.LastPeerIndex + 1) % n
	if start < 0 {
		start += n
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if !c.quarantinedLocked(peers[idx], now) {
			return peers[idx]
		}
	}
	return peers[start]
}

// RecordUse marks peer as the one selected for this handoff (advances
// lastPeerIndex and stamps lastUsed/handoffs) and should be called once the
// peer is chosen, before the call result is known.
func (c *Controller) RecordUse(peers []string, peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range peers {
		if p == peer {
			c.state.LastPeerIndex = i
			break
		}
	}
	s := c.statsLocked(peer)
	s.Handoffs++
	s.LastUsed = nowMS()
	c.persistLocked()
}

// RecordResult updates peer's success/failure stats after a handoff call
// completes: success resets ConsecutiveFailures and stamps LastSuccess;
// failure increments ConsecutiveFailures.
func (c *Controller) RecordResult(peer string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.statsLocked(peer)
	result := "error"
	if success {
		s.Successes++
		s.ConsecutiveFailures = 0
		s.LastSuccess = nowMS()
		result = "success"
	} else {
		s.Failures++
		s.ConsecutiveFailures++
	}
	c.persistLocked()
	if c.Metrics != nil {
		c.Metrics.Handoffs.WithLabelValues(peer, result).Inc()
	}
}

// Stats returns a copy of peer's current stats (zero value if never used).
func (c *Controller) Stats(peer string) PeerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.PeerStats[peer]; ok {
		return *s
	}
	return PeerStats{}
}

// Snapshot returns a copy of the controller's full persisted state, for
// reporting over /v1/scheduler (spec §6).
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	peerStats := make(map[string]*PeerStats, len(c.state.PeerStats))
	for peer, s := range c.state.PeerStats {
		copied := *s
		peerStats[peer] = &copied
	}
	return State{LastPeerIndex: c.state.LastPeerIndex, PeerStats: peerStats}
}
