package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meshagent/meshnode/internal/metrics"
	"github.com/meshagent/meshnode/internal/statefile"
)

// Dispatch runs hookPrompt through the reasoning loop (or whatever local
// execution path the daemon wires in). Kept as a function type rather than
// a direct dependency on internal/reasoning to avoid a needless import
// cycle between hooks, scheduler, and reasoning, all of which dispatch
// prompts the same way.
type Dispatch func(ctx context.Context, prompt string) (string, error)

// Notify sends peerPrompt to peer as a fire-and-forget notification.
type Notify func(ctx context.Context, peer, prompt string) error

// Monitor evaluates a fixed set of hooks on each tick, persisting
// EventState and dispatching triggered prompts.
type Monitor struct {
	hooks    []Hook
	dispatch Dispatch
	notify   Notify
	logger   *slog.Logger

	mu    sync.Mutex
	state Document

	persist func(Document) error

	running sync.Mutex // tick non-overlap guard (spec §5 invariant 9)

	// Metrics, if set, receives a mesh_hook_triggers_total increment per
	// trigger. Left nil in tests; wired by the daemon at startup.
	Metrics *metrics.Metrics
}

// NewMonitor constructs a Monitor over hooks. persist, if non-nil, is
// invoked with the full state document after each hook is evaluated and
// again when a hook triggers.
func NewMonitor(hooks []Hook, dispatch Dispatch, notify Notify, logger *slog.Logger, persist func(Document) error) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		hooks:    hooks,
		dispatch: dispatch,
		notify:   notify,
		logger:   logger,
		state:    Document{Hooks: make(map[string]*EventState)},
		persist:  persist,
	}
}

// OpenMonitor loads event-state.json at path (tolerating a missing file)
// and wires persistence back to it.
func OpenMonitor(path string, hooks []Hook, dispatch Dispatch, notify Notify, logger *slog.Logger) (*Monitor, error) {
	var doc Document
	if err := statefile.Load(path, &doc); err != nil {
		doc = Document{}
	}
	if doc.Hooks == nil {
		doc.Hooks = make(map[string]*EventState)
	}
	m := NewMonitor(hooks, dispatch, notify, logger, func(d Document) error {
		return statefile.Save(path, d)
	})
	m.state = doc
	return m, nil
}

var nowMS = func() int64 { return time.Now().UnixMilli() }

// Tick evaluates every enabled hook once. If a previous Tick call is still
// running, this call is skipped entirely (non-overlap discipline, spec §5).
func (m *Monitor) Tick(ctx context.Context) {
	if !m.running.TryLock() {
		m.logger.Warn("hooks tick skipped: previous tick still running")
		return
	}
	defer m.running.Unlock()

	var wg sync.WaitGroup
	for _, h := range m.hooks {
		if !h.Enabled {
			continue
		}
		wg.Add(1)
		go func(h Hook) {
			defer wg.Done()
			m.evaluateHook(ctx, h)
		}(h)
	}
	wg.Wait()
}

func (m *Monitor) evaluateHook(ctx context.Context, h Hook) {
	now := nowMS()

	m.mu.Lock()
	prior := m.state.Hooks[h.Name]
	cooldown := h.CooldownMS
	if cooldown <= 0 {
		cooldown = DefaultCooldownMS
	}
	if prior != nil && prior.LastTriggered != 0 && now-prior.LastTriggered < cooldown {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	eval := evaluate(ctx, h.Event, prior)

	m.mu.Lock()
	state, ok := m.state.Hooks[h.Name]
	if !ok {
		state = &EventState{}
		m.state.Hooks[h.Name] = state
	}
	state.LastChecked = now
	if eval.Value != "" {
		state.LastValue = eval.Value
		state.LastStatus = eval.Triggered
		state.HasValue = true
	}
	m.persistLocked()
	m.mu.Unlock()

	if !eval.Triggered || eval.Message == "" {
		return
	}

	m.mu.Lock()
	state.LastTriggered = now
	state.TriggerCount++
	m.persistLocked()
	m.mu.Unlock()
	if m.Metrics != nil {
		m.Metrics.HookTriggers.WithLabelValues(h.Name).Inc()
	}

	if m.dispatch != nil {
		if _, err := m.dispatch(ctx, h.Prompt); err != nil {
			m.logger.Error("hook dispatch failed", "hook", h.Name, "error", err)
		}
	}

	if len(h.NotifyPeers) > 0 && m.notify != nil {
		prompt := h.PeerPrompt
		if prompt == "" {
			prompt = h.Prompt
		}
		for _, peer := range h.NotifyPeers {
			go m.notifyWithRetry(ctx, peer, prompt)
		}
	}
}

// Snapshot returns a copy of the monitor's full persisted state, for
// reporting over /v1/scheduler (spec §6).
func (m *Monitor) Snapshot() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	hooks := make(map[string]*EventState, len(m.state.Hooks))
	for name, st := range m.state.Hooks {
		copied := *st
		hooks[name] = &copied
	}
	return Document{Hooks: hooks}
}

func (m *Monitor) persistLocked() {
	if m.persist == nil {
		return
	}
	if err := m.persist(m.state); err != nil {
		m.logger.Error("persisting event state failed", "error", err)
	}
}

// notifyWithRetry implements spec §4.5's peer-notify backoff: a first
// attempt plus up to 3 retries (4 attempts in all), sleeping 1s, 3s, 5s
// before the successive retries.
func (m *Monitor) notifyWithRetry(ctx context.Context, peer, prompt string) {
	delays := []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}
	policy := backoff.WithMaxRetries(&fixedDelayBackOff{delays: delays}, uint64(len(delays)))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := m.notify(ctx, peer, prompt)
		if err != nil {
			m.logger.Warn("hook peer notify attempt failed", "peer", peer, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		m.logger.Error("hook peer notify exhausted retries", "peer", peer, "attempts", attempt, "error", err)
	}
}

// fixedDelayBackOff replays a fixed list of delays (1s, 3s, 5s) rather than
// the library's default exponential curve, matching spec §4.5 exactly.
type fixedDelayBackOff struct {
	delays []time.Duration
	idx    int
}

func (b *fixedDelayBackOff) NextBackOff() time.Duration {
	if b.idx >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.idx]
	b.idx++
	return d
}

func (b *fixedDelayBackOff) Reset() { b.idx = 0 }

var _ backoff.BackOff = (*fixedDelayBackOff)(nil)
