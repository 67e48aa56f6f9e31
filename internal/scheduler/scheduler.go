package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meshagent/meshnode/internal/config"
	"github.com/meshagent/meshnode/internal/metrics"
	"github.com/meshagent/meshnode/internal/statefile"
)

// Result values for TaskState.LastResult (spec §3).
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultHandoff = "handoff"
)

// maxResponseChars truncates a recorded response per spec §4.6 step 5.
const maxResponseChars = 500

// TaskState is the persisted per-task state (spec §3).
type TaskState struct {
	LastRun      int64  `json:"lastRun,omitempty"`
	LastResult   string `json:"lastResult,omitempty"`
	LastResponse string `json:"lastResponse,omitempty"`
	RunCount     int    `json:"runCount"`
	ErrorCount   int    `json:"errorCount"`
}

// Document is the on-disk scheduler-state.json shape.
type Document struct {
	Tasks map[string]*TaskState `json:"tasks"`
}

// Dispatch executes prompt locally via the reasoning loop.
type Dispatch func(ctx context.Context, prompt string) (string, error)

// Handoff picks a peer (per spec §4.7) and runs prompt against it, returning
// the peer actually used and the raw response.
type Handoff func(ctx context.Context, peers []string, prompt string) (peer string, response string, err error)

// LoadReader reports the node's current normalized load (spec §4.6 step 3).
type LoadReader func() float64

var nowMS = func() int64 { return time.Now().UnixMilli() }

// Scheduler drives config.ScheduledTask entries off a single master ticker.
type Scheduler struct {
	tasks    []config.ScheduledTask
	dispatch Dispatch
	handoff  Handoff
	loadFn   LoadReader
	logger   *slog.Logger

	// Metrics, if set, receives a mesh_scheduler_task_runs_total increment
	// per dispatch. Left nil in tests; wired by the daemon at startup.
	Metrics *metrics.Metrics

	mu    sync.Mutex
	state Document

	persist func(Document) error

	running sync.Mutex
}

// New constructs a Scheduler over tasks.
func New(tasks []config.ScheduledTask, dispatch Dispatch, handoff Handoff, loadFn LoadReader, logger *slog.Logger, persist func(Document) error) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loadFn == nil {
		loadFn = func() float64 { return 0 }
	}
	return &Scheduler{
		tasks:    tasks,
		dispatch: dispatch,
		handoff:  handoff,
		loadFn:   loadFn,
		logger:   logger,
		state:    Document{Tasks: make(map[string]*TaskState)},
		persist:  persist,
	}
}

// OpenAt loads scheduler-state.json at path (tolerating a missing file) and
// wires persistence back to it.
func OpenAt(path string, tasks []config.ScheduledTask, dispatch Dispatch, handoff Handoff, loadFn LoadReader, logger *slog.Logger) (*Scheduler, error) {
	var doc Document
	if err := statefile.Load(path, &doc); err != nil {
		doc = Document{}
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*TaskState)
	}
	s := New(tasks, dispatch, handoff, loadFn, logger, func(d Document) error {
		return statefile.Save(path, d)
	})
	s.state = doc
	return s, nil
}

func (s *Scheduler) persistLocked() {
	if s.persist == nil {
		return
	}
	if err := s.persist(s.state); err != nil {
		s.logger.Error("persisting scheduler state failed", "error", err)
	}
}

func (s *Scheduler) stateFor(name string) *TaskState {
	st, ok := s.state.Tasks[name]
	if !ok {
		st = &TaskState{}
		s.state.Tasks[name] = st
	}
	return st
}

// Tick evaluates every enabled task once, sequentially (spec §5 permits
// sequential evaluation within a tick). If a previous Tick is still
// running, this call is skipped (non-overlap discipline).
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("scheduler tick skipped: previous tick still running")
		return
	}
	defer s.running.Unlock()

	for _, task := range s.tasks {
		if !task.Enabled {
			continue
		}
		s.runTask(ctx, task)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task config.ScheduledTask) {
	now := nowMS()
	interval := ParseSchedule(task.Schedule, s.logger).Milliseconds()

	s.mu.Lock()
	st := s.stateFor(task.Name)
	if st.LastRun != 0 && now-st.LastRun < interval {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	currentLoad := s.loadFn()

	if task.Condition != nil {
		if task.Condition.MaxLoad != nil && currentLoad > *task.Condition.MaxLoad {
			s.recordSkip(task.Name, now, describeLoadSkip(currentLoad, *task.Condition.MaxLoad, "maxLoad"))
			return
		}
		if task.Condition.MinLoad != nil && currentLoad < *task.Condition.MinLoad {
			s.recordSkip(task.Name, now, describeLoadSkip(currentLoad, *task.Condition.MinLoad, "minLoad"))
			return
		}
	}

	if task.Handoff != nil && task.Handoff.Enabled && currentLoad > task.Handoff.LoadThreshold && s.handoff != nil {
		prompt := task.Handoff.Prompt
		if prompt == "" {
			prompt = task.Prompt
		}
		peer, response, err := s.handoff(ctx, task.Handoff.Peers, prompt)
		if err != nil {
			s.recordResult(task.Name, now, ResultHandoff, "handoff to "+peer+" failed: "+err.Error())
			return
		}
		s.recordResult(task.Name, now, ResultHandoff, truncate(response))
		return
	}

	if s.dispatch == nil {
		s.recordResult(task.Name, now, ResultError, "no dispatch configured")
		return
	}
	response, err := s.dispatch(ctx, task.Prompt)
	if err != nil {
		s.recordError(task.Name, now, truncate(err.Error()))
		return
	}
	s.recordResult(task.Name, now, ResultSuccess, truncate(response))
}

func (s *Scheduler) recordSkip(name string, now int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(name)
	st.LastRun = now
	st.LastResult = ResultSkipped
	st.LastResponse = reason
	s.persistLocked()
	s.recordMetric(ResultSkipped)
}

func (s *Scheduler) recordResult(name string, now int64, result, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(name)
	st.LastRun = now
	st.LastResult = result
	st.LastResponse = response
	st.RunCount++
	s.persistLocked()
	s.recordMetric(result)
}

func (s *Scheduler) recordMetric(result string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.SchedulerTaskRuns.WithLabelValues(result).Inc()
}

func (s *Scheduler) recordError(name string, now int64, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(name)
	st.LastRun = now
	st.LastResult = ResultError
	st.LastResponse = response
	st.RunCount++
	st.ErrorCount++
	s.persistLocked()
	s.recordMetric(ResultError)
}

// TaskState returns a copy of name's current state (zero value if unseen).
func (s *Scheduler) TaskState(name string) TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state.Tasks[name]; ok {
		return *st
	}
	return TaskState{}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxResponseChars {
		return s
	}
	return s[:maxResponseChars]
}
