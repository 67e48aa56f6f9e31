package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/meshagent/meshnode/internal/config"
)

func TestParseScheduleGrammar(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"@every 30s", 30 * time.Second},
		{"@every 5m", 5 * time.Minute},
		{"@every 2h", 2 * time.Hour},
		{"@hourly", time.Hour},
		{"@daily", 24 * time.Hour},
		{"@weekly", 7 * 24 * time.Hour},
		{"*/15 * * * *", 15 * time.Minute},
		{"garbage", 300 * time.Second},
	}
	for _, c := range cases {
		got := ParseSchedule(c.in, nil)
		if got != c.want {
			t.Errorf("ParseSchedule(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func setClock(ms int64) func() {
	prev := nowMS
	nowMS = func() int64 { return ms }
	return func() { nowMS = prev }
}

func TestSkipByMaxLoad(t *testing.T) {
	restore := setClock(1000)
	defer restore()

	maxLoad := 0.5
	task := config.ScheduledTask{
		Name:      "watch",
		Schedule:  "@every 1m",
		Enabled:   true,
		Condition: &config.TaskCondition{MaxLoad: &maxLoad},
	}
	dispatchCalled := false
	dispatch := func(ctx context.Context, prompt string) (string, error) {
		dispatchCalled = true
		return "", nil
	}

	s := New([]config.ScheduledTask{task}, dispatch, nil, func() float64 { return 0.9 }, nil, nil)
	s.Tick(context.Background())

	st := s.TaskState("watch")
	if st.LastResult != ResultSkipped {
		t.Fatalf("expected skipped, got %q", st.LastResult)
	}
	if !strings.Contains(st.LastResponse, "0.90 > maxLoad 0.5") {
		t.Fatalf("lastResponse = %q, want substring %q", st.LastResponse, "0.90 > maxLoad 0.5")
	}
	if dispatchCalled {
		t.Fatal("dispatch must not run when the task is skipped by condition")
	}
}

func TestSuccessfulDispatch(t *testing.T) {
	restore := setClock(1000)
	defer restore()

	task := config.ScheduledTask{Name: "t", Schedule: "@every 1m", Enabled: true, Prompt: "do it"}
	dispatch := func(ctx context.Context, prompt string) (string, error) {
		return "done: " + prompt, nil
	}
	s := New([]config.ScheduledTask{task}, dispatch, nil, nil, nil, nil)
	s.Tick(context.Background())

	st := s.TaskState("t")
	if st.LastResult != ResultSuccess || st.LastResponse != "done: do it" || st.RunCount != 1 {
		t.Fatalf("unexpected state: %#v", st)
	}
}

func TestIntervalGatesReExecution(t *testing.T) {
	restore := setClock(1000)
	defer restore()

	task := config.ScheduledTask{Name: "t", Schedule: "@every 1m", Enabled: true, Prompt: "p"}
	calls := 0
	dispatch := func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "ok", nil
	}
	s := New([]config.ScheduledTask{task}, dispatch, nil, nil, nil, nil)
	s.Tick(context.Background())
	s.Tick(context.Background()) // same instant, well within the 1m interval
	if calls != 1 {
		t.Fatalf("expected 1 dispatch within the interval, got %d", calls)
	}

	restore()
	restore = setClock(61_000)
	s.Tick(context.Background())
	if calls != 2 {
		t.Fatalf("expected a second dispatch once the interval elapsed, got %d", calls)
	}
}

func TestHandoffWhenOverloaded(t *testing.T) {
	restore := setClock(1000)
	defer restore()

	task := config.ScheduledTask{
		Name:     "t",
		Schedule: "@every 1m",
		Enabled:  true,
		Prompt:   "p",
		Handoff:  &config.TaskHandoff{Enabled: true, LoadThreshold: 0},
	}
	handoffCalled := false
	handoff := func(ctx context.Context, peers []string, prompt string) (string, string, error) {
		handoffCalled = true
		return "peerA", "handled", nil
	}
	s := New([]config.ScheduledTask{task}, nil, handoff, func() float64 { return 0.1 }, nil, nil)
	s.Tick(context.Background())

	if !handoffCalled {
		t.Fatal("expected handoff to be invoked")
	}
	st := s.TaskState("t")
	if st.LastResult != ResultHandoff {
		t.Fatalf("expected handoff result, got %q", st.LastResult)
	}
}
