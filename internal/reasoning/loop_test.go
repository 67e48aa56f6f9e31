package reasoning

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/meshagent/meshnode/internal/tools"
)

// scriptedProvider emits the configured chunks for each Stream call it
// receives, in order, one call's worth per invocation.
type scriptedProvider struct {
	turns [][]Chunk
	calls int
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []Message, specs []ToolSpec) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, len(p.turns[p.calls]))
	errs := make(chan error, 1)
	for _, c := range p.turns[p.calls] {
		out <- c
	}
	close(out)
	close(errs)
	p.calls++
	return out, errs
}

type stubBashTool struct{}

func (stubBashTool) Definition() tools.Definition {
	return tools.Definition{Name: "bash", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (stubBashTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return "hi\n", nil
}

func TestRunBasicToolUse(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Chunk{
		{{ToolCall: &ToolCall{ID: "1", Name: "bash", Arguments: json.RawMessage(`{"command":"echo hi"}`)}}},
		{{Text: "done"}},
	}}
	registry := tools.NewRegistry()
	registry.Register(stubBashTool{})

	result, err := Run(context.Background(), provider, registry, []Message{{Role: "user", Content: "say hi"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "done" {
		t.Fatalf("expected final text %q, got %q", "done", result.Text)
	}
	if len(result.Executed) != 1 || result.Executed[0].Call.Name != "bash" || result.Executed[0].Result.Content != "hi\n" {
		t.Fatalf("unexpected executed tools: %#v", result.Executed)
	}
	if result.Truncated {
		t.Fatal("expected run to complete before MaxIterations")
	}
}

func TestRunNeverExceedsMaxIterations(t *testing.T) {
	// Every turn emits another tool call; the model never stops asking.
	call := Chunk{ToolCall: &ToolCall{ID: "x", Name: "bash", Arguments: json.RawMessage(`{"command":"echo hi"}`)}}
	turns := make([][]Chunk, MaxIterations)
	for i := range turns {
		turns[i] = []Chunk{call}
	}
	provider := &scriptedProvider{turns: turns}
	registry := tools.NewRegistry()
	registry.Register(stubBashTool{})

	result, err := Run(context.Background(), provider, registry, []Message{{Role: "user", Content: "loop forever"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Iterations != MaxIterations {
		t.Fatalf("expected %d iterations, got %d", MaxIterations, result.Iterations)
	}
	if !result.Truncated {
		t.Fatal("expected Truncated to be true when the model never stops calling tools")
	}
	if len(result.Executed) != MaxIterations {
		t.Fatalf("expected %d executed tool calls, got %d", MaxIterations, len(result.Executed))
	}
}

func TestRunUnknownToolStillCountsAsExecuted(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Chunk{
		{{ToolCall: &ToolCall{ID: "1", Name: "does_not_exist"}}},
		{{Text: "ok"}},
	}}
	registry := tools.NewRegistry()

	result, err := Run(context.Background(), provider, registry, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Executed) != 1 || !result.Executed[0].Result.IsError {
		t.Fatalf("expected one error result, got %#v", result.Executed)
	}
	if result.Text != "ok" {
		t.Fatalf("expected final text %q, got %q", "ok", result.Text)
	}
}
