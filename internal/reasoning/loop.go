package reasoning

import (
	"context"
	"fmt"

	"github.com/meshagent/meshnode/internal/tools"
)

// MaxIterations bounds the reasoning loop (spec §4.3). A run that still has
// pending tool calls after this many iterations stops and returns whatever
// text has accumulated so far rather than looping forever.
const MaxIterations = 10

// ToolExecution records one tool call made during a Run, in emission order,
// for callers that want to inspect or log what happened.
type ToolExecution struct {
	Call   tools.Call
	Result tools.Result
}

// Result is the outcome of a bounded reasoning run.
type Result struct {
	Text      string
	Executed  []ToolExecution
	Iterations int
	Truncated bool // true if MaxIterations was reached with tool calls still pending
}

// Run drives provider with the given seed messages and registered tools,
// executing each emitted tool call against registry (in emission order,
// confirming via confirm when the tool requires it) and feeding results back
// as additional messages, until the provider emits no more tool calls or
// MaxIterations is reached.
//
// Text chunks are passed through a ThinkFilter so that <think>...</think>
// reasoning never reaches the returned text.
func Run(ctx context.Context, provider Provider, registry *tools.Registry, messages []Message, confirm tools.ConfirmFunc) (Result, error) {
	specs := toolSpecs(registry)
	conversation := append([]Message(nil), messages...)

	var out Result
	for iteration := 1; iteration <= MaxIterations; iteration++ {
		out.Iterations = iteration

		text, calls, err := consume(ctx, provider, conversation, specs)
		if err != nil {
			return out, fmt.Errorf("reasoning iteration %d: %w", iteration, err)
		}
		out.Text = text

		if len(calls) == 0 {
			return out, nil
		}

		conversation = append(conversation, Message{Role: "assistant", Content: text})
		for _, c := range calls {
			call := tools.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
			res := tools.Execute(ctx, registry, call, confirm)
			out.Executed = append(out.Executed, ToolExecution{Call: call, Result: res})
			conversation = append(conversation, Message{
				Role:       "tool",
				Content:    res.Content,
				ToolCallID: res.ToolCallID,
				Name:       c.Name,
			})
		}
	}

	out.Truncated = true
	return out, nil
}

// consume drains a single provider.Stream call to completion, applying the
// think-filter to text chunks and collecting whole tool calls in emission
// order.
func consume(ctx context.Context, provider Provider, messages []Message, specs []ToolSpec) (string, []ToolCall, error) {
	chunks, errs := provider.Stream(ctx, messages, specs)
	filter := NewThinkFilter()

	var text string
	var calls []ToolCall
	for {
		select {
		case <-ctx.Done():
			return text, calls, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				text += filter.Flush()
				return text, calls, drainErr(errs)
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
				continue
			}
			text += filter.Feed(chunk.Text)
		case err, ok := <-errs:
			if ok && err != nil {
				return text, calls, err
			}
		}
	}
}

func drainErr(errs <-chan error) error {
	select {
	case err, ok := <-errs:
		if ok {
			return err
		}
	default:
	}
	return nil
}

func toolSpecs(registry *tools.Registry) []ToolSpec {
	defs := registry.Definitions()
	specs := make([]ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return specs
}
