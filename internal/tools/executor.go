package tools

import (
	"context"
	"fmt"
)

// Execute resolves call.Name in the registry and runs it per the contract in
// spec §4.2:
//  1. unknown tool -> error result
//  2. if the tool requires confirmation and confirm is non-nil, ask; a
//     refusal produces a cancellation result
//  3. execute; a returned error becomes an error result
func Execute(ctx context.Context, registry *Registry, call Call, confirm ConfirmFunc) Result {
	t, ok := registry.Get(call.Name)
	if !ok {
		return Result{ToolCallID: call.ID, Content: "Unknown tool: " + call.Name, IsError: true}
	}

	if ct, ok := t.(ConfirmableTool); ok && confirm != nil && ct.RequiresConfirmation(call.Arguments) {
		if !confirm(ctx, call) {
			return Result{ToolCallID: call.ID, Content: "Command cancelled by user", IsError: true}
		}
	}

	content, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		return Result{ToolCallID: call.ID, Content: fmt.Sprintf("Error: %s", err.Error()), IsError: true}
	}
	return Result{ToolCallID: call.ID, Content: content, IsError: false}
}
