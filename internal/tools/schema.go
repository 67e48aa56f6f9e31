package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidatingTool wraps a Tool, rejecting calls whose arguments do not
// conform to the wrapped tool's declared JSON-schema parameters before
// Execute ever runs. Built-in tools are registered bare (the model is
// expected to respect their schema); external MCP tools are wrapped with
// this so a misbehaving remote tool server cannot feed garbage straight
// through to Execute.
type ValidatingTool struct {
	Tool
	schema *jsonschema.Schema
}

// Wrap compiles t's declared parameter schema and returns a tool that
// validates arguments against it before delegating to t.Execute.
func Wrap(t Tool) (*ValidatingTool, error) {
	def := t.Definition()
	compiler := jsonschema.NewCompiler()
	if len(def.Parameters) > 0 {
		if err := compiler.AddResource(def.Name+".json", bytes.NewReader(def.Parameters)); err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", def.Name, err)
		}
	} else {
		return nil, fmt.Errorf("tool %s has no parameter schema", def.Name)
	}
	schema, err := compiler.Compile(def.Name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", def.Name, err)
	}
	return &ValidatingTool{Tool: t, schema: schema}, nil
}

func (v *ValidatingTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return "", fmt.Errorf("arguments do not match schema: %w", err)
	}
	return v.Tool.Execute(ctx, args)
}

// RequiresConfirmation passes through to the wrapped tool's own gating, if
// it implements ConfirmableTool. Go does not promote this method through the
// embedded Tool field on its own, since RequiresConfirmation belongs to the
// separate ConfirmableTool interface rather than Tool.
func (v *ValidatingTool) RequiresConfirmation(args json.RawMessage) bool {
	if ct, ok := v.Tool.(ConfirmableTool); ok {
		return ct.RequiresConfirmation(args)
	}
	return false
}
