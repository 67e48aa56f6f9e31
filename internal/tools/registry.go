package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Registry is a process-wide, thread-safe mapping from tool name to Tool.
// Lookups, registration, and deregistration are all idempotent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by its definition name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// RegisterExternal registers a dynamically-discovered (MCP) tool, prefixing
// its name so it cannot collide with a built-in, and wrapping it so its
// declared parameter schema is enforced against every call before Execute
// runs — a remote tool server is not a trusted caller.
func (r *Registry) RegisterExternal(t Tool) (string, error) {
	wrapped, err := Wrap(t)
	if err != nil {
		return "", fmt.Errorf("registering external tool: %w", err)
	}

	name := t.Definition().Name
	if !strings.HasPrefix(name, ExternalToolPrefix) {
		name = ExternalToolPrefix + name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &renamedTool{Tool: wrapped, name: name}
	return name, nil
}

// Unregister removes a tool by name. A no-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the definitions of every registered tool, for passing
// to an LLM provider.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

type renamedTool struct {
	Tool
	name string
}

func (t *renamedTool) Definition() Definition {
	d := t.Tool.Definition()
	d.Name = t.name
	return d
}

// RequiresConfirmation passes through to the wrapped tool for the same
// reason ValidatingTool does: embedding Tool only promotes Tool's own
// methods, not ConfirmableTool's.
func (t *renamedTool) RequiresConfirmation(args json.RawMessage) bool {
	if ct, ok := t.Tool.(ConfirmableTool); ok {
		return ct.RequiresConfirmation(args)
	}
	return false
}
