package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meshagent/meshnode/internal/memory"
)

// MemoryWriteTool exposes memory.Store.Write as a tool (§4.2's list of
// memory-management tools registered at startup).
type MemoryWriteTool struct {
	Store *memory.Store
}

func (t *MemoryWriteTool) Definition() Definition {
	return Definition{
		Name:        "memory_write",
		Description: "Persist a new memory to the local knowledge base.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string", "enum": ["learning", "solution", "observation", "note"]},
				"title": {"type": "string"},
				"content": {"type": "string"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"context": {"type": "string"},
				"ttl_ms": {"type": "integer", "minimum": 0}
			},
			"required": ["category", "title", "content"]
		}`),
	}
}

func (t *MemoryWriteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Category string   `json:"category"`
		Title    string   `json:"title"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags"`
		Context  string   `json:"context"`
		TTLMs    int64    `json:"ttl_ms"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	m := t.Store.Write(memory.Category(in.Category), in.Title, in.Content, in.Tags, in.Context, in.TTLMs)
	out, _ := json.Marshal(m)
	return string(out), nil
}

// MemoryUpdateTool exposes memory.Store.Update, valid on local memories only.
type MemoryUpdateTool struct {
	Store *memory.Store
}

func (t *MemoryUpdateTool) Definition() Definition {
	return Definition{
		Name:        "memory_update",
		Description: "Update title/content/tags/context on an existing local memory.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"title": {"type": "string"},
				"content": {"type": "string"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"context": {"type": "string"}
			},
			"required": ["id"]
		}`),
	}
}

func (t *MemoryUpdateTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		ID      string   `json:"id"`
		Title   *string  `json:"title"`
		Content *string  `json:"content"`
		Tags    []string `json:"tags"`
		Context *string  `json:"context"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	updated := t.Store.Update(in.ID, func(m *memory.Memory) {
		if in.Title != nil {
			m.Title = *in.Title
		}
		if in.Content != nil {
			m.Content = *in.Content
		}
		if in.Tags != nil {
			m.Tags = in.Tags
		}
		if in.Context != nil {
			m.Context = *in.Context
		}
	})
	if updated == nil {
		return "", fmt.Errorf("memory not found: %s", in.ID)
	}
	out, _ := json.Marshal(updated)
	return string(out), nil
}

// MemoryReadTool exposes memory.Store.Read.
type MemoryReadTool struct {
	Store *memory.Store
}

func (t *MemoryReadTool) Definition() Definition {
	return Definition{
		Name:        "memory_read",
		Description: "List memories, optionally filtered by category or tags.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"limit": {"type": "integer", "minimum": 1},
				"include_shared": {"type": "boolean"}
			}
		}`),
	}
}

func (t *MemoryReadTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Category      string   `json:"category"`
		Tags          []string `json:"tags"`
		Limit         int      `json:"limit"`
		IncludeShared *bool    `json:"include_shared"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	includeShared := true
	if in.IncludeShared != nil {
		includeShared = *in.IncludeShared
	}
	results := t.Store.Read(memory.ReadFilter{
		Category:      memory.Category(in.Category),
		Tags:          in.Tags,
		Limit:         in.Limit,
		IncludeShared: includeShared,
	})
	out, _ := json.Marshal(results)
	return string(out), nil
}

// MemorySearchTool exposes memory.Store.Search.
type MemorySearchTool struct {
	Store *memory.Store
}

func (t *MemorySearchTool) Definition() Definition {
	return Definition{
		Name:        "memory_search",
		Description: "Search memories by case-insensitive substring over title, content, tags, and context.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"category": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1}
			},
			"required": ["query"]
		}`),
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query    string `json:"query"`
		Category string `json:"category"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	results := t.Store.Search(in.Query, memory.SearchOptions{
		Category:      memory.Category(in.Category),
		Limit:         in.Limit,
		IncludeShared: true,
	})
	out, _ := json.Marshal(results)
	return string(out), nil
}

// MemoryDeleteTool exposes memory.Store.Delete, local only.
type MemoryDeleteTool struct {
	Store *memory.Store
}

func (t *MemoryDeleteTool) Definition() Definition {
	return Definition{
		Name:        "memory_delete",
		Description: "Delete a local memory by id.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"id": {"type": "string"}},
			"required": ["id"]
		}`),
	}
}

func (t *MemoryDeleteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if !t.Store.Delete(in.ID) {
		return "", fmt.Errorf("memory not found: %s", in.ID)
	}
	return fmt.Sprintf("deleted %s", in.ID), nil
}
