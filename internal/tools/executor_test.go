package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubTool struct {
	def     Definition
	result  string
	err     error
	confirm bool
}

func (s *stubTool) Definition() Definition { return s.def }

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return s.result, s.err
}

func (s *stubTool) RequiresConfirmation(args json.RawMessage) bool { return s.confirm }

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := Execute(context.Background(), reg, Call{ID: "1", Name: "nope"}, nil)
	if !res.IsError || res.Content != "Unknown tool: nope" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{def: Definition{Name: "echo"}, result: "ok"})
	res := Execute(context.Background(), reg, Call{ID: "1", Name: "echo"}, nil)
	if res.IsError || res.Content != "ok" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestExecuteToolError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{def: Definition{Name: "boom"}, err: errors.New("kaboom")})
	res := Execute(context.Background(), reg, Call{ID: "1", Name: "boom"}, nil)
	if !res.IsError || res.Content != "Error: kaboom" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestExecuteConfirmationRefused(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{def: Definition{Name: "danger"}, confirm: true, result: "should not run"})
	res := Execute(context.Background(), reg, Call{ID: "1", Name: "danger"}, func(ctx context.Context, call Call) bool {
		return false
	})
	if !res.IsError || res.Content != "Command cancelled by user" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestExecuteConfirmationApproved(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{def: Definition{Name: "danger"}, confirm: true, result: "ran"})
	res := Execute(context.Background(), reg, Call{ID: "1", Name: "danger"}, func(ctx context.Context, call Call) bool {
		return true
	})
	if res.IsError || res.Content != "ran" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

var searchToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"query": {"type": "string"}},
	"required": ["query"],
	"additionalProperties": false
}`)

func TestRegisterExternalPrefixesName(t *testing.T) {
	reg := NewRegistry()
	name, err := reg.RegisterExternal(&stubTool{def: Definition{Name: "search", Parameters: searchToolSchema}, result: "x"})
	if err != nil {
		t.Fatalf("RegisterExternal: %v", err)
	}
	if name != "mcp__search" {
		t.Fatalf("expected prefixed name, got %q", name)
	}
	if _, ok := reg.Get("mcp__search"); !ok {
		t.Fatal("tool not registered under prefixed name")
	}
}

func TestRegisterExternalRejectsCallViolatingSchema(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.RegisterExternal(&stubTool{def: Definition{Name: "search", Parameters: searchToolSchema}, result: "should not run"}); err != nil {
		t.Fatalf("RegisterExternal: %v", err)
	}

	res := Execute(context.Background(), reg, Call{ID: "1", Name: "mcp__search", Arguments: json.RawMessage(`{"wrong_field":"x"}`)}, nil)
	if !res.IsError {
		t.Fatalf("expected a schema-validation error, got success: %#v", res)
	}
}

func TestShellToolDangerousPatterns(t *testing.T) {
	tool := NewShellTool()
	cases := []struct {
		cmd     string
		confirm bool
	}{
		{"echo hello", false},
		{"rm -rf /tmp/foo", true},
		{"sudo apt-get update", true},
		{"systemctl stop nginx", true},
		{"reboot", true},
		{"chmod 777 /etc/passwd", true},
		{"ls -la", false},
	}
	for _, c := range cases {
		args, _ := json.Marshal(map[string]string{"command": c.cmd})
		if got := tool.RequiresConfirmation(args); got != c.confirm {
			t.Errorf("command %q: RequiresConfirmation = %v, want %v", c.cmd, got, c.confirm)
		}
	}
}

func TestFileEditAlwaysRequiresConfirmation(t *testing.T) {
	tool := &FileEditTool{}
	if !tool.RequiresConfirmation(json.RawMessage(`{}`)) {
		t.Fatal("file_edit must always require confirmation")
	}
}
