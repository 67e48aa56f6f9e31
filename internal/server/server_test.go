package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshagent/meshnode/internal/handoff"
	"github.com/meshagent/meshnode/internal/hooks"
	"github.com/meshagent/meshnode/internal/knowledgesync"
	"github.com/meshagent/meshnode/internal/memory"
	"github.com/meshagent/meshnode/internal/reasoning"
	"github.com/meshagent/meshnode/internal/scheduler"
	"github.com/meshagent/meshnode/internal/tools"
)

type stubSchedulerView struct {
	states map[string]scheduler.TaskState
}

func (s stubSchedulerView) TaskState(name string) scheduler.TaskState {
	return s.states[name]
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	return New(cfg)
}

func TestHealthIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t, Config{Version: "1.2.3"})

	req := httptest.NewRequest(http.MethodGet, "/v1/fleet/health", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Version)
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, Config{Token: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsCorrectToken(t *testing.T) {
	srv := newTestServer(t, Config{Token: "secret", Models: []string{"node-local"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].([]any)
	require.Len(t, data, 1)
}

func TestChatCompletionsReturnsAssistantMessage(t *testing.T) {
	chat := func(ctx context.Context, messages []reasoning.Message) (reasoning.Result, error) {
		return reasoning.Result{Text: "hello there"}, nil
	}
	srv := newTestServer(t, Config{Token: "secret", Chat: chat})

	payload, _ := json.Marshal(map[string]any{
		"model":    "node-local",
		"messages": []reasoning.Message{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	choices := body["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	msg := choice["message"].(map[string]any)
	assert.Equal(t, "hello there", msg["content"])
}

func TestChatCompletionsTruncatedReportsLengthFinishReason(t *testing.T) {
	chat := func(ctx context.Context, messages []reasoning.Message) (reasoning.Result, error) {
		return reasoning.Result{Text: "partial", Truncated: true}, nil
	}
	srv := newTestServer(t, Config{Token: "secret", Chat: chat})

	payload, _ := json.Marshal(map[string]any{"messages": []reasoning.Message{{Role: "user", Content: "hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	choice := body["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "length", choice["finish_reason"])
}

func TestFleetExecuteShapesToolsExecuted(t *testing.T) {
	fleetExecute := func(ctx context.Context, messages []reasoning.Message) (reasoning.Result, error) {
		require.Len(t, messages, 1)
		assert.Equal(t, "run the thing", messages[0].Content)
		return reasoning.Result{
			Text: "done",
			Executed: []reasoning.ToolExecution{
				{
					Call:   tools.Call{ID: "call-1", Name: "bash"},
					Result: tools.Result{ToolCallID: "call-1", Content: "ok"},
				},
			},
		}, nil
	}
	srv := newTestServer(t, Config{Token: "secret", FleetExecute: fleetExecute})

	payload, _ := json.Marshal(map[string]any{"prompt": "run the thing"})
	req := httptest.NewRequest(http.MethodPost, "/v1/fleet/execute", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "done", body["response"])
	executed := body["tools_executed"].([]any)
	require.Len(t, executed, 1)
	entry := executed[0].(map[string]any)
	assert.Equal(t, "bash", entry["name"])
	assert.Equal(t, "ok", entry["result"])
}

func TestSchedulerStatusReportsEachTask(t *testing.T) {
	view := stubSchedulerView{states: map[string]scheduler.TaskState{
		"cleanup": {LastResult: scheduler.ResultSuccess, RunCount: 3},
	}}
	srv := newTestServer(t, Config{Token: "secret", Scheduler: view, TaskNames: []string{"cleanup"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduler", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "cleanup", task["name"])
	assert.Equal(t, float64(3), task["runCount"])
}

func TestSchedulerStatusIncludesSubsystemStats(t *testing.T) {
	srv := newTestServer(t, Config{
		Token: "secret",
		HandoffStats: func() handoff.State {
			return handoff.State{LastPeerIndex: 2, PeerStats: map[string]*handoff.PeerStats{
				"peer-a": {Handoffs: 5},
			}}
		},
		KnowledgeSyncStats: func() knowledgesync.Document {
			return knowledgesync.Document{Peers: map[string]*knowledgesync.PeerSyncState{
				"peer-a": {SyncCount: 7},
			}}
		},
		MemoryStats: func() memory.Stats {
			return memory.Stats{LocalCount: 4, SharedCount: map[string]int{"peer-a": 2}}
		},
		EventHookStats: func() hooks.Document {
			return hooks.Document{Hooks: map[string]*hooks.EventState{
				"disk-full": {TriggerCount: 1},
			}}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduler", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["enabled"])

	handoffBody := body["handoff"].(map[string]any)
	assert.Equal(t, float64(2), handoffBody["lastPeerIndex"])

	syncBody := body["knowledgeSync"].(map[string]any)
	peers := syncBody["peers"].(map[string]any)
	assert.Contains(t, peers, "peer-a")

	memBody := body["memory"].(map[string]any)
	assert.Equal(t, float64(4), memBody["localCount"])

	hooksBody := body["eventHooks"].(map[string]any)
	hookPeers := hooksBody["hooks"].(map[string]any)
	assert.Contains(t, hookPeers, "disk-full")
}

func TestSchedulerStatusOmitsTasksWhenSchedulerUnset(t *testing.T) {
	srv := newTestServer(t, Config{Token: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduler", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["enabled"])
	assert.Empty(t, body["tasks"])
}

func TestChatCompletionsStreamsSSEWhenRequested(t *testing.T) {
	chat := func(ctx context.Context, messages []reasoning.Message) (reasoning.Result, error) {
		return reasoning.Result{Text: "hello there"}, nil
	}
	srv := newTestServer(t, Config{Token: "secret", Chat: chat})

	payload, _ := json.Marshal(map[string]any{
		"messages": []reasoning.Message{{Role: "user", Content: "hi"}},
		"stream":   true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"object":"chat.completion.chunk"`)
	assert.Contains(t, body, "hello there")
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestNoRouteReturns404JSON(t *testing.T) {
	srv := newTestServer(t, Config{Token: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errBody["type"])
}
