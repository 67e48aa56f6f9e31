package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meshagent/meshnode/internal/handoff"
	"github.com/meshagent/meshnode/internal/hooks"
	"github.com/meshagent/meshnode/internal/knowledgesync"
	"github.com/meshagent/meshnode/internal/memory"
	"github.com/meshagent/meshnode/internal/reasoning"
)

func (s *Server) handleHealth(c *gin.Context) {
	if s.cfg.HealthInfoFunc == nil {
		c.JSON(http.StatusOK, HealthInfo{Status: "ok", Version: s.cfg.Version, Timestamp: time.Now().UnixMilli()})
		return
	}
	c.JSON(http.StatusOK, s.cfg.HealthInfoFunc())
}

func (s *Server) handleModels(c *gin.Context) {
	data := make([]gin.H, 0, len(s.cfg.Models))
	for _, m := range s.cfg.Models {
		data = append(data, gin.H{"id": m, "object": "model"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// chatRequest mirrors the OpenAI-compatible request body (spec §6).
type chatRequest struct {
	Model    string              `json:"model,omitempty"`
	Messages []reasoning.Message `json:"messages"`
	Stream   bool                `json:"stream,omitempty"`
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request"))
		return
	}
	if s.cfg.Chat == nil {
		c.JSON(http.StatusInternalServerError, errorBody("chat backend not configured", "server_error"))
		return
	}
	result, err := s.cfg.Chat(c.Request.Context(), req.Messages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}

	if req.Stream {
		s.streamChatCompletion(c, req, result)
		return
	}

	resp := gin.H{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []gin.H{{
			"index":         0,
			"finish_reason": finishReason(result),
			"message":       gin.H{"role": "assistant", "content": result.Text},
		}},
	}
	c.JSON(http.StatusOK, resp)
}

// streamChatCompletion emits an OpenAI-compatible SSE stream for
// /v1/chat/completions (spec §6): a single content-delta chunk followed by a
// finish-reason chunk, terminated by the literal "data: [DONE]" sentinel.
// The reasoning loop already ran to completion before this is called, so the
// "streaming" here is transport framing rather than incremental generation.
func (s *Server) streamChatCompletion(c *gin.Context, req chatRequest, result reasoning.Result) {
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	chunk := func(delta gin.H, finish any) gin.H {
		return gin.H{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   req.Model,
			"choices": []gin.H{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			body, _ := json.Marshal(chunk(gin.H{"role": "assistant", "content": result.Text}, nil))
			fmt.Fprintf(w, "data: %s\n\n", body)
			return true
		}
		body, _ := json.Marshal(chunk(gin.H{}, finishReason(result)))
		fmt.Fprintf(w, "data: %s\n\n", body)
		fmt.Fprint(w, "data: [DONE]\n\n")
		return false
	})
}

func finishReason(result reasoning.Result) string {
	if result.Truncated {
		return "length"
	}
	return "stop"
}

type fleetExecuteRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	System string `json:"system,omitempty"`
}

func (s *Server) handleFleetExecute(c *gin.Context) {
	var req fleetExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request"))
		return
	}
	if s.cfg.FleetExecute == nil {
		c.JSON(http.StatusInternalServerError, errorBody("fleet execute not configured", "server_error"))
		return
	}

	var messages []reasoning.Message
	if req.System != "" {
		messages = append(messages, reasoning.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, reasoning.Message{Role: "user", Content: req.Prompt})

	result, err := s.cfg.FleetExecute(c.Request.Context(), messages)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	executed := make([]gin.H, 0, len(result.Executed))
	for _, te := range result.Executed {
		executed = append(executed, gin.H{"name": te.Call.Name, "result": te.Result.Content})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"response":       result.Text,
		"tools_executed": executed,
		"provider":       "meshnode",
		"model":          req.Model,
	})
}

func (s *Server) handleUpgradeCheck(c *gin.Context) {
	if s.cfg.UpgradeCheck == nil {
		c.JSON(http.StatusOK, gin.H{"currentVersion": s.cfg.Version, "upgradeAvailable": false, "message": "upgrade checking not configured"})
		return
	}
	info, err := s.cfg.UpgradeCheck(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleUpgradePerform(c *gin.Context) {
	if s.cfg.UpgradePerform == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "upgrade not configured"})
		return
	}
	s.setState(StateDrainingForUpgrade)
	result, err := s.cfg.UpgradePerform(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}
	result["restarting"] = true
	c.JSON(http.StatusOK, result)
	s.scheduleExit()
}

func (s *Server) handleRestart(c *gin.Context) {
	s.setState(StateDrainingForRestart)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "restarting", "version": s.cfg.Version})
	if s.cfg.Restart != nil {
		_ = s.cfg.Restart(c.Request.Context())
	}
	s.scheduleExit()
}

// scheduleExit returns the response first, then exits the process ~100ms
// later so the client reliably receives it (spec §4.9). Under a supervisor
// (detected via MESHNODE_SUPERVISED) it exits immediately instead, relying
// on the supervisor to restart the daemon.
func (s *Server) scheduleExit() {
	if os.Getenv(supervisorEnvMarker) != "" {
		os.Exit(0)
		return
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()
}

// handleSchedulerStatus reports the full /v1/scheduler contract (spec §6):
// the task table plus a stats snapshot of every other ticking subsystem, so
// one call gives an operator the whole node's runtime state.
func (s *Server) handleSchedulerStatus(c *gin.Context) {
	enabled := s.cfg.Scheduler != nil
	tasks := make([]gin.H, 0, len(s.cfg.TaskNames))
	if enabled {
		for _, name := range s.cfg.TaskNames {
			st := s.cfg.Scheduler.TaskState(name)
			tasks = append(tasks, gin.H{
				"name":         name,
				"lastRun":      st.LastRun,
				"lastResult":   st.LastResult,
				"lastResponse": st.LastResponse,
				"runCount":     st.RunCount,
				"errorCount":   st.ErrorCount,
			})
		}
	}

	var handoffStats handoff.State
	if s.cfg.HandoffStats != nil {
		handoffStats = s.cfg.HandoffStats()
	}
	var syncStats knowledgesync.Document
	if s.cfg.KnowledgeSyncStats != nil {
		syncStats = s.cfg.KnowledgeSyncStats()
	}
	var memStats memory.Stats
	if s.cfg.MemoryStats != nil {
		memStats = s.cfg.MemoryStats()
	}
	var hookStats hooks.Document
	if s.cfg.EventHookStats != nil {
		hookStats = s.cfg.EventHookStats()
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":       enabled,
		"tasks":         tasks,
		"handoff":       handoffStats,
		"knowledgeSync": syncStats,
		"memory":        memStats,
		"eventHooks":    hookStats,
	})
}
