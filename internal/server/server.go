// Package server implements the node's authenticated HTTP(S) endpoint:
// fleet-execute, health, scheduler status, upgrade, and restart, with
// optional mTLS (spec §4.9 C10).
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshagent/meshnode/internal/handoff"
	"github.com/meshagent/meshnode/internal/hooks"
	"github.com/meshagent/meshnode/internal/knowledgesync"
	"github.com/meshagent/meshnode/internal/memory"
	"github.com/meshagent/meshnode/internal/reasoning"
	"github.com/meshagent/meshnode/internal/scheduler"
)

// Lifecycle states (spec §4.9).
const (
	StateStarting           = "starting"
	StateServing            = "serving"
	StateDrainingForRestart = "draining-for-restart"
	StateDrainingForUpgrade = "draining-for-upgrade"
	StateExited             = "exited"
)

// supervisorEnvMarker, when set in the environment, indicates a process
// supervisor will restart the daemon on exit; the restart/upgrade handlers
// then just exit rather than scheduling a delayed self-exit.
const supervisorEnvMarker = "MESHNODE_SUPERVISED"

// ChatFunc drives the reasoning loop for /v1/chat/completions and
// /v1/fleet/execute. It is the seam between the HTTP layer and C4.
type ChatFunc func(ctx context.Context, messages []reasoning.Message) (reasoning.Result, error)

// SchedulerView exposes the bits of the scheduler the /v1/scheduler route
// reports; kept minimal and decoupled from scheduler.Scheduler's internals.
type SchedulerView interface {
	TaskState(name string) scheduler.TaskState
}

// HealthInfo is returned by /v1/fleet/health (unauthenticated by design).
type HealthInfo struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Timestamp int64   `json:"timestamp"`
	Hostname  string  `json:"hostname"`
	Platform  string  `json:"platform"`
	Arch      string  `json:"arch"`
	Uptime    float64 `json:"uptime"`
	Load      float64 `json:"load"`
	Memory    float64 `json:"memory"`
	CPUs      int     `json:"cpus"`
}

// Config bundles everything the server needs to build its route table.
type Config struct {
	Addr        string
	Token       string
	TLS         *tls.Config // nil means plaintext HTTP
	AutoConfirm bool
	Version     string
	Models      []string

	Chat           ChatFunc
	FleetExecute   ChatFunc
	Scheduler      SchedulerView
	TaskNames      []string
	HealthInfoFunc func() HealthInfo
	UpgradeCheck   func(ctx context.Context) (map[string]any, error)
	UpgradePerform func(ctx context.Context) (map[string]any, error)
	Restart        func(ctx context.Context) error

	// Stats snapshot accessors for GET /v1/scheduler (spec §6); a nil
	// accessor reports that subsystem's zero value rather than omitting the
	// key, since the response shape is fixed regardless of which subsystems
	// are enabled.
	HandoffStats       func() handoff.State
	KnowledgeSyncStats func() knowledgesync.Document
	MemoryStats        func() memory.Stats
	EventHookStats     func() hooks.Document

	Logger *slog.Logger
}

// Server is the node's HTTP endpoint and its lifecycle state machine.
type Server struct {
	cfg    Config
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server

	mu    sync.Mutex
	state string
}

// New builds a Server ready to ListenAndServe.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Token == "" {
		cfg.Token = generateToken()
		cfg.Logger.Warn("no server token configured; generated one for this boot", "token", cfg.Token)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{cfg: cfg, logger: cfg.Logger, engine: engine, state: StateStarting}
	s.routes()

	s.http = &http.Server{
		Addr:      cfg.Addr,
		Handler:   engine,
		TLSConfig: cfg.TLS,
	}
	return s
}

func generateToken() string {
	return fmt.Sprintf("meshnode-%d", time.Now().UnixNano())
}

// State returns the server's current lifecycle state.
func (s *Server) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Server) routes() {
	s.engine.GET("/v1/fleet/health", s.handleHealth) // unauthenticated by design
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := s.engine.Group("/")
	auth.Use(s.authMiddleware())
	auth.POST("/v1/chat/completions", s.handleChatCompletions)
	auth.GET("/v1/models", s.handleModels)
	auth.POST("/v1/fleet/execute", s.handleFleetExecute)
	auth.GET("/v1/fleet/upgrade", s.handleUpgradeCheck)
	auth.POST("/v1/fleet/upgrade", s.handleUpgradePerform)
	auth.POST("/v1/fleet/restart", s.handleRestart)
	auth.GET("/v1/scheduler", s.handleSchedulerStatus)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody("Not found", "not_found"))
	})
}

func errorBody(message, typ string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": typ}}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		ok := len(header) > len(prefix) && header[:len(prefix)] == prefix &&
			subtle.ConstantTimeCompare([]byte(header[len(prefix):]), []byte(s.cfg.Token)) == 1
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("Unauthorized", "auth_error"))
			return
		}
		c.Next()
	}
}

// ListenAndServe starts serving and blocks until the listener stops or ctx
// is cancelled, at which point it drains gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.setState(StateServing)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = s.http.ListenAndServeTLS("", "")
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		s.setState(StateExited)
		return nil
	case err := <-errCh:
		s.setState(StateExited)
		return err
	}
}

// LoadTLSConfig builds a *tls.Config from cert/key (and, if set, a CA for
// requiring+verifying client certs), per spec §4.9's mTLS rule.
func LoadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server cert: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", caFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
