// Package daemon wires every component (config, memory, tools, reasoning,
// fleet, hooks, scheduler, handoff, knowledge-sync, HTTP server) into one
// running node process, including its ticker staggering and graceful
// shutdown (spec §4.6, §5).
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshagent/meshnode/internal/config"
	"github.com/meshagent/meshnode/internal/fleet"
	"github.com/meshagent/meshnode/internal/handoff"
	"github.com/meshagent/meshnode/internal/hooks"
	"github.com/meshagent/meshnode/internal/knowledgesync"
	"github.com/meshagent/meshnode/internal/memory"
	"github.com/meshagent/meshnode/internal/metrics"
	"github.com/meshagent/meshnode/internal/reasoning"
	"github.com/meshagent/meshnode/internal/scheduler"
	"github.com/meshagent/meshnode/internal/server"
	"github.com/meshagent/meshnode/internal/tools"
)

// Boot-time stagger delays (spec §4.6): each subsystem's first tick is
// offset so they don't all stampede immediately after startup.
const (
	schedulerInitialDelay     = 10 * time.Second
	knowledgeSyncInitialDelay = 15 * time.Second
	memoryCleanupInitialDelay = 20 * time.Second
	eventHooksInitialDelay    = 25 * time.Second

	schedulerTickPeriod = 30 * time.Second
)

// Daemon owns every subsystem for one node identity and runs them
// concurrently until its context is cancelled.
type Daemon struct {
	cfg    config.Config
	logger *slog.Logger

	metrics *metrics.Metrics

	memoryStore *memory.Store
	registry    *tools.Registry
	provider    reasoning.Provider
	fleetClient *fleet.Client
	handoff     *handoff.Controller
	scheduler   *scheduler.Scheduler
	hookMonitor *hooks.Monitor
	syncer      *knowledgesync.Syncer
	httpServer  *server.Server
}

// Options lets an embedder override the LLM provider and auto-discovered
// tools; every field is optional.
type Options struct {
	Provider       reasoning.Provider
	ExtraTools     []tools.Tool
	ConfirmPrompt  tools.ConfirmFunc
	Version        string
	VersionChecker VersionChecker
}

// New constructs every subsystem from cfg, loading persisted state from
// cfg.DataDir and tolerating missing files per spec §3.
func New(cfg config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()

	memStore, err := memory.OpenAt(cfg.StatePath(config.MemoryFileName))
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool())
	registry.Register(&tools.FileEditTool{})
	registry.Register(&tools.MemoryWriteTool{Store: memStore})
	registry.Register(&tools.MemoryUpdateTool{Store: memStore})
	registry.Register(&tools.MemoryReadTool{Store: memStore})
	registry.Register(&tools.MemorySearchTool{Store: memStore})
	registry.Register(&tools.MemoryDeleteTool{Store: memStore})
	for _, t := range opts.ExtraTools {
		registry.Register(t)
	}

	provider := opts.Provider
	if provider == nil {
		provider = reasoning.NoProvider{}
	}

	fleetClient := fleet.NewClient(cfg.Fleet.DefaultTLS)

	handoffCtl, err := handoff.OpenAt(cfg.StatePath(config.HandoffStateFileName))
	if err != nil {
		return nil, err
	}
	handoffCtl.Metrics = m

	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		memoryStore: memStore,
		registry:    registry,
		provider:    provider,
		fleetClient: fleetClient,
		handoff:     handoffCtl,
	}

	confirm := opts.ConfirmPrompt
	if cfg.Server.AutoConfirm {
		confirm = func(ctx context.Context, call tools.Call) bool { return true }
	} else if confirm == nil {
		// No prompt is available and AutoConfirm is off: calls that need
		// confirmation are refused.
		confirm = func(ctx context.Context, call tools.Call) bool { return false }
	}

	dispatch := func(ctx context.Context, prompt string) (string, error) {
		result, err := reasoning.Run(ctx, provider, registry, []reasoning.Message{{Role: "user", Content: prompt}}, confirm)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	}

	handoffFn := func(ctx context.Context, peers []string, prompt string) (string, string, error) {
		candidates := peers
		if len(candidates) == 0 {
			candidates = peerNames(cfg.Fleet.Peers)
		}
		if len(candidates) == 0 {
			return "", "", errNoPeers
		}
		for attempt := 0; attempt < len(candidates); attempt++ {
			peer := d.handoff.SelectNextPeer(candidates)
			d.handoff.RecordUse(candidates, peer)
			node, ok := findNode(cfg.Fleet.Peers, peer)
			if !ok {
				d.handoff.RecordResult(peer, false)
				continue
			}
			res := fleetClient.QueryFleetNode(ctx, node, prompt, "", "")
			d.handoff.RecordResult(peer, res.Success)
			if res.Success {
				return peer, res.Response, nil
			}
		}
		return "", "", errAllPeersFailed
	}

	sched, err := scheduler.OpenAt(cfg.StatePath(config.SchedulerStateFileName), cfg.Scheduler.Tasks, dispatch, handoffFn, normalizedLoad, logger)
	if err != nil {
		return nil, err
	}
	sched.Metrics = m
	d.scheduler = sched

	parsedHooks, err := parseHooks(cfg.Hooks.Hooks)
	if err != nil {
		return nil, err
	}
	notify := func(ctx context.Context, peer, prompt string) error {
		node, ok := findNode(cfg.Fleet.Peers, peer)
		if !ok {
			return errUnknownPeer
		}
		res := fleetClient.QueryFleetNode(ctx, node, prompt, "", "")
		if !res.Success {
			return errPeerNotifyFailed
		}
		return nil
	}
	monitor, err := hooks.OpenMonitor(cfg.StatePath(config.EventStateFileName), parsedHooks, dispatch, notify, logger)
	if err != nil {
		return nil, err
	}
	monitor.Metrics = m
	d.hookMonitor = monitor

	exchange := func(ctx context.Context, peer, prompt string) (string, error) {
		node, ok := findNode(cfg.Fleet.Peers, peer)
		if !ok {
			return "", errUnknownPeer
		}
		res := fleetClient.QueryFleetNode(ctx, node, prompt, "", "")
		if !res.Success {
			return "", errPeerNotifyFailed
		}
		return res.Response, nil
	}
	syncer, err := knowledgesync.OpenAt(cfg.StatePath(config.MemorySyncFileName), memStore, peerNames(cfg.Fleet.Peers), cfg.Sync.Categories, exchange, logger)
	if err != nil {
		return nil, err
	}
	syncer.Metrics = m
	d.syncer = syncer

	chatFn := func(ctx context.Context, messages []reasoning.Message) (reasoning.Result, error) {
		return reasoning.Run(ctx, provider, registry, messages, confirm)
	}

	httpTLS, err := buildServerTLS(cfg.Server.TLS)
	if err != nil {
		return nil, err
	}

	d.httpServer = server.New(server.Config{
		Addr:         cfg.Server.Addr,
		Token:        cfg.Server.Token,
		TLS:          httpTLS,
		AutoConfirm:  cfg.Server.AutoConfirm,
		Version:      opts.Version,
		Models:       cfg.Models,
		Chat:         chatFn,
		FleetExecute: chatFn,
		Scheduler:    sched,
		TaskNames:    taskNames(cfg.Scheduler.Tasks),
		HealthInfoFunc: func() server.HealthInfo {
			return healthInfo(opts.Version, normalizedLoad())
		},
		UpgradeCheck:   d.upgradeCheckFn(cfg.StatePath(config.UpgradeStateFileName), opts.Version, opts.VersionChecker),
		UpgradePerform: d.upgradePerformFn(cfg.StatePath(config.UpgradeStateFileName), opts.Version, opts.VersionChecker),
		Restart:        noopRestart,

		HandoffStats:       d.handoff.Snapshot,
		KnowledgeSyncStats: d.syncer.Snapshot,
		MemoryStats:        d.memoryStore.Stats,
		EventHookStats:     d.hookMonitor.Snapshot,

		Logger: logger,
	})

	return d, nil
}

// Run starts every subsystem's ticker and the HTTP server, and blocks until
// ctx is cancelled. Every subsystem persists synchronously on every
// mutation, so there is nothing left to flush on shutdown beyond stopping
// the tickers and draining the HTTP listener.
func (d *Daemon) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	runTicker := func(initialDelay, period time.Duration, tick func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(initialDelay):
			}
			tick(ctx)
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					tick(ctx)
				}
			}
		}()
	}

	if d.cfg.Scheduler.Enabled {
		runTicker(schedulerInitialDelay, schedulerTickPeriod, d.scheduler.Tick)
	}
	if d.cfg.Sync.Enabled {
		runTicker(knowledgeSyncInitialDelay, d.cfg.Sync.Interval, d.syncer.Tick)
	}
	runTicker(memoryCleanupInitialDelay, d.cfg.Memory.CleanupInterval, func(ctx context.Context) {
		d.memoryStore.CleanupExpired()
	})
	if d.cfg.Hooks.Enabled {
		runTicker(eventHooksInitialDelay, d.cfg.Hooks.CheckInterval, d.hookMonitor.Tick)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.httpServer.ListenAndServe(ctx); err != nil {
			d.logger.Error("http server exited with error", "error", err)
		}
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

func taskNames(tasks []config.ScheduledTask) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}

func peerNames(peers []config.FleetNode) []string {
	names := make([]string, len(peers))
	for i, p := range peers {
		names[i] = p.Name
	}
	return names
}

func findNode(peers []config.FleetNode, name string) (config.FleetNode, bool) {
	for _, p := range peers {
		if p.Name == name {
			return p, true
		}
	}
	return config.FleetNode{}, false
}
