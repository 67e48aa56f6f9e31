// Package metrics centralizes the daemon's Prometheus collectors, one
// per subsystem, following the promauto pattern used throughout the
// corpus this daemon is built from.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every counter the node's subsystems increment. A single
// instance is constructed at startup and passed by dependency injection.
type Metrics struct {
	// SchedulerTaskRuns counts scheduler dispatches by result
	// (success|error|skipped|handoff).
	SchedulerTaskRuns *prometheus.CounterVec

	// Handoffs counts handoff attempts by peer and result (success|error).
	Handoffs *prometheus.CounterVec

	// HookTriggers counts event-hook firings by hook name.
	HookTriggers *prometheus.CounterVec

	// Syncs counts knowledge-sync rounds by peer and result (success|error).
	Syncs *prometheus.CounterVec
}

// New registers and returns the daemon's metric collectors.
func New() *Metrics {
	return &Metrics{
		SchedulerTaskRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_scheduler_task_runs_total",
			Help: "Scheduled task dispatches by result.",
		}, []string{"result"}),
		Handoffs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_handoff_total",
			Help: "Peer handoff attempts by peer and result.",
		}, []string{"peer", "result"}),
		HookTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_hook_triggers_total",
			Help: "Event-hook triggers by hook name.",
		}, []string{"hook"}),
		Syncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_sync_total",
			Help: "Knowledge-sync rounds by peer and result.",
		}, []string{"peer", "result"}),
	}
}
