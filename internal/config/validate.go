package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationErrors aggregates every problem found in one Validate pass,
// mirroring the teacher's schema validator in spirit (collect everything,
// report once) though this is hand-written field validation rather than
// struct-tag reflection.
type ValidationErrors []string

func (e ValidationErrors) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e, "; "))
}

func aggregateErr(errs ValidationErrors) error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Validate checks cfg for the configuration errors spec §7 calls fatal at
// startup: missing mandatory TLS material when TLS is requested, duplicate
// peer names, malformed peer URLs, and empty task/hook names.
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls requires both certFile and keyFile")
		}
	}

	seen := make(map[string]bool, len(cfg.Fleet.Peers))
	for i, peer := range cfg.Fleet.Peers {
		if peer.Name == "" {
			errs = append(errs, fmt.Sprintf("fleet.peers[%d]: name is required", i))
		} else if seen[peer.Name] {
			errs = append(errs, fmt.Sprintf("fleet.peers: duplicate peer name %q", peer.Name))
		}
		seen[peer.Name] = true

		if _, err := url.ParseRequestURI(peer.URL); err != nil {
			errs = append(errs, fmt.Sprintf("fleet.peers[%d] (%s): invalid url %q", i, peer.Name, peer.URL))
		}
		if peer.TLS != nil && (peer.TLS.CertFile == "") != (peer.TLS.KeyFile == "") {
			errs = append(errs, fmt.Sprintf("fleet.peers[%d] (%s): tls requires both certFile and keyFile", i, peer.Name))
		}
	}

	taskNames := make(map[string]bool, len(cfg.Scheduler.Tasks))
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("scheduler.tasks[%d]: name is required", i))
		} else if taskNames[t.Name] {
			errs = append(errs, fmt.Sprintf("scheduler.tasks: duplicate task name %q", t.Name))
		}
		taskNames[t.Name] = true
		if t.Schedule == "" {
			errs = append(errs, fmt.Sprintf("scheduler.tasks[%d] (%s): schedule is required", i, t.Name))
		}
		if t.Handoff != nil {
			for _, p := range t.Handoff.Peers {
				if !seen[p] {
					errs = append(errs, fmt.Sprintf("scheduler.tasks[%d] (%s): handoff references unknown peer %q", i, t.Name, p))
				}
			}
		}
	}

	hookNames := make(map[string]bool, len(cfg.Hooks.Hooks))
	for i, h := range cfg.Hooks.Hooks {
		if h.Name == "" {
			errs = append(errs, fmt.Sprintf("hooks.hooks[%d]: name is required", i))
		} else if hookNames[h.Name] {
			errs = append(errs, fmt.Sprintf("hooks.hooks: duplicate hook name %q", h.Name))
		}
		hookNames[h.Name] = true
		if h.Event == nil || h.Event["type"] == nil {
			errs = append(errs, fmt.Sprintf("hooks.hooks[%d] (%s): event.type is required", i, h.Name))
		}
		for _, p := range h.NotifyPeers {
			if !seen[p] {
				errs = append(errs, fmt.Sprintf("hooks.hooks[%d] (%s): notifyPeers references unknown peer %q", i, h.Name, p))
			}
		}
	}

	return errs
}
