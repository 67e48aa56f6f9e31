package daemon

import (
	"context"
	"time"

	"github.com/meshagent/meshnode/internal/statefile"
)

// upgradeState is the on-disk upgrade-state.json shape (spec §3).
type upgradeState struct {
	LastCheckTime    int64  `json:"lastCheckTime,omitempty"`
	LastCheckVersion string `json:"lastCheckVersion,omitempty"`
	UpgradeInProgress bool  `json:"upgradeInProgress,omitempty"`
	PreviousVersion  string `json:"previousVersion,omitempty"`
}

// VersionChecker reports the latest available version. The binary
// self-upgrade downloader itself is out of scope (spec §1); this is the
// pluggable seam an embedder supplies it through. A nil checker means
// upgrades are never reported as available.
type VersionChecker func(ctx context.Context) (latestVersion string, err error)

func noopVersionChecker(ctx context.Context) (string, error) {
	return "", nil
}

// upgradeCheckFn builds the UpgradeCheck closure the HTTP server's GET
// /v1/fleet/upgrade route calls.
func (d *Daemon) upgradeCheckFn(path string, version string, checker VersionChecker) func(context.Context) (map[string]any, error) {
	if checker == nil {
		checker = noopVersionChecker
	}
	return func(ctx context.Context) (map[string]any, error) {
		latest, err := checker(ctx)
		if err != nil {
			return nil, err
		}
		var st upgradeState
		_ = statefile.Load(path, &st)
		st.LastCheckTime = time.Now().UnixMilli()
		st.LastCheckVersion = latest
		_ = statefile.Save(path, st)

		available := latest != "" && latest != version
		message := "up to date"
		if available {
			message = "upgrade available"
		} else if latest == "" {
			message = "no upgrade source configured"
		}
		return map[string]any{
			"currentVersion":   version,
			"latestVersion":    latest,
			"upgradeAvailable": available,
			"message":          message,
		}, nil
	}
}

// upgradePerformFn builds the UpgradePerform closure the HTTP server's POST
// /v1/fleet/upgrade route calls. Since the actual binary replacement is out
// of scope, this only updates upgrade-state.json bookkeeping; a real
// embedder supplies the download/replace step via checker's side effects or
// a process supervisor watching upgradeInProgress.
func (d *Daemon) upgradePerformFn(path string, version string, checker VersionChecker) func(context.Context) (map[string]any, error) {
	if checker == nil {
		checker = noopVersionChecker
	}
	return func(ctx context.Context) (map[string]any, error) {
		latest, err := checker(ctx)
		if err != nil {
			return nil, err
		}
		var st upgradeState
		_ = statefile.Load(path, &st)
		st.PreviousVersion = version
		st.UpgradeInProgress = latest != "" && latest != version
		_ = statefile.Save(path, st)

		return map[string]any{
			"success":        true,
			"message":        "restarting to apply upgrade",
			"currentVersion": version,
			"latestVersion":  latest,
		}, nil
	}
}

func noopRestart(ctx context.Context) error {
	return nil
}
