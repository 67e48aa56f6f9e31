package config

import "path/filepath"

// State file names within DataDir (spec §6 "Persisted layout").
const (
	ConfigFileName         = "config.json"
	MemoryFileName         = "memory.json"
	MemorySyncFileName     = "memory-sync.json"
	SchedulerStateFileName = "scheduler-state.json"
	HandoffStateFileName   = "handoff-state.json"
	EventStateFileName     = "event-state.json"
	UpgradeStateFileName   = "upgrade-state.json"
)

// StatePath joins DataDir with one of the *FileName constants above.
func (c Config) StatePath(name string) string {
	return filepath.Join(c.DataDir, name)
}
