// Package config loads and validates the node's JSON/YAML configuration and
// exposes typed views to every other component (spec §3 C1). It only reads
// configuration; nothing in this repository writes config.json.
package config

import "time"

// TLSCredentials is a client or server cert/key pair, optionally with a CA
// for verifying the peer.
type TLSCredentials struct {
	CertFile string `yaml:"certFile,omitempty" json:"certFile,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
	CAFile   string `yaml:"caFile,omitempty" json:"caFile,omitempty"`
}

// FleetNode is one configured peer.
type FleetNode struct {
	Name  string `yaml:"name" json:"name"`
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
	// TLS overrides the fleet-wide default client credentials for this peer.
	TLS *TLSCredentials `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// FleetConfig is the mesh of peers this node knows about.
type FleetConfig struct {
	Peers []FleetNode `yaml:"peers" json:"peers"`
	// DefaultTLS is used for outbound peer calls when a peer has no TLS
	// override (spec §4.4 TLS resolution order).
	DefaultTLS *TLSCredentials `yaml:"defaultTLS,omitempty" json:"defaultTLS,omitempty"`
}

// ServerConfig controls the node's own HTTP(S) listener (C10).
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// Token is the bearer token required of callers. If empty, one is
	// generated at boot and logged.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
	// TLS, when set, serves HTTPS; CAFile set additionally requires and
	// verifies client certs (mTLS).
	TLS *TLSCredentials `yaml:"tls,omitempty" json:"tls,omitempty"`
	// AutoConfirm lets dangerous tools proceed without interactive
	// confirmation, since the server has no TTY (spec §4.9).
	AutoConfirm bool `yaml:"autoConfirm" json:"autoConfirm"`
}

// TaskCondition guards a scheduled task's execution on current load.
type TaskCondition struct {
	MaxLoad *float64 `yaml:"maxLoad,omitempty" json:"maxLoad,omitempty"`
	MinLoad *float64 `yaml:"minLoad,omitempty" json:"minLoad,omitempty"`
}

// TaskHandoff configures when a scheduled task is handed off to a peer
// instead of executed locally.
type TaskHandoff struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	LoadThreshold float64  `yaml:"loadThreshold" json:"loadThreshold"`
	Peers         []string `yaml:"peers,omitempty" json:"peers,omitempty"`
	Prompt        string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// ScheduledTask is an immutable-at-runtime task definition (spec §3).
type ScheduledTask struct {
	Name     string         `yaml:"name" json:"name"`
	Schedule string         `yaml:"schedule" json:"schedule"`
	Prompt   string         `yaml:"prompt" json:"prompt"`
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Condition *TaskCondition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Handoff   *TaskHandoff   `yaml:"handoff,omitempty" json:"handoff,omitempty"`
}

// SchedulerConfig is the full list of scheduled tasks plus global toggles.
type SchedulerConfig struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Tasks   []ScheduledTask `yaml:"tasks" json:"tasks"`
}

// HooksConfig is the event-hook monitor's configuration (C6).
type HooksConfig struct {
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	CheckInterval time.Duration     `yaml:"checkInterval" json:"checkInterval"`
	Hooks         []RawEventHook    `yaml:"hooks" json:"hooks"`
}

// RawEventHook is a hook as loaded from config, prior to discriminated-union
// validation (see Validate and internal/hooks).
type RawEventHook struct {
	Name        string          `yaml:"name" json:"name"`
	Enabled     bool            `yaml:"enabled" json:"enabled"`
	Event       map[string]any  `yaml:"event" json:"event"`
	Prompt      string          `yaml:"prompt" json:"prompt"`
	CooldownMS  int64           `yaml:"cooldownMs,omitempty" json:"cooldownMs,omitempty"`
	NotifyPeers []string        `yaml:"notifyPeers,omitempty" json:"notifyPeers,omitempty"`
	PeerPrompt  string          `yaml:"peerPrompt,omitempty" json:"peerPrompt,omitempty"`
}

// SyncConfig is the knowledge-sync subsystem's configuration (C9).
type SyncConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// MemoryConfig controls the memory store's background cleanup.
type MemoryConfig struct {
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
}

// Config is the node's full typed configuration.
type Config struct {
	NodeName string `yaml:"nodeName" json:"nodeName"`
	DataDir  string `yaml:"dataDir" json:"dataDir"`

	Server    ServerConfig    `yaml:"server" json:"server"`
	Fleet     FleetConfig     `yaml:"fleet" json:"fleet"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Hooks     HooksConfig     `yaml:"hooks" json:"hooks"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Memory    MemoryConfig    `yaml:"memory" json:"memory"`

	// Models lists the identifiers surfaced by GET /v1/models.
	Models []string `yaml:"models,omitempty" json:"models,omitempty"`
}

// Default returns a Config with every subsystem's documented default
// interval/timeout (spec §4), ready for a caller to override from a file.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8443"},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Hooks: HooksConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: 300 * time.Second,
		},
		Memory: MemoryConfig{
			CleanupInterval: 600 * time.Second,
		},
	}
}
