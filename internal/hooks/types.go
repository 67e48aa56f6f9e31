// Package hooks implements the event-hook monitor: periodic probes over
// disk, memory, load, services, files, commands, HTTP endpoints, and TCP
// ports, with edge detection and per-hook cooldown (spec §4.5 C6).
package hooks

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates an EventHook's condition (spec §4.5 table).
type Kind string

const (
	KindDiskUsage        Kind = "disk_usage"
	KindMemoryUsage      Kind = "memory_usage"
	KindLoadAverage      Kind = "load_average"
	KindServiceDown      Kind = "service_down"
	KindServiceUp        Kind = "service_up"
	KindFileExists       Kind = "file_exists"
	KindFileMissing      Kind = "file_missing"
	KindFileChanged      Kind = "file_changed"
	KindCommandFails     Kind = "command_fails"
	KindCommandSucceeds  Kind = "command_succeeds"
	KindCommandOutput    Kind = "command_output"
	KindHTTPDown         Kind = "http_down"
	KindHTTPUp           Kind = "http_up"
	KindPortOpen         Kind = "port_open"
	KindPortClosed       Kind = "port_closed"
)

// Event is the discriminated-union condition an EventHook evaluates, parsed
// from the raw config map at load time. Unlike the rest of the config tree,
// this is deliberately not one flat struct: each Kind has its own required
// fields and we validate them per-variant rather than silently coercing
// zero values (spec §9).
type Event struct {
	Kind Kind

	// disk_usage / memory_usage / load_average
	Mountpoint string
	Threshold  float64

	// service_down / service_up
	Service string

	// file_exists / file_missing / file_changed
	Path string

	// command_fails / command_succeeds / command_output
	Command string
	Pattern string

	// http_down / http_up
	URL            string
	ExpectedStatus int

	// port_open / port_closed
	Host string
	Port int
}

// ParseEvent validates and converts a raw config map (as produced by the
// YAML/JSON5 decoder) into an Event, enforcing the required fields for its
// declared type. It never silently coerces a missing field to a zero value
// for fields that are semantically required.
func ParseEvent(raw map[string]any) (Event, error) {
	kindVal, _ := raw["type"].(string)
	kind := Kind(kindVal)

	ev := Event{Kind: kind}
	switch kind {
	case KindDiskUsage:
		ev.Mountpoint = stringOr(raw, "mountpoint", "/")
		ev.Threshold = floatOr(raw, "threshold", 0.9)
	case KindMemoryUsage:
		ev.Threshold = floatOr(raw, "threshold", 0.9)
	case KindLoadAverage:
		ev.Threshold = floatOr(raw, "threshold", 0.9)
	case KindServiceDown, KindServiceUp:
		svc, ok := raw["service"].(string)
		if !ok || svc == "" {
			return Event{}, fmt.Errorf("%s: service is required", kind)
		}
		ev.Service = svc
	case KindFileExists, KindFileMissing, KindFileChanged:
		p, ok := raw["path"].(string)
		if !ok || p == "" {
			return Event{}, fmt.Errorf("%s: path is required", kind)
		}
		ev.Path = p
	case KindCommandFails, KindCommandSucceeds:
		cmd, ok := raw["command"].(string)
		if !ok || cmd == "" {
			return Event{}, fmt.Errorf("%s: command is required", kind)
		}
		ev.Command = cmd
	case KindCommandOutput:
		cmd, ok := raw["command"].(string)
		if !ok || cmd == "" {
			return Event{}, fmt.Errorf("%s: command is required", kind)
		}
		pattern, ok := raw["pattern"].(string)
		if !ok || pattern == "" {
			return Event{}, fmt.Errorf("%s: pattern is required", kind)
		}
		ev.Command = cmd
		ev.Pattern = pattern
	case KindHTTPDown, KindHTTPUp:
		u, ok := raw["url"].(string)
		if !ok || u == "" {
			return Event{}, fmt.Errorf("%s: url is required", kind)
		}
		ev.URL = u
		ev.ExpectedStatus = intOr(raw, "expectedStatus", 200)
	case KindPortOpen, KindPortClosed:
		host, ok := raw["host"].(string)
		if !ok || host == "" {
			return Event{}, fmt.Errorf("%s: host is required", kind)
		}
		port := intOr(raw, "port", 0)
		if port <= 0 {
			return Event{}, fmt.Errorf("%s: port is required", kind)
		}
		ev.Host = host
		ev.Port = port
	default:
		return Event{}, fmt.Errorf("unknown event type %q", kindVal)
	}
	return ev, nil
}

func stringOr(raw map[string]any, key, def string) string {
	if v, ok := raw[key].(string); ok && v != "" {
		return v
	}
	return def
}

func floatOr(raw map[string]any, key string, def float64) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f
		}
	}
	return def
}

func intOr(raw map[string]any, key string, def int) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Hook is an evaluated EventHook (config plus its parsed Event).
type Hook struct {
	Name        string
	Enabled     bool
	Event       Event
	Prompt      string
	CooldownMS  int64
	NotifyPeers []string
	PeerPrompt  string
}

// DefaultCooldownMS is applied when a hook config omits cooldownMs.
const DefaultCooldownMS = 300000

// EventState is the persisted per-hook observation state (spec §3).
type EventState struct {
	LastTriggered int64  `json:"lastTriggered,omitempty"`
	LastChecked   int64  `json:"lastChecked,omitempty"`
	TriggerCount  int    `json:"triggerCount"`
	LastValue     string `json:"lastValue,omitempty"`
	LastStatus    bool   `json:"lastStatus"`
	// hasValue distinguishes "never observed" from "observed zero/false",
	// since LastValue/LastStatus alone can't carry that distinction through
	// JSON's zero values.
	HasValue bool `json:"hasValue"`
}

// Document is the on-disk event-state.json shape: one EventState per hook
// name.
type Document struct {
	Hooks map[string]*EventState `json:"hooks"`
}

// Evaluation is the evaluator's verdict for one probe.
type Evaluation struct {
	Triggered bool
	Value     string
	Message   string
}
