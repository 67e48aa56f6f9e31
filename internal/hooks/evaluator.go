package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	commandTimeout    = 10 * time.Second
	httpProbeTimeout  = 5 * time.Second
	tcpConnectTimeout = 3 * time.Second
)

// evaluate runs ev's probe and decides, using prior (the hook's EventState
// before this tick, or nil if never observed), whether it should fire.
// Probe errors (spawn failure, DNS failure, etc.) yield Triggered=false with
// no state advance, per spec §7.
func evaluate(ctx context.Context, ev Event, prior *EventState) Evaluation {
	switch ev.Kind {
	case KindDiskUsage:
		value, err := diskUsage(ev.Mountpoint)
		if err != nil {
			return Evaluation{}
		}
		return evaluateLevel(value, ev.Threshold)
	case KindMemoryUsage:
		value, err := memoryUsage()
		if err != nil {
			return Evaluation{}
		}
		return evaluateLevel(value, ev.Threshold)
	case KindLoadAverage:
		value, err := normalizedLoad()
		if err != nil {
			return Evaluation{}
		}
		return evaluateLevel(value, ev.Threshold)
	case KindServiceDown:
		return evaluateEdge(serviceActive(ev.Service), prior, false)
	case KindServiceUp:
		return evaluateEdge(serviceActive(ev.Service), prior, true)
	case KindFileExists:
		return evaluateEdge(fileExists(ev.Path), prior, true)
	case KindFileMissing:
		return evaluateEdge(fileExists(ev.Path), prior, false)
	case KindFileChanged:
		return evaluateChanged(fileMTime(ev.Path), prior)
	case KindCommandFails:
		code, err := runCommand(ctx, ev.Command)
		if err != nil {
			return Evaluation{}
		}
		return Evaluation{Triggered: code != 0, Value: strconv.Itoa(code), Message: fmt.Sprintf("command %q exited %d", ev.Command, code)}
	case KindCommandSucceeds:
		code, err := runCommand(ctx, ev.Command)
		if err != nil {
			return Evaluation{}
		}
		return evaluateEdge(boolPtr(code == 0), prior, true)
	case KindCommandOutput:
		output, err := runCommandOutput(ctx, ev.Command)
		if err != nil {
			return Evaluation{}
		}
		re, err := regexp.Compile(ev.Pattern)
		if err != nil {
			return Evaluation{}
		}
		matched := re.MatchString(output)
		return Evaluation{Triggered: matched, Value: output, Message: fmt.Sprintf("command output matched %q", ev.Pattern)}
	case KindHTTPDown:
		return evaluateEdge(httpHealthy(ctx, ev.URL, ev.ExpectedStatus), prior, false)
	case KindHTTPUp:
		return evaluateEdge(httpHealthy(ctx, ev.URL, ev.ExpectedStatus), prior, true)
	case KindPortOpen:
		open, err := portOpen(ev.Host, ev.Port)
		if err != nil {
			return Evaluation{}
		}
		return evaluateEdge(open, prior, true)
	case KindPortClosed:
		open, err := portOpen(ev.Host, ev.Port)
		if err != nil {
			return Evaluation{}
		}
		return evaluateEdge(open, prior, false)
	default:
		return Evaluation{}
	}
}

// evaluateLevel is for level-triggered (not edge) probes: disk/memory/load
// usage firing whenever the value is at or above threshold.
func evaluateLevel(value float64, threshold float64) Evaluation {
	triggered := value >= threshold
	eval := Evaluation{Triggered: triggered, Value: strconv.FormatFloat(value, 'f', 4, 64)}
	if triggered {
		eval.Message = fmt.Sprintf("%.2f >= threshold %.2f", value, threshold)
	}
	return eval
}

// evaluateEdge implements spec §4.5's edge-detection rule: fireOnTransitionTo
// is true for the "up"/"exists"/"open" family (fires on false->true) and
// false for the "down"/"missing"/"closed" family (fires on true->false).
// A nil prior (never observed) is treated as "previously healthy" for the
// down/missing/closed family so a node that boots with the bad condition
// already present fires immediately, and as "unknown" (never fires) for the
// up/exists/open family.
func evaluateEdge(current *bool, prior *EventState, fireOnTransitionTo bool) Evaluation {
	if current == nil {
		return Evaluation{}
	}
	value := "0"
	if *current {
		value = "1"
	}

	var previous *bool
	if prior != nil && prior.HasValue {
		v := prior.LastValue == "1"
		previous = &v
	} else if !fireOnTransitionTo {
		// Missing prior for a down/missing/closed kind: "previously healthy".
		v := true
		previous = &v
	}
	// else: missing prior for an up/exists/open kind is "unknown"; previous
	// stays nil and no transition can be detected.

	eval := Evaluation{Value: value}
	if previous == nil {
		return eval
	}
	if *previous != fireOnTransitionTo && *current == fireOnTransitionTo {
		eval.Triggered = true
		eval.Message = fmt.Sprintf("transitioned to %v", fireOnTransitionTo)
	}
	return eval
}

// evaluateChanged fires whenever the observed value differs from a defined
// prior value (file_changed: mtime).
func evaluateChanged(value string, prior *EventState) Evaluation {
	if value == "" {
		return Evaluation{}
	}
	eval := Evaluation{Value: value}
	if prior != nil && prior.HasValue && prior.LastValue != value {
		eval.Triggered = true
		eval.Message = "value changed"
	}
	return eval
}

func boolPtr(b bool) *bool { return &b }

func diskUsage(mountpoint string) (float64, error) {
	if mountpoint == "" {
		mountpoint = "/"
	}
	usage, err := disk.Usage(mountpoint)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent / 100.0, nil
}

func memoryUsage() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent / 100.0, nil
}

func normalizedLoad() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if n <= 0 {
		n = 1
	}
	return avg.Load1 / float64(n), nil
}

func serviceActive(service string) *bool {
	if service == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", service)
	out, err := cmd.Output()
	// systemctl exits non-zero for inactive/failed services; that is still
	// a valid observation, not a probe error.
	active := strings.TrimSpace(string(out)) == "active"
	_ = err
	return boolPtr(active)
}

func fileExists(path string) *bool {
	if path == "" {
		return nil
	}
	_, err := os.Stat(path)
	exists := err == nil
	return boolPtr(exists)
}

func fileMTime(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 10)
}

func runCommand(ctx context.Context, command string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func runCommandOutput(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	_ = cmd.Run()
	return buf.String(), nil
}

func httpHealthy(ctx context.Context, url string, expectedStatus int) *bool {
	if url == "" {
		return nil
	}
	if expectedStatus == 0 {
		expectedStatus = 200
	}
	ctx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return boolPtr(false)
	}
	defer resp.Body.Close()
	return boolPtr(resp.StatusCode == expectedStatus)
}

// portOpen dials host:port and reports whether the connection succeeded. A
// refused connection is a valid "closed" observation; any other dial failure
// (DNS failure, timeout, network unreachable) is a probe error and must not
// be reported as a fake "closed" reading.
func portOpen(host string, port int) (*bool, error) {
	if host == "" || port <= 0 {
		return nil, nil
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), tcpConnectTimeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return boolPtr(false), nil
		}
		return nil, err
	}
	_ = conn.Close()
	return boolPtr(true), nil
}
