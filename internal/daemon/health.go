package daemon

import (
	"os"
	"runtime"
	"time"

	"github.com/meshagent/meshnode/internal/server"
)

var startTime = time.Now()

// healthInfo builds the unauthenticated /v1/fleet/health response body.
func healthInfo(version string, normLoad float64) server.HealthInfo {
	hostname, _ := os.Hostname()
	return server.HealthInfo{
		Status:    "ok",
		Version:   version,
		Timestamp: time.Now().UnixMilli(),
		Hostname:  hostname,
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    time.Since(startTime).Seconds(),
		Load:      normLoad,
		Memory:    memoryUsedFraction(),
		CPUs:      runtime.NumCPU(),
	}
}
