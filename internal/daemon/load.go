package daemon

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// normalizedLoad reports 1-minute load average divided by logical CPU count,
// the same normalization the event-hook load_average probe uses, so the
// scheduler's load-gated tasks and condition hooks agree on what "load"
// means.
func normalizedLoad() float64 {
	avg, err := load.Avg()
	if err != nil {
		return 0
	}
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if n <= 0 {
		n = 1
	}
	return avg.Load1 / float64(n)
}

func memoryUsedFraction() float64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.UsedPercent / 100
}
