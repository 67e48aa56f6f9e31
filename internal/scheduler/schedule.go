// Package scheduler implements interval/cron-lite dispatch of named tasks,
// with load-based guards and peer handoff (spec §4.6 C7).
package scheduler

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser parses the subset of 5-field cron expressions the hand-rolled
// grammar in ParseSchedule doesn't cover (step/range/list fields beyond the plain
// minute-step shorthand), e.g. "0 */2 * * *" or "30 9 * * 1-5".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule converts a schedule string into an interval: "@every
// <N><unit>" (s/m/h), "@hourly", "@daily", "@weekly", "*/<N> * * * *"
// (N minutes). Any other valid 5-field cron expression yields the duration
// from now until its next occurrence (see tryFullCron); anything else gets
// a default of 300s with a logged warning. Minute-granularity tolerance is
// acceptable (spec §1 non-goals).
func ParseSchedule(schedule string, logger *slog.Logger) time.Duration {
	if logger == nil {
		logger = slog.Default()
	}
	s := strings.TrimSpace(schedule)

	switch s {
	case "@hourly":
		return time.Hour
	case "@daily":
		return 24 * time.Hour
	case "@weekly":
		return 7 * 24 * time.Hour
	}

	if strings.HasPrefix(s, "@every ") {
		if d, ok := parseEvery(strings.TrimPrefix(s, "@every ")); ok {
			return d
		}
	}

	if d, ok := parseSlashMinutes(s); ok {
		return d
	}

	if d, ok := tryFullCron(s); ok {
		return d
	}

	logger.Warn("unrecognized schedule, defaulting to 300s", "schedule", schedule)
	return 300 * time.Second
}

// tryFullCron parses s as a general 5-field cron expression and returns the
// duration until its next occurrence from now, for schedule forms beyond the
// plain minute-step shorthand parseSlashMinutes already covers (step/range/
// list fields, e.g. "0 */2 * * *" or "30 9 * * 1-5").
func tryFullCron(s string) (time.Duration, bool) {
	schedule, err := cronParser.Parse(s)
	if err != nil {
		return 0, false
	}
	now := time.Now()
	next := schedule.Next(now)
	if next.IsZero() {
		return 0, false
	}
	return next.Sub(now), true
}

func parseEvery(spec string) (time.Duration, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, false
	}
	unit := spec[len(spec)-1:]
	numPart := spec[:len(spec)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, true
	case "m":
		return time.Duration(n) * time.Minute, true
	case "h":
		return time.Duration(n) * time.Hour, true
	default:
		return 0, false
	}
}

// parseSlashMinutes recognizes the minute-step crontab shorthand
// "*/<N> * * * *"; every other 5-field form falls through to tryFullCron.
func parseSlashMinutes(s string) (time.Duration, bool) {
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return 0, false
	}
	if fields[1] != "*" || fields[2] != "*" || fields[3] != "*" || fields[4] != "*" {
		return 0, false
	}
	if !strings.HasPrefix(fields[0], "*/") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(fields[0], "*/"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}

// describeLoadSkip formats the skipped-by-condition message exactly as
// spec §8 scenario S2 expects it to appear in lastResponse, e.g.
// "0.90 > maxLoad 0.5".
func describeLoadSkip(load float64, bound float64, kind string) string {
	cmp := "<"
	if kind == "maxLoad" {
		cmp = ">"
	}
	boundStr := strconv.FormatFloat(bound, 'g', -1, 64)
	return fmt.Sprintf("%.2f %s %s %s", load, cmp, kind, boundStr)
}
