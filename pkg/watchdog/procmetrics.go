package watchdog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProcessMetrics is one point-in-time OS-level reading for a supervised
// process
type ProcessMetrics struct {
	CPUPercent float64
	RSSMB      float64
	Uptime     time.Duration
}

// ProcessMetricsReader reads live OS metrics for a PID. Implementations
// are platform-specific: PowerShell/tasklist on Windows, ps/proc on Unix.
type ProcessMetricsReader interface {
	Read(pid int) (ProcessMetrics, error)
}

// parseElapsed parses the elapsed-time formats ps -o etime emits:
// "SS", "MM:SS", "HH:MM:SS", or "DD-HH:MM:SS".
func parseElapsed(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("watchdog: empty elapsed time")
	}

	var days int
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		d, err := strconv.Atoi(s[:idx])
		if err != nil {
			return 0, fmt.Errorf("watchdog: bad elapsed day component %q: %w", s, err)
		}
		days = d
		s = s[idx+1:]
	}

	parts := strings.Split(s, ":")
	var hours, mins, secs int
	var err error
	switch len(parts) {
	case 1:
		secs, err = strconv.Atoi(parts[0])
	case 2:
		mins, err = strconv.Atoi(parts[0])
		if err == nil {
			secs, err = strconv.Atoi(parts[1])
		}
	case 3:
		hours, err = strconv.Atoi(parts[0])
		if err == nil {
			mins, err = strconv.Atoi(parts[1])
		}
		if err == nil {
			secs, err = strconv.Atoi(parts[2])
		}
	default:
		return 0, fmt.Errorf("watchdog: unrecognized elapsed format %q", s)
	}
	if err != nil {
		return 0, fmt.Errorf("watchdog: bad elapsed time %q: %w", s, err)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second
	return total, nil
}
