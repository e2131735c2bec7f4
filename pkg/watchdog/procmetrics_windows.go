//go:build windows

package watchdog

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// windowsMetricsReader shells out to PowerShell's Get-Process, falling
// back to tasklist /FO CSV for RSS-only readings when PowerShell itself
// is unavailable. Intentionally stdlib os/exec: this is a supervisor
// reading another process's OS metrics, not a domain concern any
// third-party library in this module's dependency set addresses.
type windowsMetricsReader struct{}

// NewPlatformMetricsReader returns the Windows ProcessMetricsReader.
func NewPlatformMetricsReader() ProcessMetricsReader {
	return windowsMetricsReader{}
}

func (windowsMetricsReader) Read(pid int) (ProcessMetrics, error) {
	m, err := powershellRead(pid)
	if err == nil {
		return m, nil
	}
	return tasklistRead(pid)
}

func powershellRead(pid int) (ProcessMetrics, error) {
	script := fmt.Sprintf(
		"$p = Get-Process -Id %d; "+
			"\"{0},{1},{2}\" -f $p.CPU, $p.WorkingSet64, (New-TimeSpan -Start $p.StartTime).TotalSeconds",
		pid,
	)
	out, err := exec.Command("powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("watchdog: powershell failed: %w", err)
	}
	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) != 3 {
		return ProcessMetrics{}, fmt.Errorf("watchdog: unexpected powershell output %q", string(out))
	}
	cpuSeconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("watchdog: bad cpu field %q: %w", fields[0], err)
	}
	workingSet, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("watchdog: bad workingset field %q: %w", fields[1], err)
	}
	uptimeSeconds, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("watchdog: bad uptime field %q: %w", fields[2], err)
	}
	var cpuPercent float64
	if uptimeSeconds > 0 {
		cpuPercent = cpuSeconds / uptimeSeconds * 100
	}
	return ProcessMetrics{
		CPUPercent: cpuPercent,
		RSSMB:      workingSet / (1024 * 1024),
		Uptime:     time.Duration(uptimeSeconds) * time.Second,
	}, nil
}

// tasklistRead is the fallback when PowerShell is unavailable (e.g. a
// Nano Server image). It reports RSS only, via the Mem Usage column of
// the CSV verbose format; CPU percent and uptime need a sampling window
// tasklist alone can't supply.
func tasklistRead(pid int) (ProcessMetrics, error) {
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/V").Output()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("watchdog: tasklist failed: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return ProcessMetrics{}, fmt.Errorf("watchdog: process %d not found via tasklist", pid)
	}
	fields := strings.Split(lines[1], "\",\"")
	if len(fields) < 5 {
		return ProcessMetrics{}, fmt.Errorf("watchdog: unexpected tasklist output %q", lines[1])
	}
	memField := strings.Trim(fields[4], "\" ")
	memField = strings.NewReplacer(" K", "", ",", "").Replace(memField)
	memKB, err := strconv.ParseFloat(memField, 64)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("watchdog: bad mem field %q: %w", memField, err)
	}
	return ProcessMetrics{RSSMB: memKB / 1024}, nil
}

// spawn launches a replacement process detached from the watchdog's
// console respawn requirement.
func spawn(cmd []string) (int, error) {
	if len(cmd) == 0 {
		return 0, fmt.Errorf("watchdog: empty respawn command")
	}
	c := exec.Command(cmd[0], cmd[1:]...)
	if err := c.Start(); err != nil {
		return 0, err
	}
	return c.Process.Pid, nil
}
