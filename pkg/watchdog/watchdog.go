// Package watchdog implements the external process supervisor: PID
// liveness checks, HTTP health probes, OS-level process metrics
// (procmetrics.go, platform-specific), and a restart policy with a
// capped ring buffer of recovery events.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sentineldev/agentgate/pkg/logging"
)

// ErrAdoptedPIDCannotRespawn is returned by Restart when the watchdog was
// attached to an already-running process (adopted, not spawned by this
// watchdog) and so has no command line to respawn it with.
var ErrAdoptedPIDCannotRespawn = errors.New("watchdog: adopted PID cannot be respawned, only signaled")

// RecoveryEventKind enumerates entries in the capped recovery ring buffer.
type RecoveryEventKind string

const (
	RecoveryRestart     RecoveryEventKind = "restart"
	RecoveryKill        RecoveryEventKind = "kill"
	RecoveryAlert       RecoveryEventKind = "alert"
	RecoveryEscalation  RecoveryEventKind = "escalation-required"
)

// RecoveryEvent is one ring-buffer entry.
type RecoveryEvent struct {
	Kind      RecoveryEventKind
	Message   string
	Timestamp time.Time
}

// Config configures one Watchdog instance.
type Config struct {
	PID             int
	Adopted         bool // true if PID was adopted rather than spawned by this watchdog
	RespawnCommand  []string // only used when !Adopted

	HealthURL       string
	CheckInterval   time.Duration
	HTTPTimeout     time.Duration
	MaxResponseTime time.Duration
	MaxMemoryMB     float64
	MaxCPUPercent   float64

	FailureThreshold int
	RestartDelay     time.Duration
	RestartWindow    time.Duration
	MaxRestarts      int

	Logger logging.Logger
	Now    func() time.Time
}

// Watchdog supervises one process per Config.
type Watchdog struct {
	cfg    Config
	now    func() time.Time
	prober *HTTPProber
	metrics ProcessMetricsReader

	mu               sync.Mutex
	pid              int
	consecutiveFails int
	restartTimes     []time.Time
	ring             []RecoveryEvent
	ringCap          int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Watchdog. metrics may be nil to use the platform default
// from NewPlatformMetricsReader().
func New(cfg Config, metrics ProcessMetricsReader) *Watchdog {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 10 * time.Second
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = 10 * time.Minute
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if metrics == nil {
		metrics = NewPlatformMetricsReader()
	}
	return &Watchdog{
		cfg: cfg, now: cfg.Now, pid: cfg.PID,
		prober:  NewHTTPProber(cfg.HealthURL, cfg.HTTPTimeout),
		metrics: metrics,
		ringCap: 50,
		stop:    make(chan struct{}),
	}
}

// Start launches the monitoring loop.
func (w *Watchdog) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the monitoring loop.
func (w *Watchdog) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Watchdog) loop() {
	defer w.wg.Done()
	t := time.NewTicker(w.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.checkOnce()
		}
	}
}

func (w *Watchdog) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.HTTPTimeout)
	defer cancel()

	healthy, reason := w.healthCheck(ctx)

	w.mu.Lock()
	if healthy {
		w.consecutiveFails = 0
		w.mu.Unlock()
		return
	}
	w.consecutiveFails++
	fails := w.consecutiveFails
	w.mu.Unlock()

	w.cfg.Logger.Warn("watchdog health check failed", map[string]interface{}{"reason": reason, "consecutive": fails})

	if fails >= w.cfg.FailureThreshold {
		w.handleFailure(reason)
	}
}

// healthCheck applies the five failure rules: process
// absent, HTTP non-2xx/timeout, response time, memory, and CPU thresholds.
func (w *Watchdog) healthCheck(ctx context.Context) (healthy bool, reason string) {
	w.mu.Lock()
	pid := w.pid
	w.mu.Unlock()

	if !processExists(pid) {
		return false, "process absent"
	}

	if w.cfg.HealthURL != "" {
		status, respTime, err := w.prober.Probe(ctx)
		if err != nil {
			return false, fmt.Sprintf("http probe error: %v", err)
		}
		if status < 200 || status >= 300 {
			return false, fmt.Sprintf("http status %d", status)
		}
		if w.cfg.MaxResponseTime > 0 && respTime > w.cfg.MaxResponseTime {
			return false, fmt.Sprintf("response time %s exceeds max %s", respTime, w.cfg.MaxResponseTime)
		}
	}

	m, err := w.metrics.Read(pid)
	if err != nil {
		w.cfg.Logger.Warn("watchdog: process metrics read failed", map[string]interface{}{"error": err.Error()})
		return true, "" // metrics unavailable is not itself a failure
	}
	if w.cfg.MaxMemoryMB > 0 && m.RSSMB > w.cfg.MaxMemoryMB {
		return false, fmt.Sprintf("memory %.1fMB exceeds max %.1fMB", m.RSSMB, w.cfg.MaxMemoryMB)
	}
	if w.cfg.MaxCPUPercent > 0 && m.CPUPercent > w.cfg.MaxCPUPercent {
		return false, fmt.Sprintf("cpu %.1f%% exceeds max %.1f%%", m.CPUPercent, w.cfg.MaxCPUPercent)
	}
	return true, ""
}

func (w *Watchdog) handleFailure(reason string) {
	w.mu.Lock()
	now := w.now()
	cutoff := now.Add(-w.cfg.RestartWindow)
	kept := w.restartTimes[:0]
	for _, t := range w.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.restartTimes = kept

	if len(w.restartTimes) >= w.cfg.MaxRestarts {
		w.appendRingLocked(RecoveryEvent{Kind: RecoveryEscalation, Message: "restart window exceeded: " + reason, Timestamp: now})
		w.mu.Unlock()
		w.cfg.Logger.Error("watchdog: escalation-required, restart budget exhausted", map[string]interface{}{"reason": reason})
		return
	}
	w.restartTimes = append(w.restartTimes, now)
	w.consecutiveFails = 0
	w.mu.Unlock()

	if err := w.Restart(reason); err != nil {
		w.cfg.Logger.Error("watchdog: restart failed", map[string]interface{}{"error": err.Error()})
	}
}

// Restart performs SIGTERM, waits RestartDelay, then SIGKILL if the
// process is still alive, and — for spawned (non-adopted) processes only
// — execs RespawnCommand to bring up a replacement.
func (w *Watchdog) Restart(reason string) error {
	w.mu.Lock()
	pid := w.pid
	w.mu.Unlock()

	w.appendRing(RecoveryEvent{Kind: RecoveryRestart, Message: reason, Timestamp: w.now()})

	if processExists(pid) {
		_ = signalProcess(pid, syscall.SIGTERM)
		time.Sleep(w.cfg.RestartDelay)
		if processExists(pid) {
			w.appendRing(RecoveryEvent{Kind: RecoveryKill, Message: "SIGKILL after grace period", Timestamp: w.now()})
			_ = signalProcess(pid, syscall.SIGKILL)
		}
	}

	if w.cfg.Adopted {
		return ErrAdoptedPIDCannotRespawn
	}
	if len(w.cfg.RespawnCommand) == 0 {
		return fmt.Errorf("watchdog: no respawn command configured")
	}
	newPID, err := spawn(w.cfg.RespawnCommand)
	if err != nil {
		return fmt.Errorf("watchdog: respawn failed: %w", err)
	}
	w.mu.Lock()
	w.pid = newPID
	w.mu.Unlock()
	return nil
}

func (w *Watchdog) appendRing(e RecoveryEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendRingLocked(e)
}

func (w *Watchdog) appendRingLocked(e RecoveryEvent) {
	w.ring = append(w.ring, e)
	if len(w.ring) > w.ringCap {
		w.ring = w.ring[len(w.ring)-w.ringCap:]
	}
}

// History returns a snapshot of the capped recovery event ring buffer.
func (w *Watchdog) History() []RecoveryEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]RecoveryEvent, len(w.ring))
	copy(out, w.ring)
	return out
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
