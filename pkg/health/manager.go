// Package health implements the gateway's control plane: multi-check
// health monitoring (manager.go), resource-leak detection over sliding
// windows (leak_detector.go), a graceful-degradation controller with
// load-shedding levels (degradation.go), a recovery controller
// (recovery.go), and alerting (alerts.go, slacksink.go).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/types"
)

// Status is the Health Manager's overall rollup.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one run's outcome for a single check.
type CheckResult struct {
	Name      string
	Healthy   bool
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// Check is one registered health probe.
type Check struct {
	Name             string
	Interval         time.Duration
	Timeout          time.Duration
	Retries          int
	SuccessThreshold int
	FailureThreshold int
	Probe            func(ctx context.Context) error
}

// checkState tracks one check's rolling history and consecutive counters.
type checkState struct {
	cfg              Check
	history          []CheckResult // rolling window, newest last, capped at 10
	consecutiveFail  int
	consecutiveOK    int
	lastAlertID      string
}

const checkHistoryCap = 10

// ResourceSampler produces one ResourceSnapshot on demand; the composition
// root wires in OS-level sampling (heap stats, RSS, connections, ...).
type ResourceSampler func() types.ResourceSnapshot

// ManagerConfig configures the Health Manager.
type ManagerConfig struct {
	Checks             []Check
	ResourceSampler    ResourceSampler
	ResourceEvery      time.Duration
	ResourceHistoryCap int
	Alerts             *AlertManager
	Logger             logging.Logger
	Now                func() time.Time
}

// Manager runs registered checks on their own cadence and periodically
// samples resource usage
type Manager struct {
	cfg ManagerConfig
	now func() time.Time

	mu     sync.RWMutex
	states map[string]*checkState

	resMu      sync.Mutex
	resHistory []types.ResourceSnapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager builds a Manager and starts each check's loop plus the
// resource sampler. Call Stop to shut everything down.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ResourceEvery <= 0 {
		cfg.ResourceEvery = time.Minute
	}
	if cfg.ResourceHistoryCap <= 0 {
		cfg.ResourceHistoryCap = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Manager{
		cfg:    cfg,
		now:    cfg.Now,
		states: make(map[string]*checkState, len(cfg.Checks)),
		stop:   make(chan struct{}),
	}
	for _, c := range cfg.Checks {
		if c.Interval <= 0 {
			c.Interval = 30 * time.Second
		}
		if c.Timeout <= 0 {
			c.Timeout = 5 * time.Second
		}
		if c.FailureThreshold <= 0 {
			c.FailureThreshold = 3
		}
		if c.SuccessThreshold <= 0 {
			c.SuccessThreshold = 1
		}
		m.states[c.Name] = &checkState{cfg: c}
		m.wg.Add(1)
		go m.runCheckLoop(c)
	}
	if cfg.ResourceSampler != nil {
		m.wg.Add(1)
		go m.runResourceLoop()
	}
	return m
}

// Stop halts all check and sampling loops.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) runCheckLoop(c Check) {
	defer m.wg.Done()
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.runCheckOnce(c)
		}
	}
}

func (m *Manager) runCheckOnce(c Check) {
	var result CheckResult
	attempts := c.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		start := m.now()
		err := c.Probe(ctx)
		cancel()
		result = CheckResult{Name: c.Name, Healthy: err == nil, Latency: m.now().Sub(start), CheckedAt: m.now()}
		if err != nil {
			result.Error = err.Error()
		}
		if err == nil {
			break
		}
		if attempt < attempts-1 {
			time.Sleep(time.Second)
		}
	}

	m.mu.Lock()
	st := m.states[c.Name]
	st.history = append(st.history, result)
	if len(st.history) > checkHistoryCap {
		st.history = st.history[len(st.history)-checkHistoryCap:]
	}
	if result.Healthy {
		st.consecutiveOK++
		st.consecutiveFail = 0
	} else {
		st.consecutiveFail++
		st.consecutiveOK = 0
	}
	fail := st.consecutiveFail >= c.FailureThreshold
	recovered := result.Healthy && st.consecutiveOK >= c.SuccessThreshold
	alertID := st.lastAlertID
	m.mu.Unlock()

	if m.cfg.Alerts == nil {
		return
	}
	if fail {
		id := m.cfg.Alerts.Raise(AlertWarning, "health check failing: "+c.Name, map[string]interface{}{
			"check": c.Name, "error": result.Error,
		}, "check:"+c.Name)
		m.mu.Lock()
		st.lastAlertID = id
		m.mu.Unlock()
	} else if recovered && alertID != "" {
		m.cfg.Alerts.Resolve(alertID)
		m.mu.Lock()
		st.lastAlertID = ""
		m.mu.Unlock()
	}
}

func (m *Manager) runResourceLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.ResourceEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			snap := m.cfg.ResourceSampler()
			m.resMu.Lock()
			m.resHistory = append(m.resHistory, snap)
			if len(m.resHistory) > m.cfg.ResourceHistoryCap {
				m.resHistory = m.resHistory[len(m.resHistory)-m.cfg.ResourceHistoryCap:]
			}
			m.resMu.Unlock()

			if m.cfg.Alerts != nil && snap.Memory.HeapBytes > 0 {
				// critical memory pressure: heapUsed/heapTotal > 0.9 — ExtBytes
				// carries the heap total/limit figure the sampler reports.
				if snap.Memory.ExtBytes > 0 && float64(snap.Memory.HeapBytes)/float64(snap.Memory.ExtBytes) > 0.9 {
					m.cfg.Alerts.Raise(AlertCritical, "critical memory pressure", map[string]interface{}{
						"heap_bytes": snap.Memory.HeapBytes, "limit_bytes": snap.Memory.ExtBytes,
					}, "memory-pressure")
				}
			}
		}
	}
}

// ResourceHistory returns a copy of the retained resource snapshots.
func (m *Manager) ResourceHistory() []types.ResourceSnapshot {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	out := make([]types.ResourceSnapshot, len(m.resHistory))
	copy(out, m.resHistory)
	return out
}

// Overall computes the rollup status: healthy if >=80% of checks' latest
// result passed, degraded if >=50%, else unhealthy.
func (m *Manager) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.states) == 0 {
		return StatusHealthy
	}
	passing := 0
	for _, st := range m.states {
		if len(st.history) == 0 {
			passing++ // no data yet: assume healthy
			continue
		}
		if st.history[len(st.history)-1].Healthy {
			passing++
		}
	}
	ratio := float64(passing) / float64(len(m.states))
	switch {
	case ratio >= 0.8:
		return StatusHealthy
	case ratio >= 0.5:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Snapshot returns every check's most recent result, for a /health endpoint.
func (m *Manager) Snapshot() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.states))
	for name, st := range m.states {
		if len(st.history) > 0 {
			out[name] = st.history[len(st.history)-1]
		}
	}
	return out
}

// DefaultChecks returns the default check set (application
// responsiveness, memory usage, database connectivity) bound to the given
// probe functions.
func DefaultChecks(responsiveness, memory, database func(ctx context.Context) error) []Check {
	return []Check{
		{Name: "application-responsiveness", Interval: 15 * time.Second, Timeout: 2 * time.Second, FailureThreshold: 3, Probe: responsiveness},
		{Name: "memory-usage", Interval: 30 * time.Second, Timeout: 2 * time.Second, FailureThreshold: 3, Probe: memory},
		{Name: "database-connectivity", Interval: 30 * time.Second, Timeout: 5 * time.Second, Retries: 1, FailureThreshold: 3, Probe: database},
	}
}
