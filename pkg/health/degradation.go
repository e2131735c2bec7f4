package health

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sentineldev/agentgate/pkg/types"
)

// RequestPriority classifies an inbound request for load-shedding purposes.
type RequestPriority int

const (
	PriorityExempt RequestPriority = iota
	PriorityAdmin
	PriorityAPI
	PriorityStatic
)

// ClassifyPath assigns priority from a request path:
// /health and /metrics are exempt from shedding, then admin > api > static.
func ClassifyPath(path string) RequestPriority {
	switch {
	case path == "/health" || path == "/metrics":
		return PriorityExempt
	case len(path) >= 6 && path[:6] == "/admin":
		return PriorityAdmin
	case len(path) >= 4 && path[:4] == "/api":
		return PriorityAPI
	default:
		return PriorityStatic
	}
}

// RejectReason is why the controller shed a request.
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectConcurrencyLimit  RejectReason = "concurrent_limit_exceeded"
	RejectQueueFull         RejectReason = "queue_full"
	RejectLoadShedding      RejectReason = "load_shedding"
)

// TriggerSample is the live metric values the state machine scans against
// the active level's triggers.
type TriggerSample struct {
	MemoryPercent float64
	P50ResponseMs float64
	ErrorRatePct  float64
}

// LevelConfig is one escalation step's full definition, matching the
// defaults
type LevelConfig struct {
	Level              types.DegradationLevelID
	Triggers           []types.DegradationTrigger
	DisabledFeatures   []string
	DropProbability    float64
	RecoveryThreshold  float64
	OnActivate         func()
	OnDeactivate       func()
}

// DegradationConfig configures the controller's escalation ladder.
type DegradationConfig struct {
	Levels     []LevelConfig // ordered L1..L3; L0 (normal) is implicit
	ScanEvery  time.Duration
	SampleFn   func() TriggerSample
	RandFloat  func() float64 // [0,1); overridden in tests for determinism
}

// DefaultDegradationLevels returns the three levels with the thresholds
// defaults table.
func DefaultDegradationLevels() []LevelConfig {
	return []LevelConfig{
		{
			Level: types.LevelLight,
			Triggers: []types.DegradationTrigger{
				{Name: "memory", Metric: "memory_percent", Threshold: 80, Window: 30 * time.Second},
				{Name: "latency", Metric: "p50_response_ms", Threshold: 2000, Window: time.Minute},
				{Name: "errors", Metric: "error_rate_pct", Threshold: 5, Window: 30 * time.Second},
			},
			DisabledFeatures:  []string{"analytics", "verbose_logs"},
			DropProbability:   0,
			RecoveryThreshold: 0.7,
		},
		{
			Level: types.LevelModerate,
			Triggers: []types.DegradationTrigger{
				{Name: "memory", Metric: "memory_percent", Threshold: 90, Window: 15 * time.Second},
				{Name: "latency", Metric: "p50_response_ms", Threshold: 5000, Window: 30 * time.Second},
				{Name: "errors", Metric: "error_rate_pct", Threshold: 10, Window: 15 * time.Second},
			},
			DisabledFeatures:  []string{"caching", "background_tasks"},
			DropProbability:   0.2,
			RecoveryThreshold: 0.6,
		},
		{
			Level: types.LevelSevere,
			Triggers: []types.DegradationTrigger{
				{Name: "memory", Metric: "memory_percent", Threshold: 95, Window: 5 * time.Second},
				{Name: "latency", Metric: "p50_response_ms", Threshold: 10000, Window: 15 * time.Second},
				{Name: "errors", Metric: "error_rate_pct", Threshold: 20, Window: 10 * time.Second},
			},
			DisabledFeatures:  []string{"all_non_essential"},
			DropProbability:   0.5,
			RecoveryThreshold: 0.5,
		},
	}
}

// Controller implements the L0..L3 load-shedding state machine, scanning
// every ScanEvery and only ever escalating to a higher level or
// deactivating entirely
type Controller struct {
	cfg DegradationConfig

	mu           sync.RWMutex
	activeLevel  types.DegradationLevelID
	activeConfig *LevelConfig
	concurrency  int
	maxConcurrency int
	queueDepth   int
	maxQueue     int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewController builds a Controller. maxConcurrency/maxQueue feed the
// concurrent_limit_exceeded / queue_full shedding reasons.
func NewController(cfg DegradationConfig, maxConcurrency, maxQueue int) *Controller {
	if cfg.ScanEvery <= 0 {
		cfg.ScanEvery = 5 * time.Second
	}
	if cfg.RandFloat == nil {
		cfg.RandFloat = rand.Float64
	}
	return &Controller{
		cfg: cfg, activeLevel: types.LevelNormal,
		maxConcurrency: maxConcurrency, maxQueue: maxQueue,
		stop: make(chan struct{}),
	}
}

// Start launches the scan loop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.scanLoop()
}

// Stop halts the scan loop.
func (c *Controller) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Controller) scanLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.ScanEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if c.cfg.SampleFn != nil {
				c.Scan(c.cfg.SampleFn())
			}
		}
	}
}

// Scan evaluates sample against the ladder, escalating to the highest
// level with a holding trigger, or deactivating if the active level's
// triggers have all fallen below threshold*recoveryThreshold.
func (c *Controller) Scan(sample TriggerSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	highestHolding := types.LevelNormal
	var holdingConfig *LevelConfig
	for i := range c.cfg.Levels {
		lvl := &c.cfg.Levels[i]
		if anyTriggerHolds(lvl.Triggers, sample) && lvl.Level > highestHolding {
			highestHolding = lvl.Level
			holdingConfig = lvl
		}
	}

	if highestHolding > c.activeLevel {
		c.activate(holdingConfig)
		return
	}

	if c.activeLevel != types.LevelNormal && c.activeConfig != nil {
		if allTriggersRecovered(c.activeConfig.Triggers, sample, c.activeConfig.RecoveryThreshold) {
			c.deactivate()
		}
	}
}

func anyTriggerHolds(triggers []types.DegradationTrigger, s TriggerSample) bool {
	for _, t := range triggers {
		if metricValue(t.Metric, s) > t.Threshold {
			return true
		}
	}
	return false
}

func allTriggersRecovered(triggers []types.DegradationTrigger, s TriggerSample, recoveryThreshold float64) bool {
	for _, t := range triggers {
		if metricValue(t.Metric, s) >= t.Threshold*recoveryThreshold {
			return false
		}
	}
	return true
}

func metricValue(metric string, s TriggerSample) float64 {
	switch metric {
	case "memory_percent":
		return s.MemoryPercent
	case "p50_response_ms":
		return s.P50ResponseMs
	case "error_rate_pct":
		return s.ErrorRatePct
	default:
		return 0
	}
}

func (c *Controller) activate(lvl *LevelConfig) {
	c.activeLevel = lvl.Level
	c.activeConfig = lvl
	if lvl.OnActivate != nil {
		lvl.OnActivate()
	}
}

func (c *Controller) deactivate() {
	if c.activeConfig != nil && c.activeConfig.OnDeactivate != nil {
		c.activeConfig.OnDeactivate()
	}
	c.activeLevel = types.LevelNormal
	c.activeConfig = nil
}

// ForceLevel lets an operator manually pin the active level.
func (c *Controller) ForceLevel(level types.DegradationLevelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level == types.LevelNormal {
		c.deactivate()
		return
	}
	for i := range c.cfg.Levels {
		if c.cfg.Levels[i].Level == level {
			c.activate(&c.cfg.Levels[i])
			return
		}
	}
}

// ActiveLevel returns the currently active level.
func (c *Controller) ActiveLevel() types.DegradationLevelID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeLevel
}

// AcquireSlot increments the in-flight concurrency counter if under the
// configured max, returning ok=false otherwise. Release must be called
// exactly once for every successful acquire.
func (c *Controller) AcquireSlot() (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxConcurrency > 0 && c.concurrency >= c.maxConcurrency {
		return false
	}
	c.concurrency++
	return true
}

// ReleaseSlot decrements the in-flight concurrency counter.
func (c *Controller) ReleaseSlot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.concurrency > 0 {
		c.concurrency--
	}
}

// ShouldReject classifies whether path should be shed right now, in the
// priority order: exempt paths never shed; otherwise
// concurrency limit, then queue depth, then a Bernoulli load-shedding draw
// scaled by dropProbability * level.
func (c *Controller) ShouldReject(path string) RejectReason {
	if ClassifyPath(path) == PriorityExempt {
		return RejectNone
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.maxConcurrency > 0 && c.concurrency >= c.maxConcurrency {
		return RejectConcurrencyLimit
	}
	if c.maxQueue > 0 && c.queueDepth >= c.maxQueue {
		return RejectQueueFull
	}
	if c.activeConfig == nil || c.activeConfig.DropProbability <= 0 {
		return RejectNone
	}
	levelFactor := float64(c.activeLevel)
	p := c.activeConfig.DropProbability * levelFactor / float64(types.LevelSevere)
	if c.cfg.RandFloat() < p {
		return RejectLoadShedding
	}
	return RejectNone
}
