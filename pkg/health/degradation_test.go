package health

import (
	"testing"

	"github.com/sentineldev/agentgate/pkg/types"
)

func newTestController(randFloat func() float64) *Controller {
	return NewController(DegradationConfig{
		Levels:    DefaultDegradationLevels(),
		RandFloat: randFloat,
	}, 10, 10)
}

// TestDegradationEscalatesOnHighestHoldingTrigger checks Scan activates the
// highest level whose trigger currently holds, not merely the first one.
func TestDegradationEscalatesOnHighestHoldingTrigger(t *testing.T) {
	c := newTestController(func() float64 { return 0 })
	c.Scan(TriggerSample{MemoryPercent: 96}) // exceeds L3's 95 threshold
	if got := c.ActiveLevel(); got != types.LevelSevere {
		t.Fatalf("ActiveLevel = %v, want LevelSevere", got)
	}
}

// TestDegradationNeverDeescalatesWithoutRecovery checks the ladder only
// escalates or fully deactivates — it never silently drops from L3 to L1
// while L3's own trigger is still holding.
func TestDegradationNeverDeescalatesWithoutRecovery(t *testing.T) {
	c := newTestController(func() float64 { return 0 })
	c.Scan(TriggerSample{MemoryPercent: 96})
	if got := c.ActiveLevel(); got != types.LevelSevere {
		t.Fatalf("ActiveLevel = %v, want LevelSevere after first scan", got)
	}

	// A sample that would only justify L1 must not move an already-L3
	// controller down to L1; recovery requires falling under L3's own
	// recovery threshold.
	c.Scan(TriggerSample{MemoryPercent: 81})
	if got := c.ActiveLevel(); got != types.LevelSevere {
		t.Fatalf("ActiveLevel = %v, want still LevelSevere (partial recovery must not de-escalate)", got)
	}
}

// TestDegradationDeactivatesOnceRecovered checks full recovery across every
// active-level trigger returns to LevelNormal.
func TestDegradationDeactivatesOnceRecovered(t *testing.T) {
	c := newTestController(func() float64 { return 0 })
	c.Scan(TriggerSample{MemoryPercent: 81}) // holds L1's 80 threshold
	if got := c.ActiveLevel(); got != types.LevelLight {
		t.Fatalf("ActiveLevel = %v, want LevelLight", got)
	}

	// L1's RecoveryThreshold is 0.7, so recovery needs every trigger under
	// threshold*0.7; memory threshold is 80, so anything under 56 recovers.
	c.Scan(TriggerSample{MemoryPercent: 10, P50ResponseMs: 10, ErrorRatePct: 0})
	if got := c.ActiveLevel(); got != types.LevelNormal {
		t.Fatalf("ActiveLevel = %v, want LevelNormal after full recovery", got)
	}
}

// TestDegradationNeverShedsExemptPaths checks that /health and /metrics
// are never shed regardless of active level or concurrency/queue
// pressure.
func TestDegradationNeverShedsExemptPaths(t *testing.T) {
	c := newTestController(func() float64 { return 0 }) // 0 always triggers shedding when eligible
	c.ForceLevel(types.LevelSevere)
	for i := 0; i < 10; i++ {
		c.AcquireSlot()
	}

	if got := c.ShouldReject("/health"); got != RejectNone {
		t.Fatalf("ShouldReject(/health) = %q, want never rejected", got)
	}
	if got := c.ShouldReject("/metrics"); got != RejectNone {
		t.Fatalf("ShouldReject(/metrics) = %q, want never rejected", got)
	}
}

// TestDegradationConcurrencyLimitRejectsNonExemptPaths checks a non-exempt
// path is rejected once the concurrency ceiling is hit, ahead of any
// probabilistic shedding.
func TestDegradationConcurrencyLimitRejectsNonExemptPaths(t *testing.T) {
	c := NewController(DegradationConfig{Levels: DefaultDegradationLevels()}, 1, 10)
	if !c.AcquireSlot() {
		t.Fatal("expected first AcquireSlot to succeed")
	}
	if got := c.ShouldReject("/api/invoke"); got != RejectConcurrencyLimit {
		t.Fatalf("ShouldReject = %q, want concurrent_limit_exceeded", got)
	}
}

// TestDegradationLoadSheddingProbabilityScalesWithLevel checks the
// Bernoulli draw uses dropProbability*level/LevelSevere, so L1 (whose
// DropProbability is 0) never sheds even with a draw of 0.
func TestDegradationLoadSheddingProbabilityScalesWithLevel(t *testing.T) {
	c := newTestController(func() float64 { return 0 })
	c.ForceLevel(types.LevelLight)
	if got := c.ShouldReject("/api/invoke"); got != RejectNone {
		t.Fatalf("ShouldReject at L1 (DropProbability 0) = %q, want none", got)
	}

	c.ForceLevel(types.LevelSevere)
	if got := c.ShouldReject("/api/invoke"); got != RejectLoadShedding {
		t.Fatalf("ShouldReject at L3 with draw 0 = %q, want load_shedding", got)
	}
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]RequestPriority{
		"/health":       PriorityExempt,
		"/metrics":      PriorityExempt,
		"/admin/reload": PriorityAdmin,
		"/api/invoke":   PriorityAPI,
		"/static/x.png": PriorityStatic,
	}
	for path, want := range cases {
		if got := ClassifyPath(path); got != want {
			t.Errorf("ClassifyPath(%q) = %v, want %v", path, got, want)
		}
	}
}
