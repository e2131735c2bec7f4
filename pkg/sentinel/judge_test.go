package sentinel

import (
	"testing"
	"time"

	"github.com/sentineldev/agentgate/pkg/types"
)

func newTestStore() *Store {
	return NewStore(DefaultStoreConfig(), NewBus(16))
}

// TestJudgeHashOnlyModeUsesPrivacyDefault checks the hash-only boundary:
// when the output is never available as plaintext, the Judge must not
// attempt sentence scoring and instead falls back to
// PrivacyDefaultGroundedness with an allow decision.
func TestJudgeHashOnlyModeUsesPrivacyDefault(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	j := NewJudge(DefaultJudgeConfig(), store)

	v := j.Evaluate("irrelevant plaintext that must be ignored", JudgeContext{
		CorrelationID: "c1", SpanID: "s1", HashOnly: true,
	})

	if v.Mode != types.ModeHashOnly {
		t.Fatalf("Mode = %s, want hash-only", v.Mode)
	}
	if v.Groundedness != 0.8 {
		t.Fatalf("Groundedness = %v, want the configured PrivacyDefaultGroundedness 0.8", v.Groundedness)
	}
	if v.Decision != types.DecisionAllow {
		t.Fatalf("Decision = %s, want allow in hash-only mode", v.Decision)
	}
}

// TestJudgeDisabledAlwaysAllows checks the Enabled=false escape hatch.
func TestJudgeDisabledAlwaysAllows(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	cfg := DefaultJudgeConfig()
	cfg.Enabled = false
	j := NewJudge(cfg, store)

	v := j.Evaluate("anything at all", JudgeContext{CorrelationID: "c1", SpanID: "s1"})
	if v.Decision != types.DecisionAllow || v.Groundedness != 1 {
		t.Fatalf("disabled Judge returned %+v, want allow/groundedness=1", v)
	}
}

// TestJudgeLowGroundednessWithExternalActionRequiresApproval checks that
// ungrounded output paired with a pending external action escalates to
// require_approval once groundedness falls under LowThreshold.
func TestJudgeLowGroundednessWithExternalActionRequiresApproval(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	cfg := DefaultJudgeConfig()
	cfg.LowThreshold = 0.7
	j := NewJudge(cfg, store)

	// No evidence stored at all: every sampled sentence scores 0 support,
	// so groundedness is 0 regardless of wording.
	output := "The wire transfer will be sent to the offshore account immediately."
	v := j.Evaluate(output, JudgeContext{
		CorrelationID: "c1", SpanID: "s1", HasExternalAction: true,
	})

	if v.Groundedness >= cfg.LowThreshold {
		t.Fatalf("Groundedness = %v, want below LowThreshold %v with no supporting evidence", v.Groundedness, cfg.LowThreshold)
	}
	if v.Decision != types.DecisionRequireApproval {
		t.Fatalf("Decision = %s, want require_approval", v.Decision)
	}
}

// TestJudgeLowGroundednessWithoutExternalActionStillAllows checks the
// require_approval escalation only fires when HasExternalAction is true.
func TestJudgeLowGroundednessWithoutExternalActionStillAllows(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	j := NewJudge(DefaultJudgeConfig(), store)

	v := j.Evaluate("Completely unsupported claim about the weather on Mars.", JudgeContext{
		CorrelationID: "c1", SpanID: "s1", HasExternalAction: false,
	})
	if v.Decision != types.DecisionAllow {
		t.Fatalf("Decision = %s, want allow when no external action is pending", v.Decision)
	}
}

// TestJudgeGroundedOutputAllows checks a sentence backed by matching
// evidence scores well enough to allow even with an external action
// present.
func TestJudgeGroundedOutputAllows(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	store.StoreEvidence(&types.Evidence{
		SpanID:  "s1",
		Content: "Invoice 4521 totals 900 dollars and is due from Acme Corp.",
	})

	cfg := DefaultJudgeConfig()
	cfg.LowThreshold = 0.1
	j := NewJudge(cfg, store)

	v := j.Evaluate("Invoice 4521 totals 900 dollars and is due from Acme Corp.", JudgeContext{
		CorrelationID: "c1", SpanID: "s1", HasExternalAction: true,
	})
	if v.Groundedness == 0 {
		t.Fatal("expected nonzero groundedness for an output matching stored evidence verbatim")
	}
	if v.Decision != types.DecisionAllow {
		t.Fatalf("Decision = %s, want allow for well-grounded output", v.Decision)
	}
}

// TestJudgeFiltersStaleEvidence checks evidence older than MaxEvidenceAge
// is excluded from scoring.
func TestJudgeFiltersStaleEvidence(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	store.StoreEvidence(&types.Evidence{
		SpanID:    "s1",
		Content:   "Invoice 4521 totals 900 dollars.",
		Timestamp: time.Now().Add(-48 * time.Hour),
	})

	cfg := DefaultJudgeConfig()
	cfg.MaxEvidenceAge = time.Hour
	j := NewJudge(cfg, store)

	evidence := j.filterEvidence("s1")
	if len(evidence) != 0 {
		t.Fatalf("filterEvidence returned %d stale entries, want 0", len(evidence))
	}
}
