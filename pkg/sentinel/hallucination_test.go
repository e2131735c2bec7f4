package sentinel

import (
	"testing"

	"github.com/sentineldev/agentgate/pkg/types"
)

func TestDetectHallucinationUncertaintyLanguageScoresNonzero(t *testing.T) {
	res := DetectHallucination("What year did the treaty get signed?", "I'm not sure, it might be 1850.", DefaultHallucinationConfig())
	if res.Score <= 0 {
		t.Fatal("expected nonzero score for uncertainty-laden output")
	}
}

func TestDetectHallucinationContradictionRaisesScore(t *testing.T) {
	baseline := DetectHallucination("Is the store open?", "The store is open today.", DefaultHallucinationConfig())
	contradictory := DetectHallucination("Is the store open?", "Yes the store is open, no it is closed.", DefaultHallucinationConfig())
	if contradictory.Score <= baseline.Score {
		t.Fatalf("contradictory score %v should exceed baseline %v", contradictory.Score, baseline.Score)
	}
}

func TestDetectHallucinationImpossibleDateIsHighSeverity(t *testing.T) {
	res := DetectHallucination("When is the deadline?", "The deadline is February 30th at 25:00.", DefaultHallucinationConfig())
	if res.Severity != types.SeverityHigh {
		t.Fatalf("Severity = %s, want high for an impossible calendar date", res.Severity)
	}
}

func TestDetectHallucinationUnrelatedOutputHasHighDrift(t *testing.T) {
	res := DetectHallucination(
		"Summarize the quarterly revenue report for the finance team",
		"Bananas are a great source of potassium and grow in tropical climates",
		DefaultHallucinationConfig(),
	)
	if res.ContextDrift < 0.8 {
		t.Fatalf("ContextDrift = %v, want high drift for a wholly unrelated output", res.ContextDrift)
	}
}
