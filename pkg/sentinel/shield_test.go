package sentinel

import (
	"context"
	"testing"

	"github.com/sentineldev/agentgate/pkg/types"
)

func minPtr(v float64) *float64 { return &v }

// TestShieldNoPolicyMatchPasses checks the empty-policy-set default: pass
// through the output unchanged.
func TestShieldNoPolicyMatchPasses(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	judge := NewJudge(DefaultJudgeConfig(), store)
	shield, err := NewShield(DefaultShieldConfig(), "", store, judge, nil, nil)
	if err != nil {
		t.Fatalf("NewShield: %v", err)
	}
	defer shield.Close()

	v := &types.Verdict{Groundedness: 0.9, CitationCoverage: 0.9}
	d := shield.EvaluateOutput(context.Background(), "c1", "agent", "s1", "hello world", v, nil, SinkContext{})
	if d.Action != types.ShieldPass {
		t.Fatalf("Action = %s, want pass", d.Action)
	}
	if d.SanitizedOutput != "hello world" {
		t.Fatalf("SanitizedOutput = %q, want unchanged", d.SanitizedOutput)
	}
}

// TestShieldPriorityOrderingMaskBeatsBlock checks that when two policies
// both match, the lower-Priority policy wins even if a
// higher-priority-number block policy would otherwise also apply.
func TestShieldPriorityOrderingMaskBeatsBlock(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	judge := NewJudge(DefaultJudgeConfig(), store)

	cfg := DefaultShieldConfig()
	cfg.Policies = []types.ShieldPolicy{
		{
			ID: "mask-low-groundedness", Priority: 1, Enabled: true,
			Conditions: []types.ShieldCondition{{Field: "groundedness", Max: minPtr(0.5)}},
			Action:     types.ShieldMask,
		},
		{
			ID: "block-low-groundedness", Priority: 10, Enabled: true,
			Conditions: []types.ShieldCondition{{Field: "groundedness", Max: minPtr(0.5)}},
			Action:     types.ShieldBlock,
		},
	}
	shield, err := NewShield(cfg, "", store, judge, nil, nil)
	if err != nil {
		t.Fatalf("NewShield: %v", err)
	}
	defer shield.Close()

	v := &types.Verdict{Groundedness: 0.2}
	d := shield.EvaluateOutput(context.Background(), "c1", "agent", "s1", "unverified claim", v, nil, SinkContext{})
	if d.PolicyID != "mask-low-groundedness" {
		t.Fatalf("PolicyID = %s, want the lower-priority mask policy to win", d.PolicyID)
	}
	if d.Action != types.ShieldMask {
		t.Fatalf("Action = %s, want mask", d.Action)
	}
}

// TestShieldBlockNeverYieldsSanitizedOutput checks that a block decision
// must never carry a non-empty SanitizedOutput.
func TestShieldBlockNeverYieldsSanitizedOutput(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	judge := NewJudge(DefaultJudgeConfig(), store)

	cfg := DefaultShieldConfig()
	cfg.Policies = []types.ShieldPolicy{
		{
			ID: "block-all", Priority: 1, Enabled: true,
			Conditions: []types.ShieldCondition{{Field: "groundedness", Min: minPtr(0)}},
			Action:     types.ShieldBlock,
		},
	}
	shield, err := NewShield(cfg, "", store, judge, nil, nil)
	if err != nil {
		t.Fatalf("NewShield: %v", err)
	}
	defer shield.Close()

	v := &types.Verdict{Groundedness: 0.9}
	d := shield.EvaluateOutput(context.Background(), "c1", "agent", "s1", "sensitive secret output", v, nil, SinkContext{})
	if d.Action != types.ShieldBlock {
		t.Fatalf("Action = %s, want block", d.Action)
	}
	if d.SanitizedOutput != "" {
		t.Fatalf("SanitizedOutput = %q, want empty for a block decision", d.SanitizedOutput)
	}
}

// TestShieldDisabledPolicyIsSkipped checks Enabled=false policies never
// match even when their conditions would otherwise hold.
func TestShieldDisabledPolicyIsSkipped(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	judge := NewJudge(DefaultJudgeConfig(), store)

	cfg := DefaultShieldConfig()
	cfg.Policies = []types.ShieldPolicy{
		{
			ID: "disabled-block", Priority: 1, Enabled: false,
			Conditions: []types.ShieldCondition{{Field: "groundedness", Min: minPtr(0)}},
			Action:     types.ShieldBlock,
		},
	}
	shield, err := NewShield(cfg, "", store, judge, nil, nil)
	if err != nil {
		t.Fatalf("NewShield: %v", err)
	}
	defer shield.Close()

	v := &types.Verdict{Groundedness: 0.9}
	d := shield.EvaluateOutput(context.Background(), "c1", "agent", "s1", "text", v, nil, SinkContext{})
	if d.Action != types.ShieldPass {
		t.Fatalf("Action = %s, want pass (disabled policy must not match)", d.Action)
	}
}

// TestShieldContinueChainsToLowerPriorityMatch checks the Continue flag
// lets a flag policy fall through to a later block policy instead of
// stopping evaluation at the first match.
func TestShieldContinueChainsToLowerPriorityMatch(t *testing.T) {
	store := newTestStore()
	defer store.Close()
	judge := NewJudge(DefaultJudgeConfig(), store)

	cfg := DefaultShieldConfig()
	cfg.Policies = []types.ShieldPolicy{
		{
			ID: "flag-and-continue", Priority: 1, Enabled: true, Continue: true,
			Conditions: []types.ShieldCondition{{Field: "groundedness", Min: minPtr(0)}},
			Action:     types.ShieldFlag,
		},
		{
			ID: "block-after", Priority: 2, Enabled: true,
			Conditions: []types.ShieldCondition{{Field: "groundedness", Min: minPtr(0)}},
			Action:     types.ShieldBlock,
		},
	}
	shield, err := NewShield(cfg, "", store, judge, nil, nil)
	if err != nil {
		t.Fatalf("NewShield: %v", err)
	}
	defer shield.Close()

	v := &types.Verdict{Groundedness: 0.9}
	d := shield.EvaluateOutput(context.Background(), "c1", "agent", "s1", "text", v, nil, SinkContext{})
	if d.PolicyID != "block-after" {
		t.Fatalf("PolicyID = %s, want the later block policy to win after Continue", d.PolicyID)
	}
}
