package health

import (
	"context"
	"errors"
	"testing"

	"github.com/sentineldev/agentgate/pkg/types"
)

func testStrategies(results map[string]error, calls map[string]*int) []Strategy {
	mk := func(id string, rank StrategyRank) Strategy {
		return Strategy{ID: id, Rank: rank, Action: func(ctx context.Context, reason string) error {
			if calls != nil {
				n := calls[id]
				if n == nil {
					n = new(int)
					calls[id] = n
				}
				*n++
			}
			return results[id]
		}}
	}
	return []Strategy{
		mk("restart-connection", StrategySoft),
		mk("clear-cache", StrategyMedium),
		mk("restart-component", StrategyHard),
		mk("failover", StrategyEmergency),
	}
}

// TestExecuteRecoveryRecordsHistory checks a successful named strategy run
// is recorded with RecoverySucceeded.
func TestExecuteRecoveryRecordsHistory(t *testing.T) {
	rc := NewRecoveryController(RecoveryConfig{Strategies: testStrategies(nil, nil)})
	if err := rc.ExecuteRecovery(context.Background(), "clear-cache", "manual"); err != nil {
		t.Fatalf("ExecuteRecovery: %v", err)
	}
	hist := rc.History()
	if len(hist) != 1 || hist[0].Status != types.RecoverySucceeded || hist[0].StrategyID != "clear-cache" {
		t.Fatalf("History = %+v, want one succeeded clear-cache entry", hist)
	}
}

// TestExecuteRecoveryUnknownStrategy checks an unknown id errors without
// recording a history entry.
func TestExecuteRecoveryUnknownStrategy(t *testing.T) {
	rc := NewRecoveryController(RecoveryConfig{Strategies: testStrategies(nil, nil)})
	if err := rc.ExecuteRecovery(context.Background(), "nonexistent", "manual"); err == nil {
		t.Fatal("expected an error for an unknown strategy id")
	}
	if len(rc.History()) != 0 {
		t.Fatal("expected no history entry for an unknown strategy")
	}
}

// TestEscalatedRecoveryStartsAtKeywordRank checks a "latency" reason starts
// at StrategyMedium, skipping the soft strategy entirely.
func TestEscalatedRecoveryStartsAtKeywordRank(t *testing.T) {
	calls := map[string]*int{}
	rc := NewRecoveryController(RecoveryConfig{Strategies: testStrategies(nil, calls)})

	if err := rc.ExecuteEscalatedRecovery(context.Background(), "latency spike detected"); err != nil {
		t.Fatalf("ExecuteEscalatedRecovery: %v", err)
	}
	if calls["restart-connection"] != nil {
		t.Fatal("soft strategy should not run for a latency-triggered escalation")
	}
	if calls["clear-cache"] == nil || *calls["clear-cache"] != 1 {
		t.Fatal("expected the medium-rank strategy to run exactly once")
	}
}

// TestEscalatedRecoveryStopsAtFirstSuccess checks strategies beyond the
// first success never run.
func TestEscalatedRecoveryStopsAtFirstSuccess(t *testing.T) {
	calls := map[string]*int{}
	rc := NewRecoveryController(RecoveryConfig{Strategies: testStrategies(map[string]error{
		"restart-connection": nil, // succeeds immediately
	}, calls)})

	if err := rc.ExecuteEscalatedRecovery(context.Background(), "memory pressure"); err != nil {
		t.Fatalf("ExecuteEscalatedRecovery: %v", err)
	}
	if calls["clear-cache"] != nil {
		t.Fatal("expected no further strategies once the first succeeded")
	}
}

// TestEscalatedRecoveryExhaustionTriggersOnEscalation checks that when
// every strategy from the starting rank fails, OnEscalation fires and the
// returned error mentions escalation.
func TestEscalatedRecoveryExhaustionTriggersOnEscalation(t *testing.T) {
	escalated := false
	rc := NewRecoveryController(RecoveryConfig{
		Strategies: testStrategies(map[string]error{
			"restart-connection": errors.New("fail"),
			"clear-cache":        errors.New("fail"),
			"restart-component":  errors.New("fail"),
			"failover":           errors.New("fail"),
		}, nil),
		OnEscalation: func(reason string) { escalated = true },
	})

	err := rc.ExecuteEscalatedRecovery(context.Background(), "memory pressure")
	if err == nil {
		t.Fatal("expected an error once every strategy is exhausted")
	}
	if !escalated {
		t.Fatal("expected OnEscalation to fire on exhaustion")
	}
}

// TestRecoveryHistoryCapsEntries checks the ring buffer respects HistoryCap.
func TestRecoveryHistoryCapsEntries(t *testing.T) {
	rc := NewRecoveryController(RecoveryConfig{Strategies: testStrategies(nil, nil), HistoryCap: 2})
	for i := 0; i < 5; i++ {
		_ = rc.ExecuteRecovery(context.Background(), "clear-cache", "loop")
	}
	if len(rc.History()) != 2 {
		t.Fatalf("History length = %d, want capped at 2", len(rc.History()))
	}
}
