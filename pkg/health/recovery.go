package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentineldev/agentgate/pkg/types"
)

// StrategyRank orders recovery strategies by escalation.
type StrategyRank int

const (
	StrategySoft StrategyRank = iota
	StrategyMedium
	StrategyHard
	StrategyEmergency
)

// Strategy is a named sequence of recovery actions.
type Strategy struct {
	ID     string
	Rank   StrategyRank
	Action func(ctx context.Context, reason string) error
}

// RecoveryConfig configures the controller's ordered strategies.
type RecoveryConfig struct {
	Strategies   []Strategy // ordered soft -> emergency
	HistoryCap   int
	OnEscalation func(reason string) // escalation-required handoff to degradation controller
}

// Controller-facing history entry alias for clarity at call sites.
type recoveryHistoryRing struct {
	mu      sync.Mutex
	entries []types.RecoveryAttempt
	cap     int
}

func (r *recoveryHistoryRing) append(a types.RecoveryAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, a)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *recoveryHistoryRing) snapshot() []types.RecoveryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.RecoveryAttempt, len(r.entries))
	copy(out, r.entries)
	return out
}

// RecoveryController executes strategies on health alerts and escalates to
// the degradation controller on repeated failure
type RecoveryController struct {
	cfg      RecoveryConfig
	byID     map[string]*Strategy
	ordered  []*Strategy
	history  *recoveryHistoryRing
	now      func() time.Time
}

// NewRecoveryController builds a RecoveryController from cfg.
func NewRecoveryController(cfg RecoveryConfig) *RecoveryController {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 200
	}
	rc := &RecoveryController{
		cfg:     cfg,
		byID:    make(map[string]*Strategy, len(cfg.Strategies)),
		history: &recoveryHistoryRing{cap: cfg.HistoryCap},
		now:     time.Now,
	}
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		rc.byID[s.ID] = s
		rc.ordered = append(rc.ordered, s)
	}
	return rc
}

// ExecuteRecovery runs one named strategy and records the attempt.
func (rc *RecoveryController) ExecuteRecovery(ctx context.Context, strategyID, reason string) error {
	s, ok := rc.byID[strategyID]
	if !ok {
		return fmt.Errorf("health: unknown recovery strategy %q", strategyID)
	}
	return rc.run(ctx, s, reason)
}

func (rc *RecoveryController) run(ctx context.Context, s *Strategy, reason string) error {
	attempt := types.RecoveryAttempt{
		ID: uuid.NewString(), StrategyID: s.ID, Reason: reason, StartTime: rc.now(), Status: types.RecoveryRunning,
	}
	err := s.Action(ctx, reason)
	now := rc.now()
	attempt.EndTime = &now
	if err != nil {
		attempt.Status = types.RecoveryFailed
		attempt.Error = err.Error()
	} else {
		attempt.Status = types.RecoverySucceeded
	}
	rc.history.append(attempt)
	return err
}

// ExecuteEscalatedRecovery picks a strategy by keyword matching against
// reason (memory -> soft, latency -> medium, unhealthy -> hard), runs
// strategies in ascending rank starting there, and raises escalation on
// exhaustion.
func (rc *RecoveryController) ExecuteEscalatedRecovery(ctx context.Context, reason string) error {
	startRank := pickStartingRank(reason)

	var lastErr error
	for _, s := range rc.ordered {
		if s.Rank < startRank {
			continue
		}
		if err := rc.run(ctx, s, reason); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if rc.cfg.OnEscalation != nil {
		rc.cfg.OnEscalation(reason)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("health: no recovery strategy available for reason %q", reason)
	}
	return fmt.Errorf("health: escalation-required: %w", lastErr)
}

func pickStartingRank(reason string) StrategyRank {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "memory"):
		return StrategySoft
	case strings.Contains(lower, "latency"):
		return StrategyMedium
	case strings.Contains(lower, "unhealthy"):
		return StrategyHard
	default:
		return StrategySoft
	}
}

// History returns a snapshot of every recorded recovery attempt.
func (rc *RecoveryController) History() []types.RecoveryAttempt {
	return rc.history.snapshot()
}
