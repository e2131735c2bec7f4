package sentinel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/types"
)

// Sink distinguishes where Shield's output is headed, for failure-behaviour
// routing.
type Sink string

const (
	SinkInternal Sink = "internal"
	SinkExternal Sink = "external"
)

// SinkContext carries the invocation attributes the Shield's context object
// needs beyond the verdict/events.
type SinkContext struct {
	ExternalAction bool
	Sink           Sink
	Cost           float64
	LatencyMs      float64
}

// FailureBehavior picks the action Shield falls back to when it cannot
// complete evaluation, split by sink because an internal failure is lower
// stakes than a failure on an externally visible response.
type FailureBehavior struct {
	ExternalSinkDefault types.ShieldActionKind
	InternalSinkDefault types.ShieldActionKind
}

// MaskPatterns are the regexes Shield's mask action replaces with
// placeholder tokens, one set per category named
type MaskPatterns struct {
	PII         []*regexp.Regexp
	Hallucination []*regexp.Regexp
	Injection   []*regexp.Regexp
}

// ShieldConfig is the hot-reloadable policy document plus Shield's tunables.
type ShieldConfig struct {
	Policies               []types.ShieldPolicy
	MaskPatterns           MaskPatterns
	FailureBehavior        FailureBehavior
	RewriteMaxAttempts     int
	RewriteLatencyBudgetMs int64
	MaxDecisionTimeMs      int64
}

// DefaultShieldConfig returns conservative defaults: pass-through with no
// configured policies; on an internal Shield failure, block output headed
// to an external sink and flag output headed to an internal one.
func DefaultShieldConfig() ShieldConfig {
	return ShieldConfig{
		FailureBehavior: FailureBehavior{
			ExternalSinkDefault: types.ShieldBlock,
			InternalSinkDefault: types.ShieldFlag,
		},
		RewriteMaxAttempts:     1,
		RewriteLatencyBudgetMs: 500,
		MaxDecisionTimeMs:      200,
	}
}

// Rewriter performs a bounded self-correction pass over output, returning
// the rewritten text. No concrete implementation ships by default; callers
// plug one in, and the default is a no-op.
type Rewriter interface {
	Rewrite(ctx context.Context, output string, v *types.Verdict) (string, error)
}

type noopRewriter struct{}

func (noopRewriter) Rewrite(_ context.Context, output string, _ *types.Verdict) (string, error) {
	return output, nil
}

// Shield is the policy-enforcement engine.
type Shield struct {
	cfgPath string
	cfg     atomic.Pointer[ShieldConfig]
	matcher atomic.Pointer[PolicyMatcher]

	store    *Store
	judge    *Judge
	rewriter Rewriter
	logger   logging.Logger
	now      func() time.Time

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	lastMod  time.Time
	stopWatch chan struct{}
}

// NewShield builds a Shield with cfg loaded immediately. If cfgPath is
// non-empty, the config is re-read whenever the file's mtime advances,
// watched via fsnotify.
func NewShield(cfg ShieldConfig, cfgPath string, store *Store, judge *Judge, rewriter Rewriter, logger logging.Logger) (*Shield, error) {
	if rewriter == nil {
		rewriter = noopRewriter{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Shield{
		cfgPath:  cfgPath,
		store:    store,
		judge:    judge,
		rewriter: rewriter,
		logger:   logger,
		now:      time.Now,
	}
	matcher, err := NewPolicyMatcher(context.Background(), cfg.Policies)
	if err != nil {
		return nil, err
	}
	s.cfg.Store(&cfg)
	s.matcher.Store(matcher)

	if cfgPath != "" {
		if err := s.startWatch(); err != nil {
			logger.Warn("shield: config watch disabled", map[string]interface{}{"error": err.Error()})
		}
	}
	return s, nil
}

func (s *Shield) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.cfgPath); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.stopWatch = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *Shield) watchLoop() {
	for {
		select {
		case <-s.stopWatch:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.maybeReload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("shield: config watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (s *Shield) maybeReload() {
	info, err := os.Stat(s.cfgPath)
	if err != nil {
		s.logger.Warn("shield: config stat failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.mu.Lock()
	stale := info.ModTime().After(s.lastMod)
	if stale {
		s.lastMod = info.ModTime()
	}
	s.mu.Unlock()
	if !stale {
		return
	}

	data, err := os.ReadFile(s.cfgPath)
	if err != nil {
		s.logger.Warn("shield: config read failed", map[string]interface{}{"error": err.Error()})
		return
	}
	var cfg ShieldConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn("shield: config parse failed", map[string]interface{}{"error": err.Error()})
		return
	}
	matcher, err := NewPolicyMatcher(context.Background(), cfg.Policies)
	if err != nil {
		s.logger.Warn("shield: config policy compile failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.cfg.Store(&cfg)
	s.matcher.Store(matcher)
	s.logger.Info("shield: config reloaded", map[string]interface{}{"path": s.cfgPath})
}

// Close stops the config watcher, if any.
func (s *Shield) Close() {
	if s.watcher != nil {
		close(s.stopWatch)
		s.watcher.Close()
	}
}

// EvaluateOutput runs the full Shield pipeline
func (s *Shield) EvaluateOutput(ctx context.Context, corrID, agentID, spanID, output string, v *types.Verdict, events []*types.SafetyEvent, sinkCtx SinkContext) (decision *types.ShieldDecision) {
	start := s.now()
	cfg := s.cfg.Load()
	matcher := s.matcher.Load()

	defer func() {
		if r := recover(); r != nil {
			fallback := cfg.FailureBehavior.InternalSinkDefault
			if sinkCtx.Sink == SinkExternal {
				fallback = cfg.FailureBehavior.ExternalSinkDefault
			}
			decision = &types.ShieldDecision{
				CorrelationID: corrID, SpanID: spanID, Action: fallback,
				Reason: fmt.Sprintf("shield internal error: %v", r),
				LatencyMs: s.now().Sub(start).Milliseconds(),
			}
			s.store.StoreShieldDecision(decision)
		}
	}()

	condCtx := buildConditionContext(v, events, sinkCtx)
	policies := make([]types.ShieldPolicy, len(cfg.Policies))
	copy(policies, cfg.Policies)
	sort.Slice(policies, func(i, j int) bool { return policies[i].Priority < policies[j].Priority })

	var winner *types.ShieldPolicy
	for i := range policies {
		p := policies[i]
		if !p.Enabled {
			continue
		}
		ok, err := matcher.Matches(ctx, p, condCtx)
		if err != nil {
			s.logger.Warn("shield: condition eval failed", map[string]interface{}{"policy": p.ID, "error": err.Error()})
			continue
		}
		if !ok {
			continue
		}
		winner = &p
		if !p.Continue {
			break
		}
	}

	elapsed := s.now().Sub(start).Milliseconds()
	if elapsed > cfg.MaxDecisionTimeMs {
		s.logger.Warn("shield: decision latency budget exceeded", map[string]interface{}{
			"budget_ms": cfg.MaxDecisionTimeMs, "elapsed_ms": elapsed,
		})
	}

	if winner == nil {
		decision = &types.ShieldDecision{
			CorrelationID: corrID, SpanID: spanID, Action: types.ShieldPass, Reason: "no match",
			OriginalOutput: output, SanitizedOutput: output, LatencyMs: elapsed, Timestamp: s.now(),
		}
		s.store.StoreShieldDecision(decision)
		return decision
	}

	decision = s.applyAction(ctx, *winner, corrID, agentID, spanID, output, v, cfg)
	decision.LatencyMs = s.now().Sub(start).Milliseconds()
	s.store.StoreShieldDecision(decision)
	return decision
}

func (s *Shield) applyAction(ctx context.Context, p types.ShieldPolicy, corrID, agentID, spanID, output string, v *types.Verdict, cfg *ShieldConfig) *types.ShieldDecision {
	base := &types.ShieldDecision{
		CorrelationID: corrID, SpanID: spanID, PolicyID: p.ID, Action: p.Action,
		OriginalOutput: output, Timestamp: s.now(),
	}

	switch p.Action {
	case types.ShieldPass:
		base.Reason = "policy " + p.ID + " matched: pass"
		base.SanitizedOutput = output

	case types.ShieldFlag:
		base.Reason = "policy " + p.ID + " matched: flag"
		base.SanitizedOutput = output
		s.store.StoreAuditEvent(AuditEvent{
			CorrelationID: corrID, Severity: types.SeverityWarn,
			Message: "shield flagged output under policy " + p.ID,
		})

	case types.ShieldMask:
		base.Reason = "policy " + p.ID + " matched: mask"
		base.SanitizedOutput = s.mask(output, cfg.MaskPatterns)

	case types.ShieldBlock:
		base.Reason = "policy " + p.ID + " matched: block"
		base.SanitizedOutput = ""

	case types.ShieldRequireApproval:
		base.Reason = fmt.Sprintf("policy %s matched: require_approval (approval_id=%s)", p.ID, uuid.NewString())

	case types.ShieldRewrite:
		s.applyRewrite(ctx, base, p, output, v, cfg)

	default:
		base.Reason = "unknown action " + string(p.Action)
		base.SanitizedOutput = output
	}
	return base
}

func (s *Shield) applyRewrite(ctx context.Context, base *types.ShieldDecision, p types.ShieldPolicy, output string, v *types.Verdict, cfg *ShieldConfig) {
	budget := time.Duration(cfg.RewriteLatencyBudgetMs) * time.Millisecond
	rctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	attempts := cfg.RewriteMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	original := v
	best := output
	improved := false
	for i := 0; i < attempts; i++ {
		rewritten, err := s.rewriter.Rewrite(rctx, best, original)
		if err != nil {
			break
		}
		newVerdict := s.judge.Evaluate(rewritten, JudgeContext{
			CorrelationID: base.CorrelationID, SpanID: base.SpanID,
		})
		if newVerdict.Groundedness > original.Groundedness || newVerdict.CitationCoverage > original.CitationCoverage {
			best = rewritten
			improved = true
			break
		}
	}

	if improved {
		base.Action = types.ShieldRewrite
		base.Reason = "policy " + p.ID + " matched: rewrite improved groundedness"
		base.SanitizedOutput = best
		return
	}
	base.Action = types.ShieldRequireApproval
	base.Reason = "policy " + p.ID + " matched: rewrite did not improve, escalated to require_approval"
}

func (s *Shield) mask(output string, patterns MaskPatterns) string {
	masked := output
	for _, p := range patterns.PII {
		masked = p.ReplaceAllString(masked, "[REDACTED_PII]")
	}
	for _, p := range patterns.Hallucination {
		masked = p.ReplaceAllString(masked, "[REDACTED]")
	}
	for _, p := range patterns.Injection {
		masked = p.ReplaceAllString(masked, "[REDACTED_INJECTION]")
	}
	return masked
}

// hashOutput computes the SHA-256 hex digest of output, used when the
// Judge must operate in hash-only mode.
func hashOutput(output string) string {
	sum := sha256.Sum256([]byte(output))
	return hex.EncodeToString(sum[:])
}
