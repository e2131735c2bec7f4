package sentinel

import (
	"context"
	"time"

	"github.com/sentineldev/agentgate/pkg/gwerrors"
	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/types"
)

// Config bundles every Sentinel subsystem's tunables for one gateway
// instance.
type Config struct {
	Store      StoreConfig
	Injection  InjectionConfig
	Hallucination HallucinationConfig
	Judge      JudgeConfig
	Shield     ShieldConfig
	ShieldConfigPath string
	BusBufferSize int
	Logger     logging.Logger
}

// Sentinel orchestrates span lifecycle, injection/hallucination detection,
// the Judge, and the Shield around one reliability-pipeline call, per the
// flow
type Sentinel struct {
	Store *Store
	Bus   *Bus
	Judge *Judge
	Shield *Shield

	injectionCfg     InjectionConfig
	hallucinationCfg HallucinationConfig
	logger           logging.Logger
}

// New builds a fully wired Sentinel. rewriter may be nil (a no-op rewrite
// is used).
func New(cfg Config, rewriter Rewriter) (*Sentinel, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	bus := NewBus(cfg.BusBufferSize)
	store := NewStore(cfg.Store, bus)
	judge := NewJudge(cfg.Judge, store)
	shield, err := NewShield(cfg.Shield, cfg.ShieldConfigPath, store, judge, rewriter, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Sentinel{
		Store: store, Bus: bus, Judge: judge, Shield: shield,
		injectionCfg: cfg.Injection, hallucinationCfg: cfg.Hallucination,
		logger: cfg.Logger,
	}, nil
}

// Close releases background goroutines (store sweep, shield config watch).
func (s *Sentinel) Close() {
	s.Store.Close()
	s.Shield.Close()
}

// Invocation carries everything Guard needs to wrap one reliability-pipeline
// call with the safety pipeline.
type Invocation struct {
	CorrelationID  string
	AgentID        string
	Tool           string
	Action         string
	Params         map[string]interface{}
	ExternalAction bool
	Sink           Sink
	HashOnlyOutput bool // output may only ever be hashed (privacy mode)
}

// Guard wraps op (typically pkg/reliability.Pipeline.Execute) with a
// prompt-injection pre-check and a hallucination/Judge/Shield post-check,
// matching flow diagram.
func (s *Sentinel) Guard(ctx context.Context, inv Invocation, op func(ctx context.Context) (interface{}, error)) (interface{}, *types.ShieldDecision, error) {
	spanID := s.Store.StartSpan(inv.CorrelationID, inv.AgentID, inv.Tool, inv.Action, types.SpanToolCall, "", inv.Params)

	inputText := ExtractText(inv.Params)
	injResult := DetectInjection(inputText, s.injectionCfg)
	if injResult.Matched {
		s.Store.CreateEvent(inv.CorrelationID, spanID, types.EventInjection, injResult.Severity, injResult.Action, map[string]interface{}{
			"score": injResult.Score, "confidence": injResult.Confidence,
		})
	}
	if injResult.Action == types.ActionBlock {
		err := gwerrors.New(inv.Tool+"."+inv.Action, gwerrors.SafetyBlocked, nil)
		_ = s.Store.EndSpan(spanID, nil, err)
		return nil, nil, err
	}

	result, err := op(ctx)
	if err != nil {
		_ = s.Store.EndSpan(spanID, nil, err)
		return nil, nil, err
	}
	_ = s.Store.EndSpan(spanID, map[string]interface{}{"result": result}, nil)

	outputText, isText := result.(string)
	if !isText {
		return result, nil, nil
	}

	hallResult := DetectHallucination(inputText, outputText, s.hallucinationCfg)
	if hallResult.Severity == types.SeverityHigh || hallResult.Severity == types.SeverityMedium {
		s.Store.CreateEvent(inv.CorrelationID, spanID, types.EventHallucination, hallResult.Severity, types.ActionFlag, hallResult.Details)
	}

	verdict := s.Judge.Evaluate(outputText, JudgeContext{
		CorrelationID:     inv.CorrelationID,
		SpanID:            spanID,
		HasExternalAction: inv.ExternalAction,
		HashOnly:          inv.HashOnlyOutput,
	})

	events := s.Store.GetByCorrelation(inv.CorrelationID).Events
	decision := s.Shield.EvaluateOutput(ctx, inv.CorrelationID, inv.AgentID, spanID, outputText, verdict, events, SinkContext{
		ExternalAction: inv.ExternalAction,
		Sink:           inv.Sink,
	})

	switch decision.Action {
	case types.ShieldBlock:
		return nil, decision, gwerrors.New(inv.Tool+"."+inv.Action, gwerrors.SafetyBlocked, nil)
	case types.ShieldRequireApproval:
		return nil, decision, gwerrors.New(inv.Tool+"."+inv.Action, gwerrors.SafetyBlocked, nil)
	case types.ShieldMask, types.ShieldRewrite:
		return gwerrors.Sanitized{Value: decision.SanitizedOutput, FingerprintOfOriginal: hashOutput(outputText)}, decision, nil
	default:
		return result, decision, nil
	}
}

// AddEvidence records one piece of evidence the Judge can cite against for
// spanID.
func (s *Sentinel) AddEvidence(correlationID, spanID, sourceID, url, content string) {
	s.Store.StoreEvidence(&types.Evidence{
		CorrelationID: correlationID, SpanID: spanID, SourceID: sourceID, URL: url,
		Content: content, ContentHash: hashOutput(content), Timestamp: time.Now(),
	})
}
