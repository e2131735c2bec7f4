package sentinel

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/sentineldev/agentgate/pkg/types"
)

// conditionContext is the flattened object a ShieldCondition's field is
// looked up against: verdict groundedness/citationCoverage, detector event
// flags, and the invocation ctx (external_action, cost, latency).
type conditionContext map[string]interface{}

// buildConditionContext assembles the per-evaluation context object.
func buildConditionContext(v *types.Verdict, events []*types.SafetyEvent, sinkCtx SinkContext) conditionContext {
	ctx := conditionContext{
		"external_action": sinkCtx.ExternalAction,
		"cost":            sinkCtx.Cost,
		"latency":         sinkCtx.LatencyMs,
	}
	if v != nil {
		ctx["groundedness"] = v.Groundedness
		ctx["citation_coverage"] = v.CitationCoverage
	}

	var piiFound []string
	injectionDetected := false
	var hallucinationSeverity string
	for _, e := range events {
		switch e.Type {
		case types.EventInjection:
			injectionDetected = true
		case types.EventPII:
			if id, ok := e.Details["field"].(string); ok {
				piiFound = append(piiFound, id)
			}
		case types.EventHallucination:
			hallucinationSeverity = string(e.Severity)
		}
	}
	ctx["injection_detected"] = injectionDetected
	ctx["pii_found"] = piiFound
	ctx["hallucination_severity"] = hallucinationSeverity
	return ctx
}

// compiledCondition is a ShieldCondition compiled to a Rego boolean query,
// grounded on the OPA dependency shared with the rest of the pack.
type compiledCondition struct {
	field    string
	prepared rego.PreparedEvalQuery
}

// compileCondition builds one Rego module per condition. Equality,
// min/max, and length.min/max each compile to a small, distinct query so
// the generated Rego stays readable and debuggable.
func compileCondition(ctx context.Context, c types.ShieldCondition) (*compiledCondition, error) {
	var body string
	switch {
	case c.Equals != nil:
		body = fmt.Sprintf("input.value == %s", regoLiteral(c.Equals))
	case c.Min != nil && c.Max != nil:
		body = fmt.Sprintf("input.value >= %v; input.value <= %v", *c.Min, *c.Max)
	case c.Min != nil:
		body = fmt.Sprintf("input.value >= %v", *c.Min)
	case c.Max != nil:
		body = fmt.Sprintf("input.value <= %v", *c.Max)
	case c.LenMin != nil && c.LenMax != nil:
		body = fmt.Sprintf("count(input.value) >= %d; count(input.value) <= %d", *c.LenMin, *c.LenMax)
	case c.LenMin != nil:
		body = fmt.Sprintf("count(input.value) >= %d", *c.LenMin)
	case c.LenMax != nil:
		body = fmt.Sprintf("count(input.value) <= %d", *c.LenMax)
	default:
		body = "true"
	}

	module := fmt.Sprintf(`package shield.cond

default holds = false

holds {
	%s
}
`, body)

	r := rego.New(
		rego.Query("data.shield.cond.holds"),
		rego.Module(fmt.Sprintf("cond_%s.rego", sanitizeFieldName(c.Field)), module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("sentinel: compiling condition on %q: %w", c.Field, err)
	}
	return &compiledCondition{field: c.Field, prepared: prepared}, nil
}

func sanitizeFieldName(field string) string {
	return strings.NewReplacer(".", "_", " ", "_").Replace(field)
}

// regoLiteral renders a Go value as a Rego literal; strings are quoted,
// everything else uses its default formatting (numbers, bools).
func regoLiteral(v interface{}) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}

// Evaluate reports whether this compiled condition holds against ctx's
// value for its field.
func (cc *compiledCondition) Evaluate(ctx context.Context, value interface{}) (bool, error) {
	rs, err := cc.prepared.Eval(ctx, rego.EvalInput(map[string]interface{}{"value": value}))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	holds, _ := rs[0].Expressions[0].Value.(bool)
	return holds, nil
}

// lookupField pulls field out of ctx, supporting dotted paths for nested
// maps.
func lookupField(ctx conditionContext, field string) interface{} {
	parts := strings.Split(field, ".")
	var cur interface{} = map[string]interface{}(ctx)
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			if cm, ok2 := cur.(conditionContext); ok2 {
				m = map[string]interface{}(cm)
			} else {
				return nil
			}
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

// PolicyMatcher compiles and caches a ShieldPolicy set's conditions so
// repeated evaluations avoid recompiling Rego per call.
type PolicyMatcher struct {
	compiled map[string][]*compiledCondition // policy id -> compiled conditions
}

// NewPolicyMatcher compiles every condition in policies.
func NewPolicyMatcher(ctx context.Context, policies []types.ShieldPolicy) (*PolicyMatcher, error) {
	pm := &PolicyMatcher{compiled: make(map[string][]*compiledCondition, len(policies))}
	for _, p := range policies {
		conds := make([]*compiledCondition, 0, len(p.Conditions))
		for _, c := range p.Conditions {
			cc, err := compileCondition(ctx, c)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cc)
		}
		pm.compiled[p.ID] = conds
	}
	return pm, nil
}

// Matches reports whether every one of policy's compiled conditions holds
// against condCtx.
func (pm *PolicyMatcher) Matches(ctx context.Context, policy types.ShieldPolicy, condCtx conditionContext) (bool, error) {
	conds := pm.compiled[policy.ID]
	for i, cc := range conds {
		value := lookupField(condCtx, policy.Conditions[i].Field)
		ok, err := cc.Evaluate(ctx, value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
