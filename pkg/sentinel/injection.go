package sentinel

import (
	"regexp"

	"github.com/sentineldev/agentgate/pkg/types"
)

// Sensitivity scales a detector's raw point score before thresholding
//.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

func (s Sensitivity) factor() float64 {
	switch s {
	case SensitivityLow:
		return 0.5
	case SensitivityHigh:
		return 1.5
	default:
		return 1.0
	}
}

var (
	base64Pattern    = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)
	hexPattern       = regexp.MustCompile(`(?:0x)?[0-9a-fA-F]{32,}`)
	urlEncodedPat    = regexp.MustCompile(`(?:%[0-9A-Fa-f]{2}){8,}`)
	zeroWidthPattern = regexp.MustCompile(`[\x{200B}-\x{200F}\x{202A}-\x{202E}\x{FEFF}]`)
	roleManipPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you are now`),
		regexp.MustCompile(`(?i)act as`),
		regexp.MustCompile(`(?i)^\s*system\s*:`),
		regexp.MustCompile(`(?i)ignore (?:all )?(?:previous|prior) instructions`),
	}
	roleConfusionPattern = regexp.MustCompile(`(?i)\b(user|assistant)\s*:`)
)

// InjectionConfig configures the detector. PhrasePatterns are literal
// phrase matches worth 3 points each; ForceBlock short-circuits to block
// regardless of score
type InjectionConfig struct {
	PhrasePatterns []*regexp.Regexp
	Sensitivity    Sensitivity
	ForceBlock     bool
}

// DefaultInjectionConfig returns medium sensitivity with no configured
// phrase list (callers add their own via PhrasePatterns).
func DefaultInjectionConfig() InjectionConfig {
	return InjectionConfig{Sensitivity: SensitivityMedium}
}

// InjectionResult is the detector's verdict for one input.
type InjectionResult struct {
	Score      float64
	Confidence float64
	Severity   types.Severity
	Action     types.SafetyAction
	Sanitized  string
	Matched    bool
}

// DetectInjection scores text for prompt-injection signals and decides an
// action.
func DetectInjection(text string, cfg InjectionConfig) InjectionResult {
	if text == "" {
		return InjectionResult{Severity: types.SeverityLow, Action: types.ActionFlag}
	}

	var rawScore float64
	var confidence float64
	sanitized := text

	phraseHits := 0
	for _, p := range cfg.PhrasePatterns {
		if locs := p.FindAllStringIndex(text, -1); locs != nil {
			phraseHits += len(locs)
			rawScore += float64(len(locs)) * 3
			sanitized = p.ReplaceAllString(sanitized, "[REDACTED_PHRASE]")
		}
	}
	if phraseHits > 0 {
		confidence += min1(float64(phraseHits) * 0.1)
	}

	encodedClasses := 0
	for _, p := range []*regexp.Regexp{base64Pattern, hexPattern, urlEncodedPat} {
		if p.MatchString(text) {
			encodedClasses++
			sanitized = p.ReplaceAllString(sanitized, "[REDACTED_ENCODED]")
		}
	}
	if encodedClasses > 0 {
		rawScore += float64(encodedClasses) * 5
		confidence += min1(float64(encodedClasses) * 0.2)
	}

	hiddenClasses := 0
	if zeroWidthPattern.MatchString(text) {
		hiddenClasses++
		sanitized = zeroWidthPattern.ReplaceAllString(sanitized, "")
	}
	if hiddenClasses > 0 {
		rawScore += float64(hiddenClasses) * 5
		confidence += min1(float64(hiddenClasses) * 0.2)
	}

	roleClasses := 0
	for _, p := range roleManipPatterns {
		if p.MatchString(text) {
			roleClasses++
			sanitized = p.ReplaceAllString(sanitized, "[REDACTED_ROLE]")
		}
	}
	if roleConfusionPattern.MatchString(text) {
		roleClasses++
	}
	if roleClasses > 0 {
		rawScore += float64(roleClasses) * 6
		confidence += min1(float64(roleClasses) * 0.2)
	}

	score := rawScore * cfg.Sensitivity.factor()
	confidence = min1(confidence)

	var sev types.Severity
	switch {
	case score >= 20:
		sev = types.SeverityHigh
	case score >= 10:
		sev = types.SeverityMedium
	default:
		sev = types.SeverityLow
	}

	action := decideInjectionAction(cfg.ForceBlock, sev, confidence)
	matched := rawScore > 0

	result := InjectionResult{Score: score, Confidence: confidence, Severity: sev, Action: action, Matched: matched}
	if action == types.ActionMask || action == types.ActionBlock {
		result.Sanitized = sanitized
	}
	return result
}

func decideInjectionAction(forceBlock bool, sev types.Severity, confidence float64) types.SafetyAction {
	if forceBlock {
		return types.ActionBlock
	}
	switch {
	case sev == types.SeverityHigh && confidence > 0.7:
		return types.ActionBlock
	case sev == types.SeverityHigh && confidence > 0.4:
		return types.ActionRequireApproval
	case sev == types.SeverityMedium:
		return types.ActionMask
	default:
		return types.ActionFlag
	}
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// CompilePhrasePatterns is a small helper used by config loaders to
// pre-compile a literal phrase list into PhrasePatterns.
func CompilePhrasePatterns(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(p)))
	}
	return out
}
