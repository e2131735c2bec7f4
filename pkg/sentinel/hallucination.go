package sentinel

import (
	"math"
	"regexp"
	"strings"

	"github.com/sentineldev/agentgate/pkg/types"
)

var (
	uncertaintyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)i('m| am) not sure`),
		regexp.MustCompile(`(?i)i (?:don't|do not) know`),
		regexp.MustCompile(`(?i)might be`),
		regexp.MustCompile(`(?i)possibly`),
		regexp.MustCompile(`(?i)it('s| is) unclear`),
	}
	contradictionPairs = [][2]string{
		{"yes", "no"}, {"true", "false"}, {"always", "never"}, {"can", "cannot"},
	}
	temporalImpossiblePattern = regexp.MustCompile(`(?i)\b(february 30|february 31|april 31|june 31|september 31|november 31|13th month|25:00|32nd day)(?:st|th)?\b`)
)

// HallucinationConfig configures the detector.
type HallucinationConfig struct {
	Sensitivity Sensitivity
}

// DefaultHallucinationConfig returns medium sensitivity.
func DefaultHallucinationConfig() HallucinationConfig {
	return HallucinationConfig{Sensitivity: SensitivityMedium}
}

// HallucinationResult is the detector's verdict for one (input, output) pair.
type HallucinationResult struct {
	Score      float64
	Severity   types.Severity
	ContextDrift float64
	Details    map[string]interface{}
}

// DetectHallucination scores output for hallucination signals relative to
// in (the prompt/context)
func DetectHallucination(in, out string, cfg HallucinationConfig) HallucinationResult {
	patternCount := 0
	for _, p := range uncertaintyPatterns {
		patternCount += len(p.FindAllStringIndex(out, -1))
	}

	lowerOut := strings.ToLower(out)
	contradictionCount := 0
	for _, pair := range contradictionPairs {
		if strings.Contains(lowerOut, pair[0]) && strings.Contains(lowerOut, pair[1]) {
			contradictionCount++
		}
	}
	patternCount += contradictionCount

	drift := contextDrift(in, out)
	factualIssues := len(temporalImpossiblePattern.FindAllStringIndex(out, -1))

	rawScore := float64(patternCount)*2 + math.Floor(drift*10) + float64(factualIssues)*5
	score := rawScore * cfg.Sensitivity.factor()

	var sev types.Severity
	switch {
	case score >= 15:
		sev = types.SeverityHigh
	case score >= 8:
		sev = types.SeverityMedium
	default:
		sev = types.SeverityLow
	}

	return HallucinationResult{
		Score:        score,
		Severity:     sev,
		ContextDrift: drift,
		Details: map[string]interface{}{
			"pattern_count":    patternCount,
			"context_drift":    drift,
			"factual_issues":   factualIssues,
		},
	}
}

// contextDrift computes 1 - |W_in ∩ W_out| / |W_in ∪ W_out| over word sets
// of tokens longer than 3 characters.
func contextDrift(in, out string) float64 {
	winSet := wordSet(in)
	woutSet := wordSet(out)
	if len(winSet) == 0 && len(woutSet) == 0 {
		return 0
	}
	inter := 0
	union := make(map[string]bool, len(winSet)+len(woutSet))
	for w := range winSet {
		union[w] = true
		if woutSet[w] {
			inter++
		}
	}
	for w := range woutSet {
		union[w] = true
	}
	if len(union) == 0 {
		return 0
	}
	return 1 - float64(inter)/float64(len(union))
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if len(w) > 3 {
			set[w] = true
		}
	}
	return set
}
