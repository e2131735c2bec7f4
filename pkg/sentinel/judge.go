package sentinel

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/types"
)

// JudgeConfig configures the evidence-grounded Judge
type JudgeConfig struct {
	Enabled                   bool
	MaxEvidenceAge            time.Duration
	SampleN                   int
	EvidenceCandidates        int
	CitationMin               float64
	LowThreshold              float64
	PrivacyDefaultGroundedness float64
	Logger                    logging.Logger
}

// DefaultJudgeConfig returns sensible defaults.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		Enabled:                    true,
		MaxEvidenceAge:             24 * time.Hour,
		SampleN:                    6,
		EvidenceCandidates:         20,
		CitationMin:                0.5,
		LowThreshold:               0.4,
		PrivacyDefaultGroundedness: 0.8,
		Logger:                     logging.NoOpLogger{},
	}
}

// Judge computes groundedness/citationCoverage verdicts for output spans.
type Judge struct {
	cfg   JudgeConfig
	now   func() time.Time
	store *Store
}

// NewJudge builds a Judge backed by store for evidence lookup and verdict
// persistence.
func NewJudge(cfg JudgeConfig, store *Store) *Judge {
	if cfg.SampleN <= 0 {
		cfg.SampleN = 6
	}
	if cfg.EvidenceCandidates <= 0 {
		cfg.EvidenceCandidates = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Judge{cfg: cfg, now: time.Now, store: store}
}

// JudgeContext carries the span attributes the decision step needs beyond
// the raw text.
type JudgeContext struct {
	CorrelationID   string
	SpanID          string
	HasExternalAction bool
	Temperature     float64
	ContextLength   int
	HashOnly        bool // output only available as a hash, never plaintext
}

var sentenceSplitPattern = regexp.MustCompile(`[.!?]\s+(?:[A-Z]|$)`)

// Evaluate runs the full algorithm and persists the
// resulting verdict.
func (j *Judge) Evaluate(output string, jctx JudgeContext) *types.Verdict {
	defer func() {
		if r := recover(); r != nil {
			v := j.errorVerdict(jctx)
			j.store.StoreVerdict(v)
			j.store.CreateEvent(jctx.CorrelationID, jctx.SpanID, types.EventJudgeError, types.SeverityError, types.ActionFlag,
				map[string]interface{}{"panic": r})
		}
	}()

	if !j.cfg.Enabled {
		v := &types.Verdict{
			CorrelationID: jctx.CorrelationID, SpanID: jctx.SpanID,
			Groundedness: 1, CitationCoverage: 1, Decision: types.DecisionAllow, Mode: types.ModePlaintext,
		}
		j.store.StoreVerdict(v)
		return v
	}

	if output == "" || jctx.HashOnly {
		v := &types.Verdict{
			CorrelationID: jctx.CorrelationID, SpanID: jctx.SpanID,
			Groundedness: j.cfg.PrivacyDefaultGroundedness, CitationCoverage: 0,
			Decision: types.DecisionAllow, Mode: types.ModeHashOnly,
		}
		j.store.StoreVerdict(v)
		return v
	}

	evidence := j.filterEvidence(jctx.SpanID)
	sentences := splitSentences(output)
	sampled, sampledIdx := sampleSentences(sentences, j.cfg.SampleN)

	supports := make([]types.SentenceSupport, 0, len(sampled))
	var totalSupport float64
	for i, sent := range sampled {
		score, bestID := scoreSentence(sent, evidence, j.cfg.EvidenceCandidates)
		supports = append(supports, types.SentenceSupport{
			SentenceIndex: sampledIdx[i], Sentence: sent, SupportScore: score, BestEvidenceID: bestID,
		})
		totalSupport += score
	}

	var groundedness float64
	if len(supports) > 0 {
		groundedness = totalSupport / float64(len(supports))
	}
	if jctx.Temperature > 0.8 {
		groundedness -= 0.05
	}
	if jctx.ContextLength > 0 && jctx.ContextLength < 100 {
		groundedness -= 0.05
	}
	groundedness = clamp01(groundedness)

	covered := 0
	for _, sp := range supports {
		if sp.SupportScore >= j.cfg.CitationMin {
			covered++
		}
	}
	var coverage float64
	if len(supports) > 0 {
		coverage = float64(covered) / float64(len(supports))
	}

	decision := types.DecisionAllow
	if groundedness < j.cfg.LowThreshold && jctx.HasExternalAction {
		decision = types.DecisionRequireApproval
	}

	v := &types.Verdict{
		CorrelationID:    jctx.CorrelationID,
		SpanID:           jctx.SpanID,
		Groundedness:     groundedness,
		CitationCoverage: coverage,
		Decision:         decision,
		Mode:             types.ModePlaintext,
		SampledIndices:   sampledIdx,
		SentenceSupports: supports,
	}
	j.store.StoreVerdict(v)

	if groundedness < j.cfg.LowThreshold {
		j.store.CreateEvent(jctx.CorrelationID, jctx.SpanID, types.EventJudgeLowGrounded, types.SeverityWarn, types.ActionFlag,
			map[string]interface{}{"groundedness": groundedness, "threshold": j.cfg.LowThreshold})
	}
	return v
}

func (j *Judge) errorVerdict(jctx JudgeContext) *types.Verdict {
	return &types.Verdict{
		CorrelationID: jctx.CorrelationID, SpanID: jctx.SpanID,
		Groundedness: 0.5, CitationCoverage: 0, Decision: types.DecisionRequireApproval, Mode: types.ModePlaintext,
	}
}

// filterEvidence keeps evidence within MaxEvidenceAge, newest-first, up to
// 20 entries.
func (j *Judge) filterEvidence(spanID string) []*types.Evidence {
	all := j.store.EvidenceForSpan(spanID) // already newest-first
	cutoff := j.now().Add(-j.cfg.MaxEvidenceAge)
	out := make([]*types.Evidence, 0, len(all))
	for _, e := range all {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
		if len(out) >= 20 {
			break
		}
	}
	return out
}

// splitSentences segments output on punctuation followed by whitespace and
// a capital letter (or end of string).
func splitSentences(output string) []string {
	idxs := sentenceSplitPattern.FindAllStringIndex(output, -1)
	if len(idxs) == 0 {
		s := strings.TrimSpace(output)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var sentences []string
	start := 0
	for _, loc := range idxs {
		cut := loc[0] + 1 // keep the terminal punctuation with the sentence
		sentences = append(sentences, strings.TrimSpace(output[start:cut]))
		start = loc[1] - 1 // the captured capital belongs to the next sentence
	}
	if rest := strings.TrimSpace(output[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// sampleSentences picks the first 3 plus the 3 longest remaining, capped at
// len(sentences), preserving original order in the returned slice.
func sampleSentences(sentences []string, n int) (sampled []string, indices []int) {
	if len(sentences) <= n {
		indices = make([]int, len(sentences))
		for i := range sentences {
			indices[i] = i
		}
		return sentences, indices
	}

	firstK := 3
	if firstK > len(sentences) {
		firstK = len(sentences)
	}
	picked := make(map[int]bool, n)
	for i := 0; i < firstK; i++ {
		picked[i] = true
	}

	type idxLen struct {
		idx int
		l   int
	}
	var rest []idxLen
	for i := firstK; i < len(sentences); i++ {
		rest = append(rest, idxLen{i, len(sentences[i])})
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].l > rest[j].l })

	remaining := n - firstK
	for i := 0; i < len(rest) && i < remaining; i++ {
		picked[rest[i].idx] = true
	}

	ordered := make([]int, 0, len(picked))
	for idx := range picked {
		ordered = append(ordered, idx)
	}
	sort.Ints(ordered)

	for _, idx := range ordered {
		sampled = append(sampled, sentences[idx])
		indices = append(indices, idx)
	}
	return sampled, indices
}

// scoreSentence computes the max of exact-word, capitalised-entity, and
// numeric-token overlap against up to evidenceCandidates newest pieces.
func scoreSentence(sentence string, evidence []*types.Evidence, evidenceCandidates int) (bestScore float64, bestID string) {
	if len(evidence) > evidenceCandidates {
		evidence = evidence[:evidenceCandidates]
	}
	sentTokens := tokenize(sentence)
	sentEntities := entityTokens(sentence)
	sentNumbers := numericTokens(sentence)

	for _, e := range evidence {
		evTokens := tokenize(e.Content)
		evEntities := entityTokens(e.Content)
		evNumbers := numericTokens(e.Content)

		wordScore := overlapRatio(sentTokens, evTokens)
		entityScore := overlapRatio(sentEntities, evEntities)
		numberScore := overlapRatio(sentNumbers, evNumbers)

		support := maxOf3(wordScore, entityScore, numberScore)
		if support > bestScore {
			bestScore = support
			bestID = e.ID
		}
	}
	return bestScore, bestID
}

func maxOf3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// tokenize lowercases and keeps tokens longer than 2 characters.
func tokenize(s string) map[string]bool {
	words := strings.Fields(s)
	out := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,!?;:\"'()[]{}"))
		if len(w) > 2 {
			out[w] = true
		}
	}
	return out
}

// entityTokens keeps tokens that start with a capital letter, unlowercased.
func entityTokens(s string) map[string]bool {
	words := strings.Fields(s)
	out := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if len(w) == 0 {
			continue
		}
		r := []rune(w)[0]
		if unicode.IsUpper(r) {
			out[w] = true
		}
	}
	return out
}

var numericTokenPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

func numericTokens(s string) map[string]bool {
	matches := numericTokenPattern.FindAllString(s, -1)
	out := make(map[string]bool, len(matches))
	for _, m := range matches {
		out[m] = true
	}
	return out
}

func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
