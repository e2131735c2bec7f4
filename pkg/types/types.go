// Package types holds the data model shared across the gateway's CORE
// subsystems. Entities are referenced by id everywhere outside the package
// that owns them, never by pointer, so stores can evolve their storage
// strategy without leaking structure across subsystem boundaries.
package types

import "time"

// SpanType classifies a Span's place in the request lifecycle.
type SpanType string

const (
	SpanPrompt    SpanType = "prompt"
	SpanRetrieval SpanType = "retrieval"
	SpanToolCall  SpanType = "tool_call"
	SpanOutput    SpanType = "output"
	SpanError     SpanType = "error"
)

// Span is a timed record of one step of an invocation. Spans for a single
// CorrelationID form a forest rooted at that id; ParentID is a weak
// reference (looked up by id, never an owning pointer) so the tree never
// creates reference cycles.
type Span struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlation_id"`
	AgentID       string                 `json:"agent_id"`
	Tool          string                 `json:"tool"`
	Action        string                 `json:"action"`
	Type          SpanType               `json:"type"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       *time.Time             `json:"end_time,omitempty"`
	Duration      *time.Duration         `json:"duration,omitempty"`
	ParentID      string                 `json:"parent_id,omitempty"`
	Children      []string               `json:"children,omitempty"`
	Input         map[string]interface{} `json:"input,omitempty"`
	Output        map[string]interface{} `json:"output,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Closed reports whether the span has been ended.
func (s *Span) Closed() bool { return s.EndTime != nil }

// SafetyEventType enumerates the kinds of safety events the Sentinel
// pipeline can raise.
type SafetyEventType string

const (
	EventHallucination      SafetyEventType = "hallucination"
	EventInjection          SafetyEventType = "injection"
	EventPII                SafetyEventType = "pii"
	EventCostSpike          SafetyEventType = "cost_spike"
	EventLatencySpike       SafetyEventType = "latency_spike"
	EventJudgeLowGrounded   SafetyEventType = "judge_low_groundedness"
	EventJudgeError         SafetyEventType = "judge_error"
	EventError              SafetyEventType = "error"
)

// Severity is shared across safety events and leak/degradation signals.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarn     Severity = "warn"
)

// SafetyAction is the action a detector recommends for a SafetyEvent.
type SafetyAction string

const (
	ActionFlag             SafetyAction = "flag"
	ActionBlock            SafetyAction = "block"
	ActionMask             SafetyAction = "mask"
	ActionRequireApproval  SafetyAction = "require_approval"
)

// SafetyEvent is an append-only record raised by a detector or the Judge.
// Resolution flips ResolvedAt/ResolvedBy exactly once.
type SafetyEvent struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlation_id"`
	SpanID        string                 `json:"span_id"`
	Type          SafetyEventType        `json:"type"`
	Severity      Severity               `json:"severity"`
	Action        SafetyAction           `json:"action"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	Resolved      bool                   `json:"resolved"`
	ResolvedAt    *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy    string                 `json:"resolved_by,omitempty"`
}

// Evidence is a referenceable piece of source content the Judge scores
// output against. ContentHash is always SHA-256 of Content.
type Evidence struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	SpanID        string    `json:"span_id"`
	SourceID      string    `json:"source_id,omitempty"`
	URL           string    `json:"url,omitempty"`
	Content       string    `json:"content"`
	ContentHash   string    `json:"content_hash"`
	Timestamp     time.Time `json:"timestamp"`
}

// VerdictDecision is the Judge's final call for an output span.
type VerdictDecision string

const (
	DecisionAllow           VerdictDecision = "allow"
	DecisionMask            VerdictDecision = "mask"
	DecisionBlock           VerdictDecision = "block"
	DecisionRequireApproval VerdictDecision = "require_approval"
)

// VerdictMode distinguishes a normal plaintext judgement from one computed
// in privacy mode, where only hashes of the output were ever available.
type VerdictMode string

const (
	ModePlaintext VerdictMode = "plaintext"
	ModeHashOnly  VerdictMode = "hash-only"
)

// SentenceSupport records, for a single sampled sentence, the strongest
// evidence match the Judge found.
type SentenceSupport struct {
	SentenceIndex  int     `json:"sentence_index"`
	Sentence       string  `json:"sentence"`
	SupportScore   float64 `json:"support_score"`
	BestEvidenceID string  `json:"best_evidence_id,omitempty"`
}

// Verdict is the Judge's single, immutable output-quality assessment for an
// output span.
type Verdict struct {
	ID               string            `json:"id"`
	CorrelationID    string            `json:"correlation_id"`
	SpanID           string            `json:"span_id"`
	Groundedness     float64           `json:"groundedness"`
	CitationCoverage float64           `json:"citation_coverage"`
	Decision         VerdictDecision   `json:"decision"`
	Mode             VerdictMode       `json:"mode"`
	SampledIndices   []int             `json:"sampled_indices"`
	SentenceSupports []SentenceSupport `json:"sentence_supports"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ShieldActionKind is the action a ShieldPolicy applies when it wins.
type ShieldActionKind string

const (
	ShieldBlock            ShieldActionKind = "block"
	ShieldMask             ShieldActionKind = "mask"
	ShieldRewrite          ShieldActionKind = "rewrite"
	ShieldRequireApproval  ShieldActionKind = "require_approval"
	ShieldPass             ShieldActionKind = "pass"
	ShieldFlag             ShieldActionKind = "flag"
)

// ShieldCondition is one declarative condition evaluated against the
// Shield's assembled context object. Exactly one of the comparison fields
// should be set per condition.
type ShieldCondition struct {
	Field    string      `json:"field"`
	Equals   interface{} `json:"equals,omitempty"`
	Min      *float64    `json:"min,omitempty"`
	Max      *float64    `json:"max,omitempty"`
	LenMin   *int        `json:"length_min,omitempty"`
	LenMax   *int        `json:"length_max,omitempty"`
}

// ShieldPolicy is one hot-reloadable policy rule. Priorities are totally
// ordered; lower Priority wins.
type ShieldPolicy struct {
	ID         string                 `json:"id"`
	Priority   int                    `json:"priority"`
	Enabled    bool                   `json:"enabled"`
	Conditions []ShieldCondition      `json:"conditions"`
	Action     ShieldActionKind       `json:"action"`
	Continue   bool                   `json:"continue"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// ShieldDecision is recorded for every output the Shield evaluates.
type ShieldDecision struct {
	ID               string           `json:"id"`
	CorrelationID    string           `json:"correlation_id"`
	SpanID           string           `json:"span_id"`
	PolicyID         string           `json:"policy_id,omitempty"`
	Action           ShieldActionKind `json:"action"`
	Reason           string           `json:"reason"`
	OriginalOutput   string           `json:"original_output,omitempty"`
	SanitizedOutput  string           `json:"sanitized_output,omitempty"`
	LatencyMs        int64            `json:"latency_ms"`
	Timestamp        time.Time        `json:"timestamp"`
}

// CircuitState mirrors the three-state machine
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerState is a point-in-time snapshot of one tool's breaker,
// used for metrics and health reporting. The live breaker keeps its own
// richer internal counters; this is the externally observable shape.
type CircuitBreakerState struct {
	Tool             string       `json:"tool"`
	State            CircuitState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	SuccessCount     int          `json:"success_count"`
	LastFailureTime  time.Time    `json:"last_failure_time,omitempty"`
	LastStateChange  time.Time    `json:"last_state_change"`
	BulkheadPermits  int          `json:"bulkhead_permits"`
}

// CacheEntry is one LRU/TTL cache slot.
type CacheEntry struct {
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	InsertedAt time.Time   `json:"inserted_at"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the entry is stale as of now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// DegradationLevelID is the discrete load-shedding step.
type DegradationLevelID int

const (
	LevelNormal DegradationLevelID = iota
	LevelLight
	LevelModerate
	LevelSevere
)

// DegradationTrigger is one condition that, while true, justifies
// activating (or keeping active) a DegradationLevel.
type DegradationTrigger struct {
	Name      string        `json:"name"`
	Metric    string        `json:"metric"`
	Threshold float64       `json:"threshold"`
	Window    time.Duration `json:"window"`
}

// DegradationLevel is one configured escalation step.
type DegradationLevel struct {
	Level              DegradationLevelID   `json:"level"`
	Triggers           []DegradationTrigger `json:"triggers"`
	DisabledFeatures   []string             `json:"disabled_features"`
	DropProbability    float64              `json:"drop_probability"`
	RecoveryThreshold  float64              `json:"recovery_threshold"`
}

// RecoveryStatus is the outcome of a RecoveryAttempt.
type RecoveryStatus string

const (
	RecoveryRunning   RecoveryStatus = "running"
	RecoverySucceeded RecoveryStatus = "succeeded"
	RecoveryFailed    RecoveryStatus = "failed"
)

// RecoveryAttempt records one invocation of a recovery strategy.
type RecoveryAttempt struct {
	ID         string         `json:"id"`
	StrategyID string         `json:"strategy_id"`
	Reason     string         `json:"reason"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Status     RecoveryStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// MemorySnapshot captures the three memory figures the system tracks.
type MemorySnapshot struct {
	HeapBytes uint64 `json:"heap_bytes"`
	RSSBytes  uint64 `json:"rss_bytes"`
	ExtBytes  uint64 `json:"ext_bytes"`
}

// ResourceSnapshot is one point-in-time sample taken by the leak detector
// and the health manager's resource sampler.
type ResourceSnapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	Memory          MemorySnapshot `json:"memory"`
	Connections     int            `json:"connections"`
	FileHandles     int            `json:"file_handles"`
	FileHandleLimit int            `json:"file_handle_limit"`
	EventListeners  int            `json:"event_listeners"`
	Timers          int            `json:"timers"`
	CPUPercent      float64        `json:"cpu_percent"`
	LoadAverage     float64        `json:"load_average"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
}
