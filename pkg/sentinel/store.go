// Package sentinel implements the gateway's safety pipeline: a telemetry
// store (store.go) and guard-event bus (bus.go), best-effort text
// extraction (extract.go), the injection and hallucination detectors
// (injection.go, hallucination.go), the evidence-grounded Judge (judge.go),
// and the Shield policy engine (shield.go, policy.go), orchestrated by
// sentinel.go around the reliability pipeline.
package sentinel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/types"
)

// StoreConfig configures retention and cleanup cadence.
type StoreConfig struct {
	RetentionDays time.Duration // how long closed records survive the cleanup sweep
	CleanupEvery  time.Duration
	Logger        logging.Logger
}

// DefaultStoreConfig returns sensible defaults: 7 days retention, swept
// hourly.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		RetentionDays: 7 * 24 * time.Hour,
		CleanupEvery:  1 * time.Hour,
		Logger:        logging.NoOpLogger{},
	}
}

// Store holds spans, events, verdicts, evidence, shield decisions, and audit
// events in memory, keyed by id It publishes guard
// events to Bus as records are created/closed/resolved.
type Store struct {
	cfg StoreConfig
	bus *Bus
	now func() time.Time

	mu             sync.RWMutex
	spans          map[string]*types.Span
	activeSpans    map[string]bool
	events         map[string]*types.SafetyEvent
	verdicts       map[string]*types.Verdict
	evidence       map[string]*types.Evidence
	shieldDecisions map[string]*types.ShieldDecision
	audit          []AuditEvent

	stopCleanup chan struct{}
}

// AuditEvent is a free-form, append-only record (e.g. Shield "flag"
// actions) not otherwise covered by a typed entity.
type AuditEvent struct {
	ID            string
	CorrelationID string
	Severity      types.Severity
	Message       string
	Details       map[string]interface{}
	CreatedAt     time.Time
}

// NewStore builds a Store and starts its periodic retention sweep. Call
// Close to stop the sweep goroutine.
func NewStore(cfg StoreConfig, bus *Bus) *Store {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7 * 24 * time.Hour
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	s := &Store{
		cfg:             cfg,
		bus:             bus,
		now:             time.Now,
		spans:           make(map[string]*types.Span),
		activeSpans:     make(map[string]bool),
		events:          make(map[string]*types.SafetyEvent),
		verdicts:        make(map[string]*types.Verdict),
		evidence:        make(map[string]*types.Evidence),
		shieldDecisions: make(map[string]*types.ShieldDecision),
		stopCleanup:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the retention sweep goroutine.
func (s *Store) Close() { close(s.stopCleanup) }

func (s *Store) cleanupLoop() {
	t := time.NewTicker(s.cfg.CleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-s.stopCleanup:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	cutoff := s.now().Add(-s.cfg.RetentionDays)
	s.mu.Lock()
	removed := 0
	for id, span := range s.spans {
		if span.Closed() && span.EndTime.Before(cutoff) {
			delete(s.spans, id)
			delete(s.activeSpans, id)
			removed++
		}
	}
	for id, ev := range s.events {
		if ev.CreatedAt.Before(cutoff) {
			delete(s.events, id)
		}
	}
	for id, v := range s.verdicts {
		if v.CreatedAt.Before(cutoff) {
			delete(s.verdicts, id)
		}
	}
	for id, e := range s.evidence {
		if e.Timestamp.Before(cutoff) {
			delete(s.evidence, id)
		}
	}
	for id, d := range s.shieldDecisions {
		if d.Timestamp.Before(cutoff) {
			delete(s.shieldDecisions, id)
		}
	}
	kept := s.audit[:0]
	for _, a := range s.audit {
		if !a.CreatedAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	s.audit = kept
	s.mu.Unlock()
	if removed > 0 {
		s.cfg.Logger.Debug("telemetry retention sweep", map[string]interface{}{"spans_removed": removed})
	}
}

// StartSpan creates and returns a new span's id. The span is active
// immediately and published as a span_start guard event.
func (s *Store) StartSpan(correlationID, agentID, tool, action string, typ types.SpanType, parentID string, input map[string]interface{}) string {
	id := uuid.NewString()
	span := &types.Span{
		ID:            id,
		CorrelationID: correlationID,
		AgentID:       agentID,
		Tool:          tool,
		Action:        action,
		Type:          typ,
		StartTime:     s.now(),
		ParentID:      parentID,
		Input:         input,
	}
	s.mu.Lock()
	s.spans[id] = span
	s.activeSpans[id] = true
	if parentID != "" {
		if parent, ok := s.spans[parentID]; ok {
			parent.Children = append(parent.Children, id)
		}
	}
	s.mu.Unlock()

	s.publish(GuardSpanStart, span)
	return id
}

// EndSpan closes spanID, recording output and/or err, and publishes a
// span_end guard event.
func (s *Store) EndSpan(spanID string, output map[string]interface{}, err error) error {
	s.mu.Lock()
	span, ok := s.spans[spanID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("sentinel: unknown span %q", spanID)
	}
	now := s.now()
	span.EndTime = &now
	d := now.Sub(span.StartTime)
	span.Duration = &d
	if output != nil {
		span.Output = output
	}
	if err != nil {
		if span.Metadata == nil {
			span.Metadata = map[string]interface{}{}
		}
		span.Metadata["error"] = err.Error()
	}
	delete(s.activeSpans, spanID)
	s.mu.Unlock()

	s.publish(GuardSpanEnd, span)
	return nil
}

// RecordPerformance merges token-usage/cost metadata into spanID's owning
// span without touching its input/output.
func (s *Store) RecordPerformance(spanID string, partial map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ok := s.spans[spanID]
	if !ok {
		return
	}
	if span.Metadata == nil {
		span.Metadata = map[string]interface{}{}
	}
	for k, v := range partial {
		span.Metadata[k] = v
	}
}

// CreateEvent appends a SafetyEvent and publishes event_created.
func (s *Store) CreateEvent(correlationID, spanID string, typ types.SafetyEventType, sev types.Severity, action types.SafetyAction, details map[string]interface{}) *types.SafetyEvent {
	ev := &types.SafetyEvent{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		SpanID:        spanID,
		Type:          typ,
		Severity:      sev,
		Action:        action,
		Details:       details,
		CreatedAt:     s.now(),
	}
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()
	s.publish(GuardEventCreated, ev)
	return ev
}

// ResolveEvent flips an event's resolved flag exactly once.
func (s *Store) ResolveEvent(eventID, resolvedBy string) error {
	s.mu.Lock()
	ev, ok := s.events[eventID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("sentinel: unknown event %q", eventID)
	}
	if ev.Resolved {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	ev.Resolved = true
	ev.ResolvedAt = &now
	ev.ResolvedBy = resolvedBy
	s.mu.Unlock()
	s.publish(GuardEventResolved, ev)
	return nil
}

// StoreVerdict records v (exactly one verdict per output span) and
// publishes verdict_created.
func (s *Store) StoreVerdict(v *types.Verdict) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.verdicts[v.ID] = v
	s.mu.Unlock()
	s.publish(GuardVerdictCreated, v)
}

// StoreEvidence records e, computing ContentHash if absent.
func (s *Store) StoreEvidence(e *types.Evidence) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ContentHash == "" {
		e.ContentHash = hashOutput(e.Content)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.mu.Lock()
	s.evidence[e.ID] = e
	s.mu.Unlock()
}

// StoreShieldDecision records d and publishes shield_decision.
func (s *Store) StoreShieldDecision(d *types.ShieldDecision) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = s.now()
	}
	s.mu.Lock()
	s.shieldDecisions[d.ID] = d
	s.mu.Unlock()
	s.publish(GuardShieldDecision, d)
}

// StoreAuditEvent appends a free-form audit record (Shield "flag" actions).
func (s *Store) StoreAuditEvent(a AuditEvent) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, a)
	s.mu.Unlock()
}

// EvidenceForSpan returns all evidence for spanID, newest-first.
func (s *Store) EvidenceForSpan(spanID string) []*types.Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Evidence
	for _, e := range s.evidence {
		if e.SpanID == spanID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// CorrelationRecord bundles everything the store holds for one correlation
// id, returned by GetByCorrelation.
type CorrelationRecord struct {
	Spans           []*types.Span
	Events          []*types.SafetyEvent
	Verdicts        []*types.Verdict
	Evidence        []*types.Evidence
	ShieldDecisions []*types.ShieldDecision
}

// GetByCorrelation gathers every record sharing correlationID.
func (s *Store) GetByCorrelation(correlationID string) CorrelationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rec CorrelationRecord
	for _, sp := range s.spans {
		if sp.CorrelationID == correlationID {
			rec.Spans = append(rec.Spans, sp)
		}
	}
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			rec.Events = append(rec.Events, e)
		}
	}
	for _, v := range s.verdicts {
		if v.CorrelationID == correlationID {
			rec.Verdicts = append(rec.Verdicts, v)
		}
	}
	for _, ev := range s.evidence {
		if ev.CorrelationID == correlationID {
			rec.Evidence = append(rec.Evidence, ev)
		}
	}
	for _, d := range s.shieldDecisions {
		if d.CorrelationID == correlationID {
			rec.ShieldDecisions = append(rec.ShieldDecisions, d)
		}
	}
	return rec
}

// GetAll returns every span currently held, for diagnostics/dashboards.
func (s *Store) GetAll() []*types.Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Span, 0, len(s.spans))
	for _, sp := range s.spans {
		out = append(out, sp)
	}
	return out
}

// ActiveSpanCount reports how many spans are open, for health probes.
func (s *Store) ActiveSpanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeSpans)
}

func (s *Store) publish(typ GuardEventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(GuardEvent{Type: typ, Payload: payload})
}
