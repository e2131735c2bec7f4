package health

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity is the severity of a raised alert.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is one active or resolved alert. DedupeKey groups repeats of the
// same underlying condition (e.g. "check:memory-usage") so retriggering
// does not spam a new alert per failed probe.
type Alert struct {
	ID         string
	Severity   AlertSeverity
	Message    string
	Details    map[string]interface{}
	DedupeKey  string
	RaisedAt   time.Time
	Resolved   bool
	ResolvedAt *time.Time
}

// AlertSink receives every raised or resolved alert; the composition root
// wires in zero or more concrete sinks (e.g. Slack).
type AlertSink interface {
	Notify(a Alert)
}

type noopSink struct{}

func (noopSink) Notify(Alert) {}

// AlertManager tracks active alerts keyed by DedupeKey, fanning every
// raise/resolve out to its configured sinks.
type AlertManager struct {
	mu     sync.Mutex
	active map[string]*Alert // dedupeKey -> alert
	byID   map[string]*Alert
	sinks  []AlertSink
	now    func() time.Time
}

// NewAlertManager builds an AlertManager fanning out to sinks (a no-op
// default sink is added if none are given).
func NewAlertManager(sinks ...AlertSink) *AlertManager {
	if len(sinks) == 0 {
		sinks = []AlertSink{noopSink{}}
	}
	return &AlertManager{
		active: make(map[string]*Alert),
		byID:   make(map[string]*Alert),
		sinks:  sinks,
		now:    time.Now,
	}
}

// Raise creates a new alert, or returns the existing one's id if dedupeKey
// already has an active alert (repeats de-dup).
func (m *AlertManager) Raise(sev AlertSeverity, message string, details map[string]interface{}, dedupeKey string) string {
	m.mu.Lock()
	if existing, ok := m.active[dedupeKey]; ok {
		m.mu.Unlock()
		return existing.ID
	}
	a := &Alert{
		ID: uuid.NewString(), Severity: sev, Message: message, Details: details,
		DedupeKey: dedupeKey, RaisedAt: m.now(),
	}
	m.active[dedupeKey] = a
	m.byID[a.ID] = a
	m.mu.Unlock()

	for _, s := range m.sinks {
		s.Notify(*a)
	}
	return a.ID
}

// Resolve flips an alert to resolved and notifies sinks.
func (m *AlertManager) Resolve(id string) {
	m.mu.Lock()
	a, ok := m.byID[id]
	if !ok || a.Resolved {
		m.mu.Unlock()
		return
	}
	now := m.now()
	a.Resolved = true
	a.ResolvedAt = &now
	delete(m.active, a.DedupeKey)
	m.mu.Unlock()

	for _, s := range m.sinks {
		s.Notify(*a)
	}
}

// Active returns a snapshot of currently unresolved alerts.
func (m *AlertManager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}
