// Package logging provides the gateway's structured logger: JSON output in
// Kubernetes, human-readable text locally, rate-limited error logs, and
// per-component attribution so subsystems can be filtered independently,
// e.g. `component == "sentinel/shield"` or `component == "reliability/cache"`.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal logging interface every subsystem depends on.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem derive a logger scoped to its own
// component name while sharing the base configuration (level, format,
// output, rate limiter).
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// rateLimiter caps how often Error logs fire, so a failing dependency can't
// flood stdout during an incident.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}

// ProductionLogger is the gateway's concrete Logger implementation.
type ProductionLogger struct {
	mu           sync.RWMutex
	level        string
	debug        bool
	service      string
	component    string
	format       string
	output       io.Writer
	errorLimiter *rateLimiter
}

var _ ComponentAwareLogger = (*ProductionLogger)(nil)

// New creates a logger for service, auto-detecting JSON format under
// Kubernetes and text format for local development, exactly like the
// gateway's telemetry pipeline does for its own operational logs.
func New(service string) *ProductionLogger {
	level := os.Getenv("GATEWAY_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := strings.EqualFold(level, "DEBUG") || os.Getenv("GATEWAY_DEBUG") == "true"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("GATEWAY_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		service:      service,
		component:    "gateway",
		format:       format,
		output:       os.Stdout,
		errorLimiter: newRateLimiter(time.Second),
	}
}

// WithComponent returns a logger sharing this one's configuration but
// tagged with a different component, e.g. "sentinel/judge".
func (l *ProductionLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ProductionLogger{
		level:        l.level,
		debug:        l.debug,
		service:      l.service,
		component:    component,
		format:       l.format,
		output:       l.output,
		errorLimiter: l.errorLimiter,
	}
}

// SetOutput redirects log output; used by tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func withCorrelation(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if id := CorrelationIDFromContext(ctx); id != "" {
		out := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			out[k] = v
		}
		out["correlation_id"] = id
		return out
	}
	return fields
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withCorrelation(ctx, fields))
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withCorrelation(ctx, fields))
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withCorrelation(ctx, fields))
}
func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withCorrelation(ctx, fields))
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

func (l *ProductionLogger) shouldLog(level string) bool {
	cur, ok1 := levelRank[l.level]
	msg, ok2 := levelRank[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.shouldLog(level) {
		return
	}
	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(ts, level, msg, fields)
	} else {
		l.logText(ts, level, msg, fields)
	}
}

func (l *ProductionLogger) logJSON(ts, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": ts,
		"level":     level,
		"service":   l.service,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; !reserved {
			entry[k] = v
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(ts, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s %s\n", ts, level, l.service, l.component, msg, b.String())
}

// NoOpLogger discards everything; used as a safe default when no logger is
// configured.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}
