// Package gwerrors defines the gateway's external error surface. Every
// failure the core can produce maps to exactly one Kind. An Internal
// error's underlying detail never crosses the invoke() boundary: the HTTP
// layer answers it with the bare kind name only.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds invoke() can return.
type Kind string

const (
	InvalidRequest    Kind = "InvalidRequest"
	PolicyDenied      Kind = "PolicyDenied"
	CircuitOpen       Kind = "CircuitOpen"
	Timeout           Kind = "Timeout"
	UpstreamTransient Kind = "UpstreamTransient"
	UpstreamPermanent Kind = "UpstreamPermanent"
	SafetyBlocked     Kind = "SafetyBlocked"
	Internal          Kind = "Internal"
)

// Sentinel errors usable with errors.Is, mirroring core.FrameworkError's
// sentinel-error discipline.
var (
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("context canceled")
)

// GatewayError is the structured error returned across the invoke()
// boundary. Fields beyond Kind/Message are optional context for the
// caller; Err is part of Error()'s text, which the HTTP layer returns for
// every kind except Internal.
type GatewayError struct {
	Op            string
	Kind          Kind
	CorrelationID string
	PolicyID      string
	FieldErrors   []FieldError
	Message       string
	Err           error
}

// FieldError carries one schema-violation detail for InvalidRequest.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap lets errors.Is/As see through to the underlying cause.
func (e *GatewayError) Unwrap() error { return e.Err }

// New builds a GatewayError of the given kind.
func New(op string, kind Kind, err error) *GatewayError {
	return &GatewayError{Op: op, Kind: kind, Err: err}
}

// Sanitized is not an error — it is the distinguished success kind for
// outputs the Shield modified (masked or rewritten). Callers detect
// modification via the FingerprintOfOriginal field.
type Sanitized struct {
	Value               interface{}
	FingerprintOfOriginal string
}

// Classify maps a low-level error to the Kind a caller should see.
// ErrCircuitOpen and ErrTimeout keep their own kinds; otherwise retryable
// (as decided by the retry policy) selects UpstreamTransient and anything
// else UpstreamPermanent. exhausted does not change the result.
func Classify(op string, err error, retryable bool, exhausted bool) *GatewayError {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return New(op, CircuitOpen, err)
	case errors.Is(err, ErrTimeout):
		return New(op, Timeout, err)
	case retryable && exhausted:
		return New(op, UpstreamTransient, err)
	case retryable:
		return New(op, UpstreamTransient, err)
	default:
		return New(op, UpstreamPermanent, err)
	}
}
