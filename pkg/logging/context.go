package logging

import "context"

type correlationKey struct{}

// ContextWithCorrelationID attaches a correlation id to ctx so every log
// line emitted underneath carries it automatically.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation id attached to ctx, or
// "" if none was set.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
