package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRequestID is the standardized structured logging key for queued request identifiers.
	FieldRequestID = "request_id"
	// FieldMethod is the standardized structured logging key for HTTP methods.
	FieldMethod = "method"
	// FieldResource is the standardized structured logging key for request targets.
	FieldResource = "resource"
	// FieldPriority is the standardized structured logging key for priority tiers.
	FieldPriority = "priority"
	// FieldEventType classifies a log line for filtering and alerting.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized key for the suggested next step after a failure.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID is the standardized structured logging key for caller correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type contextKey int

const correlationKey contextKey = iota

// WithCorrelationID stores a caller-supplied correlation identifier on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the correlation identifier stored on ctx, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(String(FieldCorrelationID, id))
	}
	return logger
}
