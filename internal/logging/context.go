package logging

import (
	"context"
	"log/slog"

	"hopper/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldHash is the content hash of the file record being processed.
	FieldHash = "hash"
	// FieldPath is the filesystem path a log line refers to.
	FieldPath = "path"
	// FieldDir is the directory whose instruction marker is in effect.
	FieldDir = "dir"
	// FieldAction is the planned action being executed.
	FieldAction = "action"
	// FieldTick identifies one scan or pattern tick.
	FieldTick = "tick_id"
	// FieldTarget names a sync target or publishing platform.
	FieldTarget = "target"
	// FieldEventType is a stable machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if hash, ok := services.HashFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldHash, hash))
	}
	if action, ok := services.ActionFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAction, action))
	}
	if tick, ok := services.TickFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTick, tick))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
