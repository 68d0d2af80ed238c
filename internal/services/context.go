package services

import "context"

type contextKey string

const (
	hashKey      contextKey = "hash"
	actionKey    contextKey = "action"
	tickKey      contextKey = "tick_id"
	requestIDKey contextKey = "request_id"
)

// WithHash annotates context with the content hash of the file being processed.
func WithHash(ctx context.Context, hash string) context.Context {
	if hash == "" {
		return ctx
	}
	return context.WithValue(ctx, hashKey, hash)
}

// HashFromContext extracts the content hash if present.
func HashFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(hashKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAction annotates context with the executor action name.
func WithAction(ctx context.Context, action string) context.Context {
	if action == "" {
		return ctx
	}
	return context.WithValue(ctx, actionKey, action)
}

// ActionFromContext returns the action name if present.
func ActionFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(actionKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTick annotates context with the scan tick identifier.
func WithTick(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, tickKey, id)
}

// TickFromContext returns the scan tick identifier if present.
func TickFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(tickKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
