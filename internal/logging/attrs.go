package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }
func Float64(key string, value float64) Attr { return slog.Float64(key, value) }
func Int(key string, value int) Attr { return slog.Int(key, value) }
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }
func String(key string, value string) Attr { return slog.String(key, value) }

// Hash tags a line with a record's content hash.
func Hash(value string) Attr { return slog.String(FieldHash, value) }

// Path tags a line with a filesystem path.
func Path(value string) Attr { return slog.String(FieldPath, value) }

// Error never drops the key, so a nil error still shows up in queries.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args turns attrs into the variadic form slog methods take.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger { return slog.New(discard{}) }

// NewComponentLogger tags every line from logger with component. A nil
// logger yields a no-op one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

const (
	defaultHint   = "run 'hopper errors' for the failure log"
	defaultImpact = "the scan continued; only this item is affected"
)

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact, filling in hopper's defaults for whichever attrs omit.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = ensure(attrs, FieldEventType, eventType)
	attrs = ensure(attrs, FieldErrorHint, defaultHint)
	attrs = ensure(attrs, FieldImpact, defaultImpact)
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext is WarnWithContext at error level. Impact is left to the
// caller since an error line may describe a whole scan.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = ensure(attrs, FieldEventType, eventType)
	attrs = ensure(attrs, FieldErrorHint, defaultHint)
	logger.Error(msg, Args(attrs...)...)
}

func ensure(attrs []Attr, key, fallback string) []Attr {
	for _, a := range attrs {
		if a.Key == key {
			return attrs
		}
	}
	return append(attrs, String(key, fallback))
}

type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (d discard) WithAttrs([]slog.Attr) slog.Handler { return d }
func (d discard) WithGroup(string) slog.Handler { return d }
