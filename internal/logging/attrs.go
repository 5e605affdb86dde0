package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// JobID tags a record with a job identifier.
func JobID(id string) Attr { return slog.String(FieldJobID, id) }

// EventType names the event a record describes, e.g. "job_failed".
func EventType(name string) Attr { return slog.String(FieldEventType, name) }

// Hint tells the reader what to do next.
func Hint(text string) Attr { return slog.String(FieldErrorHint, text) }

// FieldImpact is the key for the user-facing consequence of a warning.
const FieldImpact = "impact"

// Impact states what the user loses when a warning is ignored.
func Impact(text string) Attr { return slog.String(FieldImpact, text) }

// Progress renders a 0..1 fraction as a rounded percentage.
func Progress(fraction float64) Attr {
	return slog.Float64(FieldProgress, float64(int(fraction*1000+0.5))/10)
}

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger tagged with a component name.
// A nil logger falls back to a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

func withDefault(attrs []Attr, fallback Attr) []Attr {
	for _, a := range attrs {
		if a.Key == fallback.Key {
			return attrs
		}
	}
	return append(attrs, fallback)
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact so every WARN line reads as cause, consequence and next step.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, EventType(eventType))
	attrs = withDefault(attrs, Hint("check logs for details"))
	attrs = withDefault(attrs, Impact("operation completed with warnings"))
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, EventType(eventType))
	attrs = withDefault(attrs, Hint("check logs for details"))
	logger.Error(msg, Args(attrs...)...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
