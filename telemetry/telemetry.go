// Package telemetry provides the logging, tracing, and metrics interfaces
// shared by every component of the orchestrator. Concrete implementations
// delegate to goa.design/clue for logging and OpenTelemetry for tracing and
// metrics; a noop implementation backs unit tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured, context-scoped logging used throughout the
// engine. The interface is intentionally small so stage handlers and tests
// can supply lightweight stubs without pulling in clue.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/gauge/timer helpers for runtime instrumentation.
// The concurrency governor uses it to count permit acquisitions and
// releases per stage.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so engine code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Bundle groups the three observability facets so they can be threaded
// through context as a single value.
type Bundle struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

type contextKey struct{}

// WithBundle attaches a telemetry Bundle to ctx.
func WithBundle(ctx context.Context, b Bundle) context.Context {
	return context.WithValue(ctx, contextKey{}, b)
}

// FromContext retrieves the Bundle attached to ctx, falling back to a noop
// bundle when none was set (e.g. in unit tests that never wired telemetry).
func FromContext(ctx context.Context) Bundle {
	if b, ok := ctx.Value(contextKey{}).(Bundle); ok {
		return b
	}
	return Noop()
}
