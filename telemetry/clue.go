package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// clueLogger delegates to goa.design/clue/log. It reads formatting and debug
// settings from the context, set up once at process start via log.Context.
type clueLogger struct{}

// clueTracer wraps the global OTEL TracerProvider.
type clueTracer struct {
	tracer trace.Tracer
}

// clueMetrics wraps the global OTEL MeterProvider.
type clueMetrics struct {
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

type clueSpan struct {
	span trace.Span
}

// NewClueBundle constructs a Bundle backed by clue/log for logging and OTEL
// for tracing/metrics. componentName names the OTEL tracer and should
// identify the component (e.g. "orchestrator/graphengine"); metrics are
// recorded on the "orchestrator" meter.
func NewClueBundle(componentName string) Bundle {
	return Bundle{
		Logger:  clueLogger{},
		Tracer:  &clueTracer{tracer: otel.Tracer(componentName)},
		Metrics: newClueMetrics(componentName),
	}
}

func newClueMetrics(name string) *clueMetrics {
	_ = otel.Meter(name)
	return &clueMetrics{
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (l clueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (l clueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (l clueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fields := append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}, kvToClue(keyvals)...)
	log.Print(ctx, fields...)
}

func (l clueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func kvToClue(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "" {
			continue
		}
		fielders = append(fielders, log.KV{K: key, V: keyvals[i+1]})
	}
	return fielders
}

func (t *clueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption)              { s.span.End(opts...) }
func (s *clueSpan) AddEvent(name string, _ ...any)               { s.span.AddEvent(name) }
func (s *clueSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	if err == nil {
		return
	}
	s.span.RecordError(err, opts...)
}

func (m *clueMetrics) IncCounter(name string, value float64, _ ...string) {
	c, ok := m.counters[name]
	if !ok {
		c, _ = otel.Meter("orchestrator").Float64Counter(name)
		m.counters[name] = c
	}
	c.Add(context.Background(), value)
}

func (m *clueMetrics) RecordTimer(name string, duration time.Duration, _ ...string) {
	h, ok := m.histograms[name]
	if !ok {
		h, _ = otel.Meter("orchestrator").Float64Histogram(name)
		m.histograms[name] = h
	}
	h.Record(context.Background(), duration.Seconds())
}

func (m *clueMetrics) RecordGauge(name string, value float64, _ ...string) {
	g, ok := m.gauges[name]
	if !ok {
		g, _ = otel.Meter("orchestrator").Float64Gauge(name)
		m.gauges[name] = g
	}
	g.Record(context.Background(), value)
}
