package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OTelLogger emits log records as span events on the active trace span
	// when present, and is otherwise a no-op; the core does not assume a
	// dedicated logging backend is configured, only that a tracer may be.
	OTelLogger struct{}

	// OTelMetrics records counters, timers, and gauges through an
	// OpenTelemetry metric.Meter.
	OTelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Float64Counter
		timers   map[string]metric.Float64Histogram
		gauges   map[string]metric.Float64Gauge
	}

	// OTelTracer starts spans through an OpenTelemetry trace.Tracer.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOTelLogger constructs a Logger that records structured events against
// the span active in ctx, if any.
func NewOTelLogger() Logger { return OTelLogger{} }

func (OTelLogger) log(ctx context.Context, level, msg string, kv []any) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2+1)
	attrs = append(attrs, attribute.String("level", level))
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			key = fmt.Sprintf("arg%d", i)
		}
		attrs = append(attrs, attribute.String(key, fmt.Sprint(kv[i+1])))
	}
	span.AddEvent(msg, trace.WithAttributes(attrs...))
}

func (l OTelLogger) Debug(ctx context.Context, msg string, kv ...any) { l.log(ctx, "debug", msg, kv) }
func (l OTelLogger) Info(ctx context.Context, msg string, kv ...any)  { l.log(ctx, "info", msg, kv) }
func (l OTelLogger) Warn(ctx context.Context, msg string, kv ...any)  { l.log(ctx, "warn", msg, kv) }
func (l OTelLogger) Error(ctx context.Context, msg string, kv ...any) { l.log(ctx, "error", msg, kv) }

// NewOTelMetrics constructs Metrics backed by the given meter. Instruments
// are created lazily and cached by name.
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		timers:   make(map[string]metric.Float64Histogram),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *OTelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.timers[name] = h
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

// NewOTelTracer constructs a Tracer backed by the given trace.Tracer.
func NewOTelTracer(tracer trace.Tracer) Tracer { return OTelTracer{tracer: tracer} }

func (t OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

func (s otelSpan) SetAttributes(kv ...any) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		attrs = append(attrs, attribute.String(key, fmt.Sprint(kv[i+1])))
	}
	s.span.SetAttributes(attrs...)
}

func (s otelSpan) SetStatusError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) End() { s.span.End() }
