package observer

import (
	"context"
	"fmt"

	chunking "github.com/langgraphsystem/rssnews-sub004"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// otelTracer implements chunking.Tracer using OpenTelemetry.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns a chunking.Tracer backed by the global OTEL
// TracerProvider. Init installs that provider; without it spans land in a
// no-op backend.
func NewTracer() chunking.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...chunking.SpanAttr) (context.Context, chunking.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

// otelSpan implements chunking.Span using an OTEL trace.Span.
type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...chunking.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...chunking.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.inner.End()
}

// toOTELAttr maps a chunking.SpanAttr onto a typed OTEL attribute; values
// outside the supported types are stringified.
func toOTELAttr(a chunking.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

func toOTELAttrs(attrs []chunking.SpanAttr) []attribute.KeyValue {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTELAttr(a)
	}
	return otelAttrs
}

// compile-time checks
var (
	_ chunking.Tracer = (*otelTracer)(nil)
	_ chunking.Span   = (*otelSpan)(nil)
)
