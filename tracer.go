package chunking

import "context"

// SpanAttr is one key-value pair recorded on a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr builds a string span attribute.
func StringAttr(k, v string) SpanAttr { return SpanAttr{Key: k, Value: v} }

// IntAttr builds an int span attribute.
func IntAttr(k string, v int) SpanAttr { return SpanAttr{Key: k, Value: v} }

// BoolAttr builds a bool span attribute.
func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }

// Float64Attr builds a float64 span attribute.
func Float64Attr(k string, v float64) SpanAttr { return SpanAttr{Key: k, Value: v} }

// Tracer opens spans around batch, document, and refinement operations. The
// observer package provides an OTEL-backed implementation via NewTracer().
// Components treat a nil Tracer as tracing disabled and skip span creation,
// so an untraced pipeline pays nothing.
type Tracer interface {
	// Start opens a span named name under the span in ctx, if any, and
	// returns the child context carrying it. The caller owns the span and
	// must End it.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span is one traced operation in flight.
type Span interface {
	// SetAttr attaches attributes after the span has started, for values
	// only known once the work is done (chunk counts, failure tallies).
	SetAttr(attrs ...SpanAttr)
	// Event marks a named point on the span timeline.
	Event(name string, attrs ...SpanAttr)
	// Error records err and flags the span as failed.
	Error(err error)
	// End closes the span. Call exactly once, typically deferred.
	End()
}
