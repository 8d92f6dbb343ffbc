package observer

import (
	"context"
	"time"

	chunking "github.com/langgraphsystem/rssnews-sub004"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRefiner wraps a chunking.Refiner with OTEL instrumentation. It is
// the emission point for the refinement request/success counters and the
// response-duration histogram, so wrap the transport-level refiner exactly
// once: every retry the resilient client makes is one observed request.
type ObservedRefiner struct {
	inner chunking.Refiner
	inst  *Instruments
}

// WrapRefiner returns an instrumented refiner that emits traces, metrics, and logs.
func WrapRefiner(inner chunking.Refiner, inst *Instruments) *ObservedRefiner {
	return &ObservedRefiner{inner: inner, inst: inst}
}

func (o *ObservedRefiner) Name() string { return o.inner.Name() }

func (o *ObservedRefiner) Refine(ctx context.Context, req chunking.RefineRequest) (*chunking.RefinementResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "refine.request", trace.WithAttributes(
		AttrRefinerName.String(o.inner.Name()),
		AttrChunkIndex.Int(req.Chunk.Index),
		AttrChunkWords.Int(req.Chunk.WordCount),
		AttrChunkStrategy.String(string(req.Chunk.Strategy)),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Refine(ctx, req)

	seconds := time.Since(start).Seconds()
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if result != nil {
		span.SetAttributes(
			AttrRefineAction.String(string(result.Action)),
			AttrRefineConfidence.Float64(result.Confidence),
		)
	}

	o.record(ctx, req, status, seconds)
	return result, err
}

func (o *ObservedRefiner) record(ctx context.Context, req chunking.RefineRequest, status string, seconds float64) {
	attrs := metric.WithAttributes(
		AttrRefinerName.String(o.inner.Name()),
		attribute.String("status", status),
	)

	o.inst.RefinementRequests.Add(ctx, 1, attrs)
	if status == "ok" {
		o.inst.RefinementSuccess.Add(ctx, 1, metric.WithAttributes(
			AttrRefinerName.String(o.inner.Name()),
		))
	}
	o.inst.RefineDuration.Record(ctx, seconds, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("refinement call completed"))
	rec.AddAttributes(
		otellog.String("refiner.name", o.inner.Name()),
		otellog.Int("chunk.index", req.Chunk.Index),
		otellog.Int("chunk.words", req.Chunk.WordCount),
		otellog.String("chunk.strategy", string(req.Chunk.Strategy)),
		otellog.Float64("refine.duration_s", seconds),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ chunking.Refiner = (*ObservedRefiner)(nil)
