package observer

import (
	"context"

	chunking "github.com/langgraphsystem/rssnews-sub004"

	"go.opentelemetry.io/otel/metric"
)

// otelMeter implements chunking.Meter on top of the instruments created by
// Init. The Meter contract carries no context, and none is needed: metrics
// use it only for exemplar linking.
type otelMeter struct {
	inst *Instruments
}

// NewMeter returns a chunking.Meter that records into the observer's OTEL
// instruments. Metric names outside the root metrics.go set are dropped.
func NewMeter(inst *Instruments) chunking.Meter {
	return &otelMeter{inst: inst}
}

func (m *otelMeter) Count(name string, delta int64, attrs ...chunking.SpanAttr) {
	opt := metric.WithAttributes(toOTELAttrs(attrs)...)
	ctx := context.Background()
	switch name {
	case chunking.MetricDocumentsProcessed:
		m.inst.DocumentsProcessed.Add(ctx, delta, opt)
	case chunking.MetricChunksCreated:
		m.inst.ChunksCreated.Add(ctx, delta, opt)
	case chunking.MetricRefinementRequests:
		m.inst.RefinementRequests.Add(ctx, delta, opt)
	case chunking.MetricRefinementSuccess:
		m.inst.RefinementSuccess.Add(ctx, delta, opt)
	}
}

func (m *otelMeter) Observe(name string, value float64, attrs ...chunking.SpanAttr) {
	opt := metric.WithAttributes(toOTELAttrs(attrs)...)
	ctx := context.Background()
	switch name {
	case chunking.MetricBatchDuration:
		m.inst.BatchDuration.Record(ctx, value, opt)
	case chunking.MetricRefineDuration:
		m.inst.RefineDuration.Record(ctx, value, opt)
	case chunking.MetricChunkSizeWords:
		m.inst.ChunkSizeWords.Record(ctx, value, opt)
	}
}

func (m *otelMeter) Gauge(name string, value int64, attrs ...chunking.SpanAttr) {
	opt := metric.WithAttributes(toOTELAttrs(attrs)...)
	ctx := context.Background()
	switch name {
	case chunking.MetricActiveJobs:
		m.inst.ActiveJobs.Record(ctx, value, opt)
	case chunking.MetricJobQueueSize:
		m.inst.JobQueueSize.Record(ctx, value, opt)
	case chunking.MetricBreakerOpen:
		m.inst.BreakerOpen.Record(ctx, value, opt)
	}
}

var _ chunking.Meter = (*otelMeter)(nil)
