package ingest

import (
	"context"
	"log/slog"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// Orchestrator options. Component options live beside their components:
// ChunkerOption in chunker.go, RouterOption in router.go.

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithChunker replaces the default chunker.
func WithChunker(c *BaseChunker) PipelineOption {
	return func(p *Pipeline) { p.chunker = c }
}

// WithRouter replaces the default router.
func WithRouter(r *QualityRouter) PipelineOption {
	return func(p *Pipeline) { p.router = r }
}

// WithRefineWorkers caps the concurrent refinement calls per document. The
// effective pool is the smaller of this and the candidate count. Default: 10.
func WithRefineWorkers(n int) PipelineOption {
	return func(p *Pipeline) { p.refineWorkers = n }
}

// WithPipelineLogger sets the structured logger.
// If not set, a no-op logger is used (no output).
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPipelineMeter sets the metrics sink for batch counters and histograms.
func WithPipelineMeter(m chunking.Meter) PipelineOption {
	return func(p *Pipeline) { p.meter = m }
}

// WithPipelineTracer enables span creation around batch processing.
func WithPipelineTracer(t chunking.Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBatchSize sets the base sub-batch size before adaptive scaling.
// Default: 10.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) { p.batchSize = n }
}

// WithMaxConcurrentBatches caps how many sub-batches run at once. Default: 3.
func WithMaxConcurrentBatches(n int) ProcessorOption {
	return func(p *Processor) { p.maxConcurrent = n }
}

// WithMaxRetries sets how many extra rounds failed documents get before they
// are reported as permanent failures. Default: 2.
func WithMaxRetries(n int) ProcessorOption {
	return func(p *Processor) { p.maxRetries = n }
}

// WithDocLengthThresholds sets the average-content-length bounds steering
// adaptive batch sizing: at or below short the batch doubles, at or above
// long it quarters. Defaults: 2000, 20000.
func WithDocLengthThresholds(short, long int) ProcessorOption {
	return func(p *Processor) {
		p.shortDocChars = short
		p.longDocChars = long
	}
}

// WithProcessorLoadFunc replaces the load signal sampled into each
// sub-batch's context. Default: chunking.MemoryLoad.
func WithProcessorLoadFunc(fn chunking.LoadFunc) ProcessorOption {
	return func(p *Processor) {
		if fn != nil {
			p.loadFn = fn
		}
	}
}

// WithProcessorLogger sets the structured logger.
// If not set, a no-op logger is used (no output).
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// nopLogger drops everything; used when no logger is configured.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
