package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// neighborContextChars bounds how much of the adjacent chunks travels with a
// refinement request.
const neighborContextChars = 120

// Pipeline turns documents into persisted chunks: deterministic chunking,
// heuristic routing, bounded concurrent refinement, then a single sink
// transaction per batch.
//
// A document that fails chunking, routing, or merging is recorded and
// skipped; the rest of the batch still commits. A sink failure aborts the
// whole batch, and the deferred rollback guarantees no partial writes. The
// refiner can never fail a document: an error or nil verdict just leaves the
// chunk unrefined.
type Pipeline struct {
	sink    chunking.ChunkSink
	refiner chunking.Refiner
	chunker *BaseChunker
	router  *QualityRouter

	refineWorkers int
	logger        *slog.Logger
	meter         chunking.Meter
	tracer        chunking.Tracer
}

var _ BatchPipeline = (*Pipeline)(nil)

// NewPipeline creates a pipeline writing to sink. refiner may be nil, which
// disables refinement entirely; every chunk is then emitted as chunked.
func NewPipeline(sink chunking.ChunkSink, refiner chunking.Refiner, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sink:          sink,
		refiner:       refiner,
		refineWorkers: 10,
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chunker == nil {
		p.chunker = NewBaseChunker()
	}
	if p.router == nil {
		p.router = NewQualityRouter()
	}
	if p.refineWorkers < 1 {
		p.refineWorkers = 1
	}
	return p
}

// docWork is the per-document state carried between the chunking and
// refinement phases.
type docWork struct {
	doc    chunking.Document
	text   string
	chunks []chunking.RawChunk
	err    error
}

// ProcessBatch chunks, routes, refines, and persists docs in one sink
// transaction. The returned metrics describe what actually happened even
// when an error is returned; a non-nil error means the transaction rolled
// back and nothing from this batch was persisted.
//
// Reprocessing the same documents replaces their chunks wholesale, so a
// retry after a failed commit converges to the same end state.
func (p *Pipeline) ProcessBatch(ctx context.Context, docs []chunking.Document, batchCtx chunking.BatchContext) (chunking.ProcessingMetrics, error) {
	start := time.Now()
	var metrics chunking.ProcessingMetrics
	if len(docs) == 0 {
		return metrics, nil
	}
	if batchCtx.BatchID == "" {
		batchCtx.BatchID = chunking.NewID()
	}

	var span chunking.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "ingest.process_batch",
			chunking.StringAttr("batch_id", batchCtx.BatchID),
			chunking.IntAttr("documents", len(docs)),
			chunking.BoolAttr("retry", batchCtx.IsRetry))
		defer span.End()
	}

	// Chunk everything up front so the refinement budget is computed from
	// the batch's real chunk total rather than a per-document guess.
	works := make([]docWork, len(docs))
	total := 0
	for i, doc := range docs {
		works[i] = p.prepare(doc)
		total += len(works[i].chunks)
	}
	batchCtx.TotalChunks = total
	remaining := p.router.budget(total, batchCtx.SystemLoad)

	batch, err := p.sink.BeginBatch(ctx)
	if err != nil {
		metrics.Duration = time.Since(start)
		return metrics, fmt.Errorf("ingest: begin batch: %w", err)
	}
	defer batch.Rollback(ctx) //nolint:errcheck

	for i := range works {
		w := &works[i]
		var final []chunking.FinalChunk
		if w.err == nil {
			var calls, successes int
			final, calls, successes, w.err = p.refineAndMerge(ctx, w, batchCtx, &remaining)
			metrics.RefinementCalls += calls
			metrics.RefinementSuccesses += successes
		}
		if w.err != nil {
			metrics.DocumentsFailed++
			metrics.FailedDocuments = append(metrics.FailedDocuments, w.doc.ID)
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("%s: %v", w.doc.ID, w.err))
			p.logger.Warn("document failed",
				"batch_id", batchCtx.BatchID,
				"document_id", w.doc.ID,
				"error", w.err)
			continue
		}
		// Empty documents still upsert: an empty chunk set clears whatever
		// an earlier version of the document left behind.
		if err := batch.UpsertChunks(ctx, w.doc.ID, final); err != nil {
			if span != nil {
				span.Error(err)
			}
			metrics.Duration = time.Since(start)
			return metrics, fmt.Errorf("ingest: upsert chunks for %s: %w", w.doc.ID, err)
		}
		metrics.DocumentsProcessed++
		metrics.ChunksCreated += len(final)
		p.count(chunking.MetricDocumentsProcessed, 1)
		p.count(chunking.MetricChunksCreated, int64(len(final)))
		for _, fc := range final {
			p.observe(chunking.MetricChunkSizeWords, float64(fc.WordCount))
		}
	}

	if err := batch.Commit(ctx); err != nil {
		if span != nil {
			span.Error(err)
		}
		metrics.Duration = time.Since(start)
		return metrics, fmt.Errorf("ingest: commit batch: %w", err)
	}
	metrics.Duration = time.Since(start)
	p.observe(chunking.MetricBatchDuration, metrics.Duration.Seconds())
	if span != nil {
		span.SetAttr(chunking.IntAttr("chunks_created", metrics.ChunksCreated))
		span.SetAttr(chunking.IntAttr("documents_failed", metrics.DocumentsFailed))
	}
	p.logger.Info("batch processed",
		"batch_id", batchCtx.BatchID,
		"documents", metrics.DocumentsProcessed,
		"failed", metrics.DocumentsFailed,
		"chunks", metrics.ChunksCreated,
		"refinement_calls", metrics.RefinementCalls,
		"duration", metrics.Duration)
	return metrics, nil
}

// prepare normalizes and chunks one document. A panic in the chunker is
// converted into a document-level error so one malformed document cannot
// take down the batch.
func (p *Pipeline) prepare(doc chunking.Document) (w docWork) {
	w.doc = doc
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("chunk: panic: %v", r)
		}
	}()
	// Normalizing here keeps w.text identical to what the chunker spans
	// refer to, so merge offsets resolve against the right bytes.
	w.text = norm.NFC.String(doc.Content)
	w.chunks = p.chunker.Chunk(w.text, doc.Metadata)
	return w
}

// refineAndMerge routes one document's chunks, refines the flagged ones
// within the batch allowance, and applies the verdicts.
func (p *Pipeline) refineAndMerge(ctx context.Context, w *docWork, batchCtx chunking.BatchContext, remaining *int) (final []chunking.FinalChunk, calls, successes int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refine: panic: %v", r)
		}
	}()
	if len(w.chunks) == 0 {
		return nil, 0, 0, nil
	}
	routed := p.router.Route(w.chunks, w.doc.Metadata, batchCtx)
	var verdicts map[int]*chunking.RefinementResult
	verdicts, calls, successes = p.refineFlagged(ctx, w.doc, routed, remaining)
	final = applyRefinements(w.text, w.chunks, verdicts)
	return final, calls, successes, nil
}

// refineFlagged runs refinement for flagged chunks on a bounded worker pool,
// highest priority first. remaining is the batch-wide call allowance;
// candidates beyond it stay unrefined even though their routing flags are
// already recorded on the chunk.
func (p *Pipeline) refineFlagged(ctx context.Context, doc chunking.Document, routed []Routed, remaining *int) (map[int]*chunking.RefinementResult, int, int) {
	if p.refiner == nil || *remaining <= 0 {
		return nil, 0, 0
	}
	var candidates []int
	for i, r := range routed {
		if r.Decision.NeedsRefinement {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil, 0, 0
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return routed[candidates[a]].Decision.Priority > routed[candidates[b]].Decision.Priority
	})
	if len(candidates) > *remaining {
		candidates = candidates[:*remaining]
	}
	*remaining -= len(candidates)

	workers := min(p.refineWorkers, len(candidates))
	work := make(chan int, len(candidates))
	done := make(chan struct{})
	var mu sync.Mutex
	verdicts := make(map[int]*chunking.RefinementResult, len(candidates))
	var calls, successes atomic.Int32

	for range workers {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := range work {
				if ctx.Err() != nil {
					continue // drain; these chunks stay unrefined
				}
				r := routed[i]
				calls.Add(1)
				res, err := p.safeRefine(ctx, chunking.RefineRequest{
					Chunk:        r.Chunk,
					Decision:     r.Decision,
					PrevTail:     prevTail(routed, i),
					NextHead:     nextHead(routed, i),
					DocumentMeta: doc.Metadata,
				})
				if err != nil || res == nil {
					if err != nil {
						p.logger.Warn("refinement skipped",
							"document_id", doc.ID,
							"chunk_index", r.Chunk.Index,
							"error", err)
					}
					continue
				}
				successes.Add(1)
				mu.Lock()
				verdicts[r.Chunk.Index] = res
				mu.Unlock()
			}
		}()
	}
	for _, i := range candidates {
		work <- i
	}
	close(work)
	for range workers {
		<-done
	}
	return verdicts, int(calls.Load()), int(successes.Load())
}

// safeRefine shields the pipeline from a panicking refiner; a panic counts
// as a failed call, and the chunk stays unrefined like any other failure.
func (p *Pipeline) safeRefine(ctx context.Context, req chunking.RefineRequest) (res *chunking.RefinementResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("refiner panic: %v", r)
		}
	}()
	return p.refiner.Refine(ctx, req)
}

func prevTail(routed []Routed, i int) string {
	if i == 0 {
		return ""
	}
	return tailChars(routed[i-1].Chunk.Text, neighborContextChars)
}

func nextHead(routed []Routed, i int) string {
	if i+1 >= len(routed) {
		return ""
	}
	return headChars(routed[i+1].Chunk.Text, neighborContextChars)
}

func (p *Pipeline) count(name string, delta int64) {
	if p.meter != nil {
		p.meter.Count(name, delta)
	}
}

func (p *Pipeline) observe(name string, v float64) {
	if p.meter != nil {
		p.meter.Observe(name, v)
	}
}
