package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// BatchPipeline is the per-batch contract the processor drives. *Pipeline is
// the production implementation.
type BatchPipeline interface {
	ProcessBatch(ctx context.Context, docs []chunking.Document, batchCtx chunking.BatchContext) (chunking.ProcessingMetrics, error)
}

// Processor loads documents by ID, slices them into adaptively sized
// sub-batches, runs the sub-batches concurrently, and retries failed
// documents until they succeed or run out of attempts.
type Processor struct {
	source   chunking.DocumentSource
	pipeline BatchPipeline

	batchSize     int
	maxConcurrent int
	maxRetries    int
	shortDocChars int
	longDocChars  int
	loadFn        chunking.LoadFunc
	logger        *slog.Logger
}

var _ chunking.BatchProcessor = (*Processor)(nil)

// NewProcessor creates a processor reading from source and delegating each
// sub-batch to pipeline.
func NewProcessor(source chunking.DocumentSource, pipeline BatchPipeline, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:        source,
		pipeline:      pipeline,
		batchSize:     10,
		maxConcurrent: 3,
		maxRetries:    2,
		shortDocChars: 2000,
		longDocChars:  20000,
		loadFn:        chunking.MemoryLoad,
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize < 1 {
		p.batchSize = 1
	}
	if p.maxConcurrent < 1 {
		p.maxConcurrent = 1
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	return p
}

// ProcessDocuments runs the full cycle for documentIDs. IDs the source does
// not know are reported as permanent failures up front; loaded documents go
// through up to 1+maxRetries rounds of sub-batch processing. The returned
// result aggregates every round. The error is non-nil only for a failed
// load or a cancelled context; per-document failures live in the result.
func (p *Processor) ProcessDocuments(ctx context.Context, documentIDs []string) (chunking.BatchResult, error) {
	start := time.Now()
	var result chunking.BatchResult
	if len(documentIDs) == 0 {
		return result, nil
	}

	docs, err := p.source.LoadDocuments(ctx, documentIDs)
	if err != nil {
		return result, fmt.Errorf("ingest: load documents: %w", err)
	}

	known := make(map[string]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	for _, id := range documentIDs {
		if !known[id] {
			result.PermanentFailures = append(result.PermanentFailures, id)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: document not found", id))
		}
	}

	size := p.subBatchSize(docs)
	p.logger.Info("processing documents",
		"documents", len(docs),
		"missing", len(result.PermanentFailures),
		"sub_batch_size", size)

	pending := docs
	for attempt := 0; len(pending) > 0 && attempt <= p.maxRetries; attempt++ {
		isRetry := attempt > 0
		if isRetry {
			result.Retries++
			p.logger.Info("retrying failed documents",
				"documents", len(pending),
				"attempt", attempt)
		}
		failedIDs := p.runRound(ctx, pending, size, isRetry, &result)
		if err := ctx.Err(); err != nil {
			return result, err
		}
		pending = selectDocs(pending, failedIDs)
	}

	for _, d := range pending {
		result.PermanentFailures = append(result.PermanentFailures, d.ID)
		p.logger.Error("document failed permanently",
			"document_id", d.ID,
			"attempts", p.maxRetries+1)
	}
	result.DocumentsFailed = len(result.PermanentFailures)
	result.Duration = time.Since(start)
	return result, nil
}

// runRound slices docs into sub-batches, runs them with bounded concurrency,
// and merges metrics into result. It returns the IDs that failed this round:
// documents whose error was contained inside a committed batch, plus every
// document of a sub-batch whose transaction failed as a whole.
func (p *Processor) runRound(ctx context.Context, docs []chunking.Document, size int, isRetry bool, result *chunking.BatchResult) []string {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	g.SetLimit(p.maxConcurrent)
	for at := 0; at < len(docs); at += size {
		sub := docs[at:min(at+size, len(docs))]
		g.Go(func() error {
			bc := chunking.BatchContext{
				BatchID:    chunking.NewID(),
				SystemLoad: p.loadFn(),
				IsRetry:    isRetry,
			}
			m, err := p.pipeline.ProcessBatch(ctx, sub, bc)
			mu.Lock()
			defer mu.Unlock()
			result.SubBatches++
			result.RefinementCalls += m.RefinementCalls
			result.RefinementSuccesses += m.RefinementSuccesses
			if err != nil {
				// The whole sub-batch rolled back, so none of its processed
				// counts are real; every document goes back in the pool.
				for _, d := range sub {
					failed = append(failed, d.ID)
				}
				result.Errors = append(result.Errors, fmt.Sprintf("sub-batch %s: %v", bc.BatchID, err))
				p.logger.Warn("sub-batch failed",
					"batch_id", bc.BatchID,
					"documents", len(sub),
					"error", err)
				return nil
			}
			result.DocumentsProcessed += m.DocumentsProcessed
			result.ChunksCreated += m.ChunksCreated
			result.Errors = append(result.Errors, m.Errors...)
			failed = append(failed, m.FailedDocuments...)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return failed
}

// subBatchSize adapts the configured batch size to the workload: long
// documents shrink it (a quarter at or above longDocChars, half above half
// that), short ones double it, and a batch where more than roughly 30% of
// documents carry lists, code, or tables halves it again.
func (p *Processor) subBatchSize(docs []chunking.Document) int {
	if len(docs) == 0 {
		return p.batchSize
	}
	totalLen, structured := 0, 0
	for _, d := range docs {
		totalLen += len(d.Content)
		if scanStructure(d.Content).structured() {
			structured++
		}
	}
	avg := totalLen / len(docs)
	size := p.batchSize
	switch {
	case avg >= p.longDocChars:
		size /= 4
	case avg >= p.longDocChars/2:
		size /= 2
	case avg <= p.shortDocChars:
		size *= 2
	}
	if structured*10 > len(docs)*3 {
		size /= 2
	}
	if size < 1 {
		size = 1
	}
	return size
}

// selectDocs returns the docs whose IDs appear in ids, preserving order and
// dropping duplicates.
func selectDocs(docs []chunking.Document, ids []string) []chunking.Document {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []chunking.Document
	for _, d := range docs {
		if want[d.ID] {
			out = append(out, d)
			delete(want, d.ID)
		}
	}
	return out
}
