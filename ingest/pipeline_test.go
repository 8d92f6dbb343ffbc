package ingest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// --- test doubles ---

// mockSink is an in-memory ChunkSink. Chunks land in stored only on commit;
// rollbacks counts transactions that actually rolled back (a rollback after
// commit is a no-op, like a real transaction).
type mockSink struct {
	mu        sync.Mutex
	stored    map[string][]chunking.FinalChunk
	commits   int
	rollbacks int

	beginErr     error
	commitErr    error
	upsertErrDoc string
	upsertErr    error
}

func newMockSink() *mockSink {
	return &mockSink{stored: make(map[string][]chunking.FinalChunk)}
}

func (s *mockSink) BeginBatch(_ context.Context) (chunking.ChunkBatch, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &mockBatch{sink: s, upserts: make(map[string][]chunking.FinalChunk)}, nil
}

type mockBatch struct {
	sink    *mockSink
	upserts map[string][]chunking.FinalChunk
	done    bool
}

func (b *mockBatch) UpsertChunks(_ context.Context, documentID string, chunks []chunking.FinalChunk) error {
	if b.sink.upsertErrDoc == documentID && b.sink.upsertErr != nil {
		return b.sink.upsertErr
	}
	b.upserts[documentID] = chunks
	return nil
}

func (b *mockBatch) Commit(_ context.Context) error {
	s := b.sink
	if s.commitErr != nil {
		return s.commitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	for id, cs := range b.upserts {
		s.stored[id] = cs
	}
	s.commits++
	return nil
}

func (b *mockBatch) Rollback(_ context.Context) error {
	s := b.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	s.rollbacks++
	return nil
}

// mockRefiner returns scripted verdicts keyed by chunk index; unscripted
// chunks get a keep verdict.
type mockRefiner struct {
	mu       sync.Mutex
	verdicts map[int]*chunking.RefinementResult
	err      error
	reqs     []chunking.RefineRequest
}

func (m *mockRefiner) Name() string { return "mock" }

func (m *mockRefiner) Refine(_ context.Context, req chunking.RefineRequest) (*chunking.RefinementResult, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.verdicts[req.Chunk.Index]; ok {
		return v, nil
	}
	return &chunking.RefinementResult{Action: chunking.ActionKeep, SemanticType: chunking.SemanticBody, Confidence: 0.9}, nil
}

func (m *mockRefiner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func (m *mockRefiner) requests() []chunking.RefineRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chunking.RefineRequest(nil), m.reqs...)
}

type panicRefiner struct{}

func (panicRefiner) Name() string { return "panic" }
func (panicRefiner) Refine(context.Context, chunking.RefineRequest) (*chunking.RefinementResult, error) {
	panic("refiner exploded")
}

// mockMeter records counter and histogram activity.
type mockMeter struct {
	mu     sync.Mutex
	counts map[string]int64
	obs    map[string][]float64
}

func (m *mockMeter) Count(name string, delta int64, _ ...chunking.SpanAttr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[name] += delta
}

func (m *mockMeter) Observe(name string, value float64, _ ...chunking.SpanAttr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.obs == nil {
		m.obs = make(map[string][]float64)
	}
	m.obs[name] = append(m.obs[name], value)
}

func (m *mockMeter) Gauge(string, int64, ...chunking.SpanAttr) {}

func (m *mockMeter) count(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *mockMeter) observed(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.obs[name])
}

func testDoc(id, content string) chunking.Document {
	return chunking.Document{ID: id, Title: id, Source: "test", Content: content}
}

// smallChunker keeps test fixtures short: chunks close at 10 words, no
// overlap, so each paragraph below is its own chunk.
func smallChunker() *BaseChunker {
	return NewBaseChunker(WithTargetWords(10), WithMaxWords(20), WithOverlapWords(0))
}

const listParagraph = "- apples\n- oranges\n- pears"

// --- tests ---

func TestPipelineProcessBatchStoresChunks(t *testing.T) {
	sink := newMockSink()
	p := NewPipeline(sink, nil, WithChunker(NewBaseChunker(WithTargetWords(8), WithOverlapWords(0))))

	docs := []chunking.Document{
		testDoc("d1", "alpha beta gamma delta echo.\n\nfoxtrot golf hotel india juliet."),
		testDoc("d2", "Solo paragraph standing alone."),
	}
	m, err := p.ProcessBatch(context.Background(), docs, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if m.DocumentsProcessed != 2 || m.ChunksCreated != 3 {
		t.Errorf("metrics = %+v", m)
	}
	if m.RefinementCalls != 0 {
		t.Errorf("refinement calls = %d without a refiner", m.RefinementCalls)
	}
	if m.Duration <= 0 {
		t.Error("duration not recorded")
	}
	if sink.commits != 1 || sink.rollbacks != 0 {
		t.Errorf("commits=%d rollbacks=%d", sink.commits, sink.rollbacks)
	}
	if got := sink.stored["d1"]; len(got) != 2 || got[0].Index != 0 || got[1].Index != 1 {
		t.Errorf("d1 chunks = %+v", got)
	}
	if got := sink.stored["d2"]; len(got) != 1 {
		t.Errorf("d2 chunks = %+v", got)
	}
}

func TestPipelineRefinerFailureKeepsChunks(t *testing.T) {
	sink := newMockSink()
	refiner := &mockRefiner{err: errors.New("llm down")}
	p := NewPipeline(sink, refiner, WithChunker(smallChunker()))

	m, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("d1", listParagraph)}, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if m.DocumentsProcessed != 1 || m.DocumentsFailed != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.RefinementCalls != 1 || m.RefinementSuccesses != 0 {
		t.Errorf("calls=%d successes=%d", m.RefinementCalls, m.RefinementSuccesses)
	}
	got := sink.stored["d1"]
	if len(got) != 1 {
		t.Fatalf("stored %d chunks, want 1", len(got))
	}
	if got[0].Refined {
		t.Error("failed refinement left the chunk marked refined")
	}
	if got[0].Text != listParagraph {
		t.Errorf("chunk text changed: %q", got[0].Text)
	}
}

func TestPipelineAppliesVerdictsWithNeighborContext(t *testing.T) {
	sink := newMockSink()
	refiner := &mockRefiner{verdicts: map[int]*chunking.RefinementResult{
		1: {Action: chunking.ActionKeep, SemanticType: chunking.SemanticList, Confidence: 0.95},
	}}
	p := NewPipeline(sink, refiner, WithChunker(smallChunker()))

	prose1 := "Plain prose paragraph sits here first, reading fine."
	prose2 := "Another prose paragraph closes the document out cleanly."
	content := prose1 + "\n\n" + listParagraph + "\n\n" + prose2

	m, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("d1", content)}, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if m.RefinementCalls != 1 || m.RefinementSuccesses != 1 {
		t.Fatalf("calls=%d successes=%d", m.RefinementCalls, m.RefinementSuccesses)
	}
	got := sink.stored["d1"]
	if len(got) != 3 {
		t.Fatalf("stored %d chunks, want 3", len(got))
	}
	if !got[1].Refined || got[1].SemanticType != chunking.SemanticList {
		t.Errorf("flagged chunk = %+v", got[1])
	}
	if got[0].Refined || got[2].Refined {
		t.Error("unflagged chunks marked refined")
	}

	// The refiner saw the neighboring text on both sides.
	reqs := refiner.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	if reqs[0].PrevTail != prose1 {
		t.Errorf("prev tail = %q", reqs[0].PrevTail)
	}
	if reqs[0].NextHead != prose2 {
		t.Errorf("next head = %q", reqs[0].NextHead)
	}
}

func TestPipelineBudgetSharedAcrossDocuments(t *testing.T) {
	sink := newMockSink()
	refiner := &mockRefiner{}
	p := NewPipeline(sink, refiner,
		WithChunker(smallChunker()),
		WithRouter(NewQualityRouter(WithMaxLLMCalls(1))),
	)

	docs := []chunking.Document{
		testDoc("d1", listParagraph),
		testDoc("d2", listParagraph),
	}
	m, err := p.ProcessBatch(context.Background(), docs, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	// One call allowed for the whole batch; the first document consumed it.
	if refiner.calls() != 1 || m.RefinementCalls != 1 {
		t.Errorf("refiner calls = %d, metrics = %d", refiner.calls(), m.RefinementCalls)
	}
	if !sink.stored["d1"][0].Refined {
		t.Error("first document's chunk should be refined")
	}
	if sink.stored["d2"][0].Refined {
		t.Error("second document's chunk exceeded the batch budget")
	}
}

func TestPipelineSinkErrorAbortsBatch(t *testing.T) {
	sink := newMockSink()
	sinkErr := errors.New("disk full")
	sink.upsertErrDoc, sink.upsertErr = "d2", sinkErr
	p := NewPipeline(sink, nil, WithChunker(smallChunker()))

	docs := []chunking.Document{
		testDoc("d1", "First document stands alone fine."),
		testDoc("d2", "Second document triggers the sink failure."),
	}
	m, err := p.ProcessBatch(context.Background(), docs, chunking.BatchContext{})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("err = %v, want wrapped sink error", err)
	}
	if sink.commits != 0 || sink.rollbacks != 1 {
		t.Errorf("commits=%d rollbacks=%d", sink.commits, sink.rollbacks)
	}
	if len(sink.stored) != 0 {
		t.Error("aborted batch left persisted chunks")
	}
	if m.Duration <= 0 {
		t.Error("metrics on the error path carry no duration")
	}
}

func TestPipelineCommitErrorRollsBack(t *testing.T) {
	sink := newMockSink()
	sink.commitErr = errors.New("tx broken")
	p := NewPipeline(sink, nil, WithChunker(smallChunker()))

	m, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("d1", "Some content here.")}, chunking.BatchContext{})
	if !errors.Is(err, sink.commitErr) {
		t.Fatalf("err = %v", err)
	}
	if sink.rollbacks != 1 || len(sink.stored) != 0 {
		t.Errorf("rollbacks=%d stored=%d", sink.rollbacks, len(sink.stored))
	}
	if m.Duration <= 0 {
		t.Error("metrics on the error path carry no duration")
	}
}

func TestPipelineBeginBatchError(t *testing.T) {
	sink := newMockSink()
	sink.beginErr = errors.New("pool exhausted")
	p := NewPipeline(sink, nil)

	_, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("d1", "content")}, chunking.BatchContext{})
	if !errors.Is(err, sink.beginErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestPipelineEmptyDocumentClearsChunks(t *testing.T) {
	sink := newMockSink()
	p := NewPipeline(sink, nil)

	m, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("empty", "   \n\n \t ")}, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if m.DocumentsProcessed != 1 || m.ChunksCreated != 0 {
		t.Errorf("metrics = %+v", m)
	}
	got, ok := sink.stored["empty"]
	if !ok {
		t.Fatal("empty document was not upserted")
	}
	if len(got) != 0 {
		t.Errorf("stored %d chunks for empty document", len(got))
	}
}

func TestPipelineEmptyBatch(t *testing.T) {
	sink := newMockSink()
	p := NewPipeline(sink, nil)
	m, err := p.ProcessBatch(context.Background(), nil, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if m.DocumentsProcessed != 0 || sink.commits != 0 {
		t.Errorf("empty batch did work: %+v, commits=%d", m, sink.commits)
	}
}

func TestPipelineReprocessingIsIdempotent(t *testing.T) {
	sink := newMockSink()
	refiner := &mockRefiner{}
	p := NewPipeline(sink, refiner, WithChunker(smallChunker()))

	docs := []chunking.Document{
		testDoc("d1", "Prose paragraph number one sits here.\n\n"+listParagraph),
	}
	if _, err := p.ProcessBatch(context.Background(), docs, chunking.BatchContext{}); err != nil {
		t.Fatal(err)
	}
	first := sink.stored["d1"]

	if _, err := p.ProcessBatch(context.Background(), docs, chunking.BatchContext{}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, sink.stored["d1"]) {
		t.Error("reprocessing produced different chunks")
	}
	if sink.commits != 2 {
		t.Errorf("commits = %d, want 2", sink.commits)
	}
}

func TestPipelineCancelledContextSkipsRefinement(t *testing.T) {
	sink := newMockSink()
	refiner := &mockRefiner{}
	p := NewPipeline(sink, refiner, WithChunker(smallChunker()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := p.ProcessBatch(ctx,
		[]chunking.Document{testDoc("d1", listParagraph)}, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if refiner.calls() != 0 || m.RefinementCalls != 0 {
		t.Errorf("refinement ran under a cancelled context: %d calls", refiner.calls())
	}
	if got := sink.stored["d1"]; len(got) != 1 || got[0].Refined {
		t.Errorf("stored chunks = %+v", got)
	}
}

func TestPipelinePanickingRefinerIsContained(t *testing.T) {
	sink := newMockSink()
	p := NewPipeline(sink, panicRefiner{}, WithChunker(smallChunker()))

	m, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("d1", listParagraph)}, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if m.DocumentsProcessed != 1 || m.RefinementCalls != 1 || m.RefinementSuccesses != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if got := sink.stored["d1"]; len(got) != 1 || got[0].Refined {
		t.Errorf("stored chunks = %+v", got)
	}
}

func TestPipelineEmitsMetrics(t *testing.T) {
	sink := newMockSink()
	meter := &mockMeter{}
	p := NewPipeline(sink, nil, WithPipelineMeter(meter))

	_, err := p.ProcessBatch(context.Background(),
		[]chunking.Document{testDoc("d1", "A short document, one chunk only.")}, chunking.BatchContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got := meter.count(chunking.MetricDocumentsProcessed); got != 1 {
		t.Errorf("documents counter = %d", got)
	}
	if got := meter.count(chunking.MetricChunksCreated); got != 1 {
		t.Errorf("chunks counter = %d", got)
	}
	if meter.observed(chunking.MetricBatchDuration) != 1 {
		t.Error("batch duration not observed")
	}
	if meter.observed(chunking.MetricChunkSizeWords) != 1 {
		t.Error("chunk size not observed")
	}
}
