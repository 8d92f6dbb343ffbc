package chunking

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

// stubRefiner returns scripted verdicts in order; when the script runs out it
// repeats the last entry. With no script it keeps everything. Safe for
// concurrent use.
type stubRefiner struct {
	mu      sync.Mutex
	results []stubVerdict
	calls   int
}

type stubVerdict struct {
	result *RefinementResult
	err    error
}

func (s *stubRefiner) Name() string { return "stub" }

func (s *stubRefiner) Refine(_ context.Context, _ RefineRequest) (*RefinementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if len(s.results) == 0 {
		return &RefinementResult{Action: ActionKeep, SemanticType: SemanticBody, Confidence: 0.9}, nil
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i].result, s.results[i].err
}

func (s *stubRefiner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubProcessor records document batches in execution order. When gate is
// set, each call blocks until the gate receives a signal, which lets tests
// pin a worker slot while queueing more jobs behind it.
type stubProcessor struct {
	mu      sync.Mutex
	batches [][]string
	gate    chan struct{}
	err     error
}

func (s *stubProcessor) ProcessDocuments(ctx context.Context, ids []string) (BatchResult, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return BatchResult{}, ctx.Err()
		}
	}
	s.mu.Lock()
	s.batches = append(s.batches, slices.Clone(ids))
	s.mu.Unlock()
	if s.err != nil {
		return BatchResult{}, s.err
	}
	return BatchResult{DocumentsProcessed: len(ids), ChunksCreated: len(ids) * 3}, nil
}

func (s *stubProcessor) seen() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

// stubSource serves canned documents and a one-shot unprocessed backlog.
type stubSource struct {
	mu          sync.Mutex
	docs        map[string]Document
	unprocessed []string
	findCalls   int
}

func (s *stubSource) LoadDocuments(_ context.Context, ids []string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *stubSource) FindUnprocessed(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	ids := s.unprocessed
	s.unprocessed = nil
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// stubMeter records every instrument write for assertion.
type stubMeter struct {
	mu      sync.Mutex
	counts  map[string]int64
	gauges  map[string]int64
	samples map[string][]float64
}

func newStubMeter() *stubMeter {
	return &stubMeter{
		counts:  make(map[string]int64),
		gauges:  make(map[string]int64),
		samples: make(map[string][]float64),
	}
}

func (m *stubMeter) Count(name string, delta int64, _ ...SpanAttr) {
	m.mu.Lock()
	m.counts[name] += delta
	m.mu.Unlock()
}

func (m *stubMeter) Observe(name string, value float64, _ ...SpanAttr) {
	m.mu.Lock()
	m.samples[name] = append(m.samples[name], value)
	m.mu.Unlock()
}

func (m *stubMeter) Gauge(name string, value int64, _ ...SpanAttr) {
	m.mu.Lock()
	m.gauges[name] = value
	m.mu.Unlock()
}

func (m *stubMeter) count(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *stubMeter) gauge(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// compile-time checks
var (
	_ Refiner        = (*stubRefiner)(nil)
	_ BatchProcessor = (*stubProcessor)(nil)
	_ DocumentSource = (*stubSource)(nil)
	_ Meter          = (*stubMeter)(nil)
)
