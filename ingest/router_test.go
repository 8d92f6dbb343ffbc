package ingest

import (
	"slices"
	"testing"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// routeChunk builds a chunk for routing tests; word counts are taken on
// trust by the router, so they are set directly.
func routeChunk(idx int, text string, words int) chunking.RawChunk {
	return chunking.RawChunk{
		Index:     idx,
		Text:      text,
		CharEnd:   len(text),
		WordCount: words,
		Strategy:  chunking.StrategyParagraph,
	}
}

func TestRouterFlagsListChunk(t *testing.T) {
	qr := NewQualityRouter()
	chunks := []chunking.RawChunk{routeChunk(0, "- apples\n- oranges\n- pears", 200)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})

	d := routed[0].Decision
	if !d.NeedsRefinement {
		t.Fatal("list chunk not flagged")
	}
	if !slices.Contains(d.Reasons, chunking.ReasonListStructure) {
		t.Errorf("reasons = %v, want list-structure", d.Reasons)
	}
	if d.Confidence < 0.6 {
		t.Errorf("confidence = %.2f, want >= 0.6", d.Confidence)
	}
}

func TestRouterFlagsCodeFence(t *testing.T) {
	qr := NewQualityRouter()
	chunks := []chunking.RawChunk{routeChunk(0, "```go\nfunc main() {}\n```", 200)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})

	d := routed[0].Decision
	if !d.NeedsRefinement || !slices.Contains(d.Reasons, chunking.ReasonCodeFence) {
		t.Errorf("code chunk decision = %+v", d)
	}
}

func TestRouterFlagsTable(t *testing.T) {
	qr := NewQualityRouter()
	text := "| name | count |\n|------|-------|\n| a | 1 |\n\nThe table above lists totals."
	chunks := []chunking.RawChunk{routeChunk(0, text, 200)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})

	if d := routed[0].Decision; !d.NeedsRefinement || !slices.Contains(d.Reasons, chunking.ReasonTableStructure) {
		t.Errorf("table chunk decision = %+v", d)
	}
}

func TestRouterPassesPlainProse(t *testing.T) {
	qr := NewQualityRouter()
	text := "This chunk reads like ordinary prose. It ends with a complete sentence."
	chunks := []chunking.RawChunk{routeChunk(0, text, 200)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})

	if d := routed[0].Decision; d.NeedsRefinement {
		t.Errorf("plain prose flagged: %+v", d)
	}
}

func TestRouterWeakSignalsAloneDoNotFlag(t *testing.T) {
	// A lowercase start plus a small word count is the normal shape of an
	// overlap tail; together they stay under the threshold.
	qr := NewQualityRouter()
	text := "continues the thought from the previous chunk and ends cleanly."
	chunks := []chunking.RawChunk{routeChunk(0, text, 30)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})

	d := routed[0].Decision
	if d.NeedsRefinement {
		t.Errorf("weak signals flagged a chunk: %+v", d)
	}
	if !slices.Contains(d.Reasons, chunking.ReasonMidWordStart) || !slices.Contains(d.Reasons, chunking.ReasonUndersized) {
		t.Errorf("reasons not recorded: %v", d.Reasons)
	}
}

func TestRouterFlagsTruncatedOversizedChunk(t *testing.T) {
	// boundary-cut + oversized accumulate past the threshold.
	qr := NewQualityRouter()
	text := "An enormous run of text that was cut off mid thought and never quite"
	chunks := []chunking.RawChunk{routeChunk(0, text, 900)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})

	d := routed[0].Decision
	if !d.NeedsRefinement {
		t.Errorf("truncated oversized chunk not flagged: %+v", d)
	}
	if !slices.Contains(d.Reasons, chunking.ReasonBoundaryCut) || !slices.Contains(d.Reasons, chunking.ReasonOversized) {
		t.Errorf("reasons = %v", d.Reasons)
	}
}

func TestRouterEstimatesTokens(t *testing.T) {
	qr := NewQualityRouter()
	text := "Twelve bytes per token estimate check, roughly four chars each."
	routed := qr.Route([]chunking.RawChunk{routeChunk(0, text, 200)}, nil, chunking.BatchContext{})
	if got := routed[0].Decision.EstimatedTokens; got != len(text)/4 {
		t.Errorf("estimated tokens = %d, want %d", got, len(text)/4)
	}
}

func TestRouterBudget(t *testing.T) {
	qr := NewQualityRouter() // maxLLMCalls 10, maxLLMPercent 0.3
	cases := []struct {
		total int
		load  float64
		want  int
	}{
		{100, 0, 10},  // absolute cap wins
		{10, 0, 3},    // percentage cap wins: ceil(3.0)
		{100, 0.5, 5}, // load halves the budget
		{100, 1, 0},   // full load shuts refinement off
		{100, -1, 10}, // load clamped at 0
		{100, 2, 0},   // load clamped at 1
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := qr.budget(c.total, c.load); got != c.want {
			t.Errorf("budget(%d, %.1f) = %d, want %d", c.total, c.load, got, c.want)
		}
	}
}

func TestRouterBudgetMonotonicInLoad(t *testing.T) {
	qr := NewQualityRouter()
	prev := qr.budget(100, 0)
	for load := 0.1; load <= 1.0; load += 0.1 {
		got := qr.budget(100, load)
		if got > prev {
			t.Fatalf("budget grew from %d to %d as load rose to %.1f", prev, got, load)
		}
		prev = got
	}
}

func TestRouterDemotesLowestPriorityFirst(t *testing.T) {
	qr := NewQualityRouter(WithMaxLLMCalls(2))
	list := "- one\n- two\n- three"
	code := "```sh\nmake test\n```"
	chunks := []chunking.RawChunk{
		routeChunk(0, list, 200),
		routeChunk(1, list, 200),
		routeChunk(2, code, 200),
	}
	routed := qr.Route(chunks, nil, chunking.BatchContext{TotalChunks: 10})

	// Budget of 2 keeps the code chunk (highest priority) and the earlier
	// of the two equal-priority list chunks.
	if !routed[0].Decision.NeedsRefinement {
		t.Error("chunk 0 should stay flagged")
	}
	if routed[1].Decision.NeedsRefinement {
		t.Error("chunk 1 should be demoted")
	}
	if !routed[2].Decision.NeedsRefinement {
		t.Error("chunk 2 should stay flagged")
	}
	// Demotion keeps the recorded reasons and confidence.
	if d := routed[1].Decision; len(d.Reasons) == 0 || d.Confidence == 0 {
		t.Errorf("demoted chunk lost its analysis: %+v", d)
	}
}

func TestRouterBudgetUsesBatchTotal(t *testing.T) {
	// Three local chunks, but the batch holds 100: the percentage cap is
	// computed from the larger figure.
	qr := NewQualityRouter(WithMaxLLMCalls(3))
	list := "- one\n- two"
	chunks := []chunking.RawChunk{
		routeChunk(0, list, 200),
		routeChunk(1, list, 200),
		routeChunk(2, list, 200),
	}
	routed := qr.Route(chunks, nil, chunking.BatchContext{TotalChunks: 100})
	for i, r := range routed {
		if !r.Decision.NeedsRefinement {
			t.Errorf("chunk %d demoted despite batch-level budget", i)
		}
	}
}

func TestRouterLoadSheddingDropsAllFlags(t *testing.T) {
	qr := NewQualityRouter()
	list := "- one\n- two"
	chunks := []chunking.RawChunk{routeChunk(0, list, 200)}
	routed := qr.Route(chunks, nil, chunking.BatchContext{SystemLoad: 1})
	if routed[0].Decision.NeedsRefinement {
		t.Error("flag survived full load")
	}
	if len(routed[0].Decision.Reasons) == 0 {
		t.Error("reasons should survive load shedding")
	}
}

func TestRouterPreservesOrderAndChunks(t *testing.T) {
	qr := NewQualityRouter()
	chunks := []chunking.RawChunk{
		routeChunk(0, "First chunk of prose, complete.", 200),
		routeChunk(1, "- a list\n- of items", 200),
	}
	routed := qr.Route(chunks, nil, chunking.BatchContext{})
	if len(routed) != 2 {
		t.Fatalf("got %d routed, want 2", len(routed))
	}
	for i := range routed {
		if routed[i].Chunk.Index != chunks[i].Index || routed[i].Chunk.Text != chunks[i].Text {
			t.Errorf("routed[%d] does not carry chunk %d", i, i)
		}
	}
}

func TestEndsComplete(t *testing.T) {
	complete := []string{
		"It ends with a period.",
		"Does it end with a question?",
		"It ends with a quote after the period.\"",
		"Bracketed ending works too.)",
		"中文句子也可以。",
		"Trailing spaces are fine.   ",
	}
	for _, s := range complete {
		if !endsComplete(s) {
			t.Errorf("endsComplete(%q) = false", s)
		}
	}
	incomplete := []string{
		"This one was cut off mid",
		"Ends with a comma,",
		"",
	}
	for _, s := range incomplete {
		if endsComplete(s) {
			t.Errorf("endsComplete(%q) = true", s)
		}
	}
}

func TestStartsMidWord(t *testing.T) {
	if !startsMidWord("continues a sentence") {
		t.Error("lowercase start not detected")
	}
	if startsMidWord("Fresh sentence") {
		t.Error("uppercase start misdetected")
	}
	if startsMidWord("- bullet") {
		t.Error("punctuation start misdetected")
	}
	if startsMidWord("") {
		t.Error("empty string misdetected")
	}
}
