package ingest

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// --- RouterOption for configuring the router ---

// RouterOption configures a QualityRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	confidenceMin float64
	maxLLMCalls   int
	maxLLMPercent float64
	minWords      int
	maxWords      int
}

func defaultRouterConfig() routerConfig {
	return routerConfig{
		confidenceMin: 0.6,
		maxLLMCalls:   10,
		maxLLMPercent: 0.3,
		minWords:      100,
		maxWords:      800,
	}
}

// WithConfidenceMin sets the accumulated-confidence threshold at which a
// chunk is flagged for refinement. Default: 0.6.
func WithConfidenceMin(v float64) RouterOption {
	return func(c *routerConfig) { c.confidenceMin = v }
}

// WithMaxLLMCalls caps the number of chunks flagged per batch. Default: 10.
func WithMaxLLMCalls(n int) RouterOption {
	return func(c *routerConfig) { c.maxLLMCalls = n }
}

// WithMaxLLMPercent caps flagged chunks as a fraction of the batch's total
// chunk count. Default: 0.3.
func WithMaxLLMPercent(v float64) RouterOption {
	return func(c *routerConfig) { c.maxLLMPercent = v }
}

// WithWordBounds sets the word-count range outside which chunks look
// suspicious to the size heuristics. Defaults: 100, 800. Normally mirrors
// the chunker's WithMinWords/WithMaxWords settings.
func WithWordBounds(minWords, maxWords int) RouterOption {
	return func(c *routerConfig) {
		c.minWords = minWords
		c.maxWords = maxWords
	}
}

// --- QualityRouter ---

// Routed pairs a chunk with its routing decision.
type Routed struct {
	Chunk    chunking.RawChunk
	Decision chunking.RoutingDecision
}

// QualityRouter decides which chunks are worth a refinement call. Structural
// markers (lists, code, tables) are strong signals that flag a chunk on
// their own; truncation, continuation, and size oddities are weak signals
// that only flag in combination. A batch-level budget then caps the flagged
// count, demoting the lowest-priority excess, and ambient load shrinks the
// budget further — more load always means the same or fewer flags.
type QualityRouter struct {
	cfg routerConfig
}

// NewQualityRouter creates a QualityRouter with the given options.
func NewQualityRouter(opts ...RouterOption) *QualityRouter {
	cfg := defaultRouterConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.confidenceMin <= 0 {
		cfg.confidenceMin = 0.6
	}
	if cfg.maxLLMCalls < 0 {
		cfg.maxLLMCalls = 0
	}
	if cfg.maxLLMPercent < 0 {
		cfg.maxLLMPercent = 0
	}
	if cfg.maxLLMPercent > 1 {
		cfg.maxLLMPercent = 1
	}
	return &QualityRouter{cfg: cfg}
}

// Route produces one decision per chunk, in input order, without mutating
// the chunks. docMeta travels with the contract for future heuristics but is
// not consulted today.
func (qr *QualityRouter) Route(chunks []chunking.RawChunk, docMeta map[string]string, batchCtx chunking.BatchContext) []Routed {
	routed := make([]Routed, len(chunks))
	var flagged []int
	for i, c := range chunks {
		d := qr.examine(c)
		routed[i] = Routed{Chunk: c, Decision: d}
		if d.NeedsRefinement {
			flagged = append(flagged, i)
		}
	}

	total := batchCtx.TotalChunks
	if total < len(chunks) {
		total = len(chunks)
	}
	allowed := qr.budget(total, batchCtx.SystemLoad)
	if len(flagged) > allowed {
		// Excess demoted lowest priority first; reasons and confidence stay
		// recorded. Ties resolve toward keeping earlier chunks.
		sort.SliceStable(flagged, func(a, b int) bool {
			pa, pb := routed[flagged[a]].Decision.Priority, routed[flagged[b]].Decision.Priority
			if pa != pb {
				return pa < pb
			}
			return flagged[a] > flagged[b]
		})
		for _, idx := range flagged[:len(flagged)-allowed] {
			routed[idx].Decision.NeedsRefinement = false
		}
	}
	return routed
}

// budget returns how many refinement calls a batch of total chunks may spend
// under the given load. Monotonic in load: 0 leaves the full budget, 1 shuts
// refinement off.
func (qr *QualityRouter) budget(total int, load float64) int {
	if total <= 0 {
		return 0
	}
	b := qr.cfg.maxLLMCalls
	if byPercent := int(math.Ceil(qr.cfg.maxLLMPercent * float64(total))); byPercent < b {
		b = byPercent
	}
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	return int(float64(b) * (1 - load))
}

func (qr *QualityRouter) examine(c chunking.RawChunk) chunking.RoutingDecision {
	d := chunking.RoutingDecision{EstimatedTokens: chunking.EstimateTokens(c.Text)}
	hit := func(reason string, confidence float64, priority int) {
		d.Reasons = append(d.Reasons, reason)
		d.Confidence += confidence
		d.Priority += priority
	}

	profile := scanStructure(c.Text)
	if profile.listItems > 0 {
		hit(chunking.ReasonListStructure, 0.65, 3)
	}
	if profile.codeBlocks > 0 {
		hit(chunking.ReasonCodeFence, 0.7, 4)
	}
	if profile.tableRows >= 2 {
		hit(chunking.ReasonTableStructure, 0.65, 3)
	}
	if !endsComplete(c.Text) {
		hit(chunking.ReasonBoundaryCut, 0.3, 2)
	}
	if startsMidWord(c.Text) {
		hit(chunking.ReasonMidWordStart, 0.2, 1)
	}
	if c.WordCount*2 < qr.cfg.minWords {
		hit(chunking.ReasonUndersized, 0.35, 2)
	}
	if c.WordCount > qr.cfg.maxWords {
		hit(chunking.ReasonOversized, 0.4, 2)
	}

	if d.Confidence > 1 {
		d.Confidence = 1
	}
	d.NeedsRefinement = d.Confidence >= qr.cfg.confidenceMin
	return d
}

// endsComplete reports whether the text ends with sentence-terminal
// punctuation, allowing closing quotes or brackets after it. Text that does
// not looks truncated.
func endsComplete(s string) bool {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if strings.ContainsRune(`"')]”’»`, r) {
			s = s[:len(s)-size]
			continue
		}
		return strings.ContainsRune(".!?。！？…", r)
	}
	return false
}

// startsMidWord reports whether the text opens in lowercase, which suggests
// it continues a sentence started elsewhere.
func startsMidWord(s string) bool {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLower(r)
}
