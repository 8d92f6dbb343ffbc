package ingest

import (
	"maps"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// --- ChunkerOption for configuring the chunker ---

// ChunkerOption configures a BaseChunker.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	targetWords  int
	minWords     int
	maxWords     int
	overlapWords int
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{targetWords: 400, minWords: 100, maxWords: 800, overlapWords: 40}
}

// WithTargetWords sets the word count at which a chunk closes. Default: 400.
func WithTargetWords(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.targetWords = n }
}

// WithMinWords sets the lower word bound used by routing heuristics to spot
// suspiciously small chunks. Default: 100.
func WithMinWords(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.minWords = n }
}

// WithMaxWords sets the hard upper word bound per chunk. Paragraphs beyond it
// are split at sentence boundaries. Default: 800.
func WithMaxWords(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxWords = n }
}

// WithOverlapWords sets how many trailing words of a closed chunk the next
// chunk re-reads. Default: 40.
func WithOverlapWords(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlapWords = n }
}

// --- BaseChunker ---

// BaseChunker deterministically splits document text into bounded,
// overlapping chunks. Paragraphs accumulate until targetWords is reached,
// then the chunk closes and the next chunk's start rewinds overlapWords into
// the previous tail, so boundary context is shared rather than lost. A
// paragraph longer than maxWords falls back to sentence-aware splitting
// (abbreviation, decimal, and CJK punctuation aware); only a single sentence
// longer than maxWords is hard-split mid-sentence by a sliding word window.
//
// Offsets index the NFC-normalized form of the input, which is the text the
// rest of the pipeline sees. Structural markers (bullets, fences, table
// pipes) pass through verbatim.
type BaseChunker struct {
	cfg chunkerConfig
}

// NewBaseChunker creates a BaseChunker with the given options. Degenerate
// settings are clamped: maxWords is raised to targetWords, overlap shrinks
// below targetWords.
func NewBaseChunker(opts ...ChunkerOption) *BaseChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.targetWords < 1 {
		cfg.targetWords = 1
	}
	if cfg.maxWords < cfg.targetWords {
		cfg.maxWords = cfg.targetWords
	}
	if cfg.minWords > cfg.targetWords {
		cfg.minWords = cfg.targetWords
	}
	if cfg.overlapWords < 0 {
		cfg.overlapWords = 0
	}
	if cfg.overlapWords >= cfg.targetWords {
		cfg.overlapWords = cfg.targetWords / 2
	}
	return &BaseChunker{cfg: cfg}
}

// Chunk splits text into ordered chunks. Deterministic and side-effect-free;
// empty or whitespace-only input yields nil.
func (bc *BaseChunker) Chunk(text string, meta map[string]string) []chunking.RawChunk {
	text = norm.NFC.String(text)
	paras := paragraphSpans(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []chunking.RawChunk
	accStart, accEnd, accWords := -1, 0, 0

	flush := func() {
		if accStart < 0 {
			return
		}
		chunks = append(chunks, bc.newChunk(text, accStart, accEnd, chunking.StrategyParagraph, meta))
		accStart, accWords = -1, 0
	}

	for _, p := range paras {
		pWords := countWords(text[p.start:p.end])
		if pWords > bc.cfg.maxWords {
			flush()
			bc.splitOversized(text, p, meta, &chunks)
			continue
		}
		if accStart >= 0 && accWords+pWords > bc.cfg.targetWords {
			flush()
		}
		if accStart < 0 {
			if s, w := bc.carryStart(text, chunks, pWords); s >= 0 {
				accStart, accWords = s, w
			} else {
				accStart = p.start
			}
		}
		accEnd = p.end
		accWords += pWords
	}
	flush()

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

func (bc *BaseChunker) newChunk(text string, start, end int, strategy chunking.ChunkStrategy, meta map[string]string) chunking.RawChunk {
	seg := text[start:end]
	return chunking.RawChunk{
		Text:      seg,
		CharStart: start,
		CharEnd:   end,
		WordCount: countWords(seg),
		Strategy:  strategy,
		Metadata:  maps.Clone(meta),
	}
}

// carryStart returns the start offset and word count of the overlap carried
// from the last emitted chunk. The carry shrinks when the incoming content
// would otherwise push the new chunk past maxWords; the hard cap always wins
// over overlap. Returns -1 when there is nothing to carry.
func (bc *BaseChunker) carryStart(text string, chunks []chunking.RawChunk, incomingWords int) (int, int) {
	if len(chunks) == 0 || bc.cfg.overlapWords <= 0 {
		return -1, 0
	}
	carry := bc.cfg.overlapWords
	if room := bc.cfg.maxWords - incomingWords; carry > room {
		carry = room
	}
	if carry <= 0 {
		return -1, 0
	}
	prev := chunks[len(chunks)-1]
	start := rewindWords(text, prev.CharStart, prev.CharEnd, carry)
	if start >= prev.CharEnd {
		return -1, 0
	}
	return start, countWords(text[start:prev.CharEnd])
}

// splitOversized cuts a paragraph that exceeds maxWords at sentence
// boundaries, closing a chunk once it reaches targetWords. Only a single
// sentence longer than maxWords ends up cut mid-sentence.
func (bc *BaseChunker) splitOversized(text string, p span, meta map[string]string, chunks *[]chunking.RawChunk) {
	accStart, accEnd, accWords := -1, 0, 0

	flush := func() {
		if accStart < 0 {
			return
		}
		*chunks = append(*chunks, bc.newChunk(text, accStart, accEnd, chunking.StrategySentenceAware, meta))
		accStart, accWords = -1, 0
	}

	for _, s := range sentenceSpans(text, p.start, p.end) {
		sWords := countWords(text[s.start:s.end])
		if sWords > bc.cfg.maxWords {
			flush()
			bc.slideWindow(text, s, meta, chunks)
			continue
		}
		if accStart >= 0 && accWords+sWords > bc.cfg.maxWords {
			flush()
		}
		if accStart < 0 {
			if cs, cw := bc.carryStart(text, *chunks, sWords); cs >= 0 {
				accStart, accWords = cs, cw
			} else {
				accStart = s.start
			}
		}
		accEnd = s.end
		accWords += sWords
		if accWords >= bc.cfg.targetWords {
			flush()
		}
	}
	flush()
}

// slideWindow hard-splits one overlong sentence into word windows of
// targetWords, stepping by targetWords-overlapWords so consecutive windows
// share their tail.
func (bc *BaseChunker) slideWindow(text string, s span, meta map[string]string, chunks *[]chunking.RawChunk) {
	words := wordSpans(text, s.start, s.end)
	if len(words) == 0 {
		return
	}
	window := bc.cfg.targetWords
	step := window - bc.cfg.overlapWords
	if step < 1 {
		step = window
	}
	for i := 0; i < len(words); i += step {
		end := min(i+window, len(words))
		*chunks = append(*chunks, bc.newChunk(text, words[i].start, words[end-1].end, chunking.StrategySlidingWindow, meta))
		if end == len(words) {
			break
		}
	}
}

// --- text scanning helpers ---

// span is a half-open byte range [start, end) into the normalized text.
type span struct {
	start, end int
}

func countWords(s string) int { return len(strings.Fields(s)) }

// paragraphSpans returns the trimmed spans of blank-line-separated
// paragraphs, in order. Empty regions are skipped.
func paragraphSpans(text string) []span {
	var spans []span
	pos := 0
	for pos < len(text) {
		end, next := len(text), len(text)
		if idx := strings.Index(text[pos:], "\n\n"); idx >= 0 {
			end = pos + idx
			next = pos + idx + 2
		}
		if s, e := trimSpan(text, pos, end); s < e {
			spans = append(spans, span{s, e})
		}
		pos = next
	}
	return spans
}

// trimSpan shrinks [start, end) past leading and trailing whitespace.
func trimSpan(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}

// rewindWords walks backward from end until n word starts have passed,
// never crossing start. Returns the offset of the n-th word from the end.
func rewindWords(text string, start, end, n int) int {
	pos := end
	for words := 0; pos > start; {
		for pos > start {
			r, size := utf8.DecodeLastRuneInString(text[:pos])
			if !unicode.IsSpace(r) {
				break
			}
			pos -= size
		}
		if pos == start {
			return start
		}
		for pos > start {
			r, size := utf8.DecodeLastRuneInString(text[:pos])
			if unicode.IsSpace(r) {
				break
			}
			pos -= size
		}
		words++
		if words >= n {
			return pos
		}
	}
	return start
}

// wordSpans returns the span of every whitespace-delimited word in
// [start, end), in order.
func wordSpans(text string, start, end int) []span {
	var words []span
	i := start
	for i < end {
		r, size := utf8.DecodeRuneInString(text[i:end])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		j := i
		for j < end {
			r, size := utf8.DecodeRuneInString(text[j:end])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		words = append(words, span{i, j})
		i = j
	}
	return words
}

// --- sentence boundary detection ---

// sentenceSpans splits [start, end) into trimmed sentence spans. Boundaries
// come from sentenceBoundaries; the region's tail past the last boundary is
// the final sentence.
func sentenceSpans(text string, start, end int) []span {
	region := text[start:end]
	cuts := append(sentenceBoundaries(region), len(region))
	var spans []span
	prev := 0
	for _, cut := range cuts {
		if s, e := trimSpan(region, prev, cut); s < e {
			spans = append(spans, span{start + s, start + e})
		}
		prev = cut
	}
	return spans
}

// abbreviations whose trailing dot never ends a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// isAbbreviation reports whether the word ending at the '.' at dotPos is a
// common abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

// isDecimalDot reports whether the dot at dotPos sits inside a number
// (3.14, $1.50).
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prev, next := text[dotPos-1], text[dotPos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// sentenceBoundaries returns ascending byte positions where one sentence ends
// and the next may begin. ASCII terminators (.!?) require trailing whitespace
// and skip abbreviations and decimal numbers; CJK terminators (。！？) are
// always boundaries.
func sentenceBoundaries(text string) []int {
	var boundaries []int
	runes := []rune(text)
	n := len(runes)

	byteOff := make([]int, n+1)
	off := 0
	for i, r := range runes {
		byteOff[i] = off
		off += utf8.RuneLen(r)
	}
	byteOff[n] = off

	for i := 0; i < n; i++ {
		r := runes[i]
		if r == '。' || r == '！' || r == '？' {
			boundaries = append(boundaries, byteOff[i+1])
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		pos := byteOff[i]
		if r == '.' && (isDecimalDot(text, pos) || isAbbreviation(text, pos)) {
			continue
		}
		// Terminator must be followed by whitespace; a capitalized next word
		// marks the start of the following sentence.
		if i+1 < n && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			switch {
			case runes[i+1] == '\n':
				boundaries = append(boundaries, byteOff[i+1])
			case i+2 < n && unicode.IsUpper(runes[i+2]):
				boundaries = append(boundaries, byteOff[i+2])
			case i+2 >= n:
				boundaries = append(boundaries, byteOff[n])
			}
		}
	}
	return boundaries
}
