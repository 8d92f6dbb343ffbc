package ingest

import (
	"unicode/utf8"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// applyRefinements folds refiner verdicts into the final chunk sequence, in
// chunk-index order, so the result is deterministic no matter how the
// concurrent refinement calls completed. Rules per verdict:
//
//   - nil or keep: the chunk passes through (keep records semantic type).
//   - drop: the chunk is removed.
//   - merge_prev: the chunk's span is absorbed into the previous surviving
//     chunk, extending its end; with no previous survivor the chunk stays.
//   - merge_next: the chunk is held and its span prepended to the next
//     survivor; held chunks at the tail stay as they are. A held chunk
//     whose successor says merge_prev dissolves into the same previous
//     survivor as that successor.
//
// An offset_adjust moves the chunk's own end before any merging, clamped to
// the adjust bound and to the text. Survivors are re-indexed 0..n-1; every
// chunk's text is re-sliced from the document so spans and text never
// disagree.
func applyRefinements(text string, chunks []chunking.RawChunk, verdicts map[int]*chunking.RefinementResult) []chunking.FinalChunk {
	out := make([]chunking.FinalChunk, 0, len(chunks))
	var held []chunking.FinalChunk

	emit := func(fc chunking.FinalChunk) {
		if len(held) > 0 {
			if first := held[0]; first.CharStart < fc.CharStart {
				fc.CharStart = first.CharStart
				fc.Text = text[fc.CharStart:fc.CharEnd]
				fc.WordCount = countWords(fc.Text)
				fc.Refined = true
			}
			held = held[:0]
		}
		out = append(out, fc)
	}

	for _, c := range chunks {
		v := verdicts[c.Index]
		fc := finalFrom(text, c, v)
		action := chunking.ActionKeep
		if v != nil {
			action = v.Action
		}
		switch action {
		case chunking.ActionDrop:
			continue
		case chunking.ActionMergeNext:
			held = append(held, fc)
			continue
		case chunking.ActionMergePrev:
			if len(out) > 0 {
				prev := &out[len(out)-1]
				// Pending merge_next spans sit between prev and this chunk;
				// covering them here keeps them off the next survivor, whose
				// start would lie past text prev already absorbed.
				for _, h := range held {
					if h.CharEnd > prev.CharEnd {
						prev.CharEnd = h.CharEnd
					}
				}
				held = held[:0]
				if fc.CharEnd > prev.CharEnd {
					prev.CharEnd = fc.CharEnd
				}
				prev.Text = text[prev.CharStart:prev.CharEnd]
				prev.WordCount = countWords(prev.Text)
				prev.Refined = true
				continue
			}
			emit(fc)
		default:
			emit(fc)
		}
	}
	out = append(out, held...)

	for i := range out {
		out[i].Index = i
	}
	return out
}

// finalFrom builds the final form of one chunk, applying its verdict's
// boundary adjustment and semantic label. A nil verdict passes the chunk
// through unrefined.
func finalFrom(text string, c chunking.RawChunk, v *chunking.RefinementResult) chunking.FinalChunk {
	fc := chunking.FinalChunk{
		CharStart: c.CharStart,
		CharEnd:   c.CharEnd,
		Strategy:  c.Strategy,
		Metadata:  c.Metadata,
	}
	if v != nil {
		fc.Refined = true
		fc.SemanticType = v.SemanticType
		fc.CharEnd = adjustEnd(text, c.CharStart, c.CharEnd, v.OffsetAdjust)
	}
	fc.Text = text[fc.CharStart:fc.CharEnd]
	fc.WordCount = countWords(fc.Text)
	return fc
}

// adjustEnd moves end by adjust characters, clamped to the adjust bound, the
// text length, and the chunk start. The result snaps back to a rune boundary;
// an adjustment that would empty the chunk is ignored.
func adjustEnd(text string, start, end, adjust int) int {
	if adjust == 0 {
		return end
	}
	if adjust > chunking.MaxOffsetAdjust {
		adjust = chunking.MaxOffsetAdjust
	}
	if adjust < -chunking.MaxOffsetAdjust {
		adjust = -chunking.MaxOffsetAdjust
	}
	e := end + adjust
	if e >= len(text) {
		return len(text)
	}
	if e <= start {
		return end
	}
	for e > start && !utf8.RuneStart(text[e]) {
		e--
	}
	if e <= start {
		return end
	}
	return e
}

// tailChars returns up to n trailing bytes of s cut at a rune boundary.
func tailChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// headChars returns up to n leading bytes of s cut at a rune boundary.
func headChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
