package rag

import (
	"fmt"
	"iter"
)

// Span is one chunk of a document before it is embedded: the text plus its
// half-open character range [Start, End) in the original document.
type Span struct {
	Text  string
	Start int
	End   int
}

// Chunker splits raw text into bounded, overlapping spans. Splits prefer
// sentence or paragraph boundaries near the size limit; if none is found
// within the lookback window it hard-splits at the limit.
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// maxLookback caps how far back from the size boundary we search for a
// sentence break before giving up and hard-splitting.
const maxLookback = 120

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap <= 0 {
		return nil, fmt.Errorf("%w: size=%d overlap=%d, both must be positive", ErrChunkConfig, size, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrChunkConfig, overlap, size)
	}
	lb := size / 4
	if lb > maxLookback {
		lb = maxLookback
	}
	return &Chunker{size: size, overlap: overlap, lookback: lb}, nil
}

// Spans returns a lazy, restartable sequence of chunks covering all of text.
// Adjacent spans overlap by at least the configured overlap, so content
// straddling a boundary appears whole in at least one span. Empty input
// yields nothing. Iteration has no side effects; callers may stop early.
func (c *Chunker) Spans(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		n := len(text)
		start := 0
		for start < n {
			end := start + c.size
			if end >= n {
				end = n
			} else {
				// Search window is bounded below so the next start
				// (end - overlap) always advances past the current one.
				lo := end - c.lookback
				if min := start + c.overlap + 1; lo < min {
					lo = min
				}
				if cut := sentenceBreak(text, lo, end); cut > 0 {
					end = cut
				}
			}
			if !yield(Span{Text: text[start:end], Start: start, End: end}) {
				return
			}
			if end == n {
				return
			}
			start = end - c.overlap
		}
	}
}

// Split eagerly collects Spans. A convenience for callers that need the
// whole partition at once.
func (c *Chunker) Split(text string) []Span {
	var out []Span
	for s := range c.Spans(text) {
		out = append(out, s)
	}
	return out
}

// sentenceBreak scans backward through (lo, hi] for the latest sentence or
// paragraph boundary and returns the cut position just after it, or 0 if
// the window contains none.
func sentenceBreak(text string, lo, hi int) int {
	for i := hi - 1; i >= lo; i-- {
		switch text[i] {
		case '\n':
			return i + 1
		case '.', '!', '?':
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
				if cut := i + 2; cut <= hi {
					return cut
				}
			}
		}
	}
	return 0
}
