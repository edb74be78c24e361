// Package chunker splits document text into overlapping, line-addressed
// chunks sized for the embedding model.
package chunker

import (
	"errors"
	"fmt"

	"github.com/papercomputeco/semsearch/pkg/document"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 6000

	// DefaultOverlap is the number of characters shared by consecutive chunks.
	DefaultOverlap = 500
)

// ErrInvalidConfig is returned by New for unusable size/overlap settings.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Span is one cut of a text. Offsets are in runes, lines are 1-based and
// inclusive.
type Span struct {
	Start     int
	End       int
	LineStart int
	LineEnd   int
	Text      string
}

// Chunker cuts text into spans of at most size runes. It holds no state
// between calls and is safe for concurrent use.
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.size = size
	}
}

// WithOverlap sets the number of characters consecutive chunks share.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// WithLookback sets how far back from the size limit a line break is searched
// for. Zero disables line alignment. Defaults to a fifth of the chunk size.
func WithLookback(lookback int) Option {
	return func(c *Chunker) {
		c.lookback = lookback
	}
}

// New builds a Chunker. Overlap must be smaller than the chunk size; it is
// never clamped.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:     DefaultChunkSize,
		overlap:  DefaultOverlap,
		lookback: -1,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.size)
	}
	if c.overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, c.overlap)
	}
	if c.overlap >= c.size {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than chunk size (%d)", ErrInvalidConfig, c.overlap, c.size)
	}
	if c.lookback < 0 {
		c.lookback = c.size / 5
	}

	return c, nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into spans. Each span after the first starts overlap runes
// before the end of its predecessor.
func (c *Chunker) Split(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	lineAt := make([]int, n)
	line := 1
	for i, r := range runes {
		lineAt[i] = line
		if r == '\n' {
			line++
		}
	}

	var spans []Span
	start := 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.cut(runes, start, end)
		}

		spans = append(spans, Span{
			Start:     start,
			End:       end,
			LineStart: lineAt[start],
			LineEnd:   lineAt[end-1],
			Text:      string(runes[start:end]),
		})

		if end == n {
			return spans
		}
		start = end - c.overlap
	}
}

// cut moves end back to just after the latest line break in the lookback
// window. The resulting span stays longer than the overlap so the next start
// always advances.
func (c *Chunker) cut(runes []rune, start, end int) int {
	floor := end - c.lookback
	if floor < start+c.overlap {
		floor = start + c.overlap
	}
	for i := end - 1; i >= floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}

// Chunk splits a document into chunks carrying the document's identity,
// source and tags.
func (c *Chunker) Chunk(doc *document.Document) []document.Chunk {
	spans := c.Split(doc.Content)
	chunks := make([]document.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = document.Chunk{
			ID:          document.ChunkID(doc.ID, i),
			DocumentID:  doc.ID,
			Index:       i,
			Total:       len(spans),
			Content:     s.Text,
			StartOffset: s.Start,
			EndOffset:   s.End,
			LineStart:   s.LineStart,
			LineEnd:     s.LineEnd,
			Source:      doc.Source,
			Tags:        doc.Tags,
			Title:       doc.Title,
			Path:        doc.Path,
			Checksum:    doc.Checksum,
		}
	}
	return chunks
}
