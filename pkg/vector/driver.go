// Package vector defines the Store abstraction over interchangeable vector
// database backends and the ranking rules every backend shares.
package vector

import (
	"context"
	"time"

	"github.com/papercomputeco/semsearch/pkg/document"
)

const (
	// DefaultLimit is used when a query does not set a positive limit.
	DefaultLimit = 10

	// DefaultCollection is the collection/table name used when none is configured.
	DefaultCollection = "semantic_search"
)

// Payload is the metadata persisted alongside each vector.
type Payload struct {
	DocumentID     string    `json:"document_id"`
	ChunkIndex     int       `json:"chunk_index"`
	Content        string    `json:"content"`
	SourceKind     string    `json:"source_kind"`
	SourceLocation string    `json:"source_location"`
	SourceURL      string    `json:"source_url,omitempty"`
	Path           string    `json:"path,omitempty"`
	Title          string    `json:"title,omitempty"`
	Tags           []string  `json:"tags"`
	LineStart      int       `json:"line_start,omitempty"`
	LineEnd        int       `json:"line_end,omitempty"`
	Checksum       string    `json:"checksum,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Source rebuilds the document source the payload was created from.
func (p Payload) Source() document.Source {
	return document.Source{
		Kind:     document.SourceKind(p.SourceKind),
		Location: p.SourceLocation,
		URL:      p.SourceURL,
	}
}

// Point is the persisted unit: an identifier, its vector and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// FromChunk pairs a chunk with its embedding.
func FromChunk(c document.Chunk, vec []float32) Point {
	return Point{
		ID:     c.ID,
		Vector: vec,
		Payload: Payload{
			DocumentID:     c.DocumentID,
			ChunkIndex:     c.Index,
			Content:        c.Content,
			SourceKind:     c.Source.Kind.String(),
			SourceLocation: c.Source.Location,
			SourceURL:      c.Source.URL,
			Path:           c.Path,
			Title:          c.Title,
			Tags:           document.TagStrings(c.Tags),
			LineStart:      c.LineStart,
			LineEnd:        c.LineEnd,
			Checksum:       c.Checksum,
			CreatedAt:      time.Now().UTC(),
		},
	}
}

// Query describes one similarity search.
type Query struct {
	Vector []float32

	// Limit caps the number of results. Non-positive means DefaultLimit.
	Limit int

	// Tags must all be present on a point for it to match.
	Tags []string

	// SourceKinds restricts results to points whose source kind is in the set.
	SourceKinds []string

	// MinScore drops results scoring below it when set.
	MinScore *float32
}

// Result is a scored match.
type Result struct {
	ID      string
	Score   float32
	Payload Payload

	// Seq is the upsert order of the point, used to break score ties.
	Seq int64
}

// Location renders where the matched chunk lives.
func (r Result) Location() string {
	return document.Location(r.Payload.Source(), r.Payload.Path, r.Payload.LineStart, r.Payload.LineEnd)
}

// CollectionInfo is read-only introspection about the backing collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	Backend    string `json:"backend"`
	Dimensions int    `json:"dimensions"`
	Points     uint64 `json:"points"`
	Status     string `json:"status"`
}

// Store persists and searches vectors. Every implementation must rank the
// same inputs identically: cosine similarity descending, ties broken by
// upsert order (earliest first).
type Store interface {
	// Upsert inserts or replaces points by id. Any vector whose length differs
	// from the collection dimensionality fails the call with
	// ErrDimensionMismatch before anything is written.
	Upsert(ctx context.Context, points []Point) error

	// Search returns at most q.Limit results ordered by descending score.
	Search(ctx context.Context, q Query) ([]Result, error)

	// DeleteByTags removes points carrying all of the given tags.
	DeleteByTags(ctx context.Context, tags []string) error

	// DeleteBySourceKinds removes points whose source kind is in the set.
	DeleteBySourceKinds(ctx context.Context, kinds []string) error

	// DeleteByDocumentIDs removes every chunk of the given documents.
	DeleteByDocumentIDs(ctx context.Context, ids []string) error

	// TrimDocument removes the chunks of a document whose index is at or
	// past total, leaving chunks 0..total-1 in place.
	TrimDocument(ctx context.Context, documentID string, total int) error

	// Count returns the number of stored points.
	Count(ctx context.Context) (uint64, error)

	// CollectionInfo describes the collection.
	CollectionInfo(ctx context.Context) (CollectionInfo, error)

	// ListTags returns every distinct tag, sorted.
	ListTags(ctx context.Context) ([]string, error)

	// Clear removes all points but keeps the collection.
	Clear(ctx context.Context) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
