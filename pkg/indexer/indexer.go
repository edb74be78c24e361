// Package indexer turns documents into stored, searchable chunks.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/semsearch/pkg/batch"
	"github.com/papercomputeco/semsearch/pkg/chunker"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/source/local"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

// DefaultMinContentChars is the fewest non-whitespace characters a chunk
// needs to be worth embedding.
const DefaultMinContentChars = 50

type Config struct {
	Chunker   *chunker.Chunker
	Processor *batch.Processor

	// Store is required when Reindex is set.
	Store vector.Store

	// MinContentChars drops chunks with fewer non-whitespace characters.
	// Zero selects DefaultMinContentChars; negative keeps every chunk.
	MinContentChars int

	// Reindex removes chunks a document no longer has once its new chunks
	// are all stored. A document with any failed chunk keeps its old points.
	Reindex bool

	Logger *slog.Logger
}

// Stats summarises one indexing run.
type Stats struct {
	FilesScanned  int           `json:"files_scanned"`
	FilesIndexed  int           `json:"files_indexed"`
	FilesSkipped  int           `json:"files_skipped"`
	ChunksCreated int           `json:"chunks_created"`
	ChunksStored  int           `json:"chunks_stored"`
	ChunksFailed  int           `json:"chunks_failed"`
	DurationMs    int64         `json:"duration_ms"`
	Report        *batch.Report `json:"report,omitempty"`
}

type Indexer struct {
	chunker   *chunker.Chunker
	processor *batch.Processor
	store     vector.Store
	minChars  int
	reindex   bool
	logger    *slog.Logger
}

func New(cfg Config) (*Indexer, error) {
	if cfg.Chunker == nil {
		return nil, errors.New("indexer requires a chunker")
	}
	if cfg.Processor == nil {
		return nil, errors.New("indexer requires a batch processor")
	}
	if cfg.Reindex && cfg.Store == nil {
		return nil, errors.New("indexer requires a vector store to reindex")
	}

	minChars := cfg.MinContentChars
	if minChars == 0 {
		minChars = DefaultMinContentChars
	}

	return &Indexer{
		chunker:   cfg.Chunker,
		processor: cfg.Processor,
		store:     cfg.Store,
		minChars:  minChars,
		reindex:   cfg.Reindex,
		logger:    logger.OrNop(cfg.Logger),
	}, nil
}

// Index chunks docs and stores the chunks. Documents that yield no
// meaningful chunk are counted as skipped. A cancelled context returns the
// partial Stats together with the context error.
func (ix *Indexer) Index(ctx context.Context, docs []*document.Document) (*Stats, error) {
	start := time.Now()
	stats := &Stats{FilesScanned: len(docs)}

	var (
		chunks []document.Chunk
		totals = map[string]int{}
		order  []string
	)
	for _, doc := range docs {
		kept := ix.chunk(doc)
		if len(kept) == 0 {
			stats.FilesSkipped++
			ix.logger.Debug("no meaningful content", "document", doc.Source.String())
			continue
		}
		stats.FilesIndexed++
		if _, ok := totals[doc.ID]; !ok {
			order = append(order, doc.ID)
		}
		totals[doc.ID] = len(kept)
		chunks = append(chunks, kept...)
	}
	stats.ChunksCreated = len(chunks)

	if len(chunks) > 0 {
		report, err := ix.processor.Process(ctx, chunks)
		if report != nil {
			stats.Report = report
			stats.ChunksStored = report.Stored
			stats.ChunksFailed = len(report.Failed)
		}
		if err != nil {
			stats.DurationMs = time.Since(start).Milliseconds()
			return stats, err
		}
		if ix.reindex {
			if err := ix.trim(ctx, order, totals, chunks, report); err != nil {
				stats.DurationMs = time.Since(start).Milliseconds()
				return stats, err
			}
		}
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	ix.logger.Info("indexing finished",
		"documents", stats.FilesIndexed,
		"skipped", stats.FilesSkipped,
		"chunks", stats.ChunksCreated,
		"stored", stats.ChunksStored,
		"failed", stats.ChunksFailed,
	)
	return stats, nil
}

// IndexSource loads every document from src and indexes it. Files the
// source could not read are added to the skipped count.
func (ix *Indexer) IndexSource(ctx context.Context, src *local.Source) (*Stats, error) {
	start := time.Now()
	docs, loaded, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.Root(), err)
	}

	stats, err := ix.Index(ctx, docs)
	if stats != nil {
		stats.FilesScanned = loaded.Scanned
		stats.FilesSkipped += loaded.Skipped
		stats.DurationMs = time.Since(start).Milliseconds()
	}
	return stats, err
}

// trim removes stale chunks of every document whose chunks were all
// stored. Kept chunks are numbered 0..n-1, so anything at index n or later
// belongs to an older version of the document.
func (ix *Indexer) trim(ctx context.Context, order []string, totals map[string]int, chunks []document.Chunk, report *batch.Report) error {
	failed := map[string]bool{}
	if report != nil {
		ids := map[string]bool{}
		for _, id := range report.FailedIDs() {
			ids[id] = true
		}
		for _, c := range chunks {
			if ids[c.ID] {
				failed[c.DocumentID] = true
			}
		}
	}

	for _, id := range order {
		if failed[id] {
			ix.logger.Warn("keeping previous chunks of partially stored document", "document", id)
			continue
		}
		if err := ix.store.TrimDocument(ctx, id, totals[id]); err != nil {
			return fmt.Errorf("removing stale chunks of %s: %w", id, err)
		}
	}
	ix.logger.Debug("trimmed stale chunks", "documents", len(order)-len(failed))
	return nil
}

// chunk splits doc and drops chunks without meaningful content. The kept
// chunks are renumbered so their indexes and totals describe what is stored.
func (ix *Indexer) chunk(doc *document.Document) []document.Chunk {
	chunks := ix.chunker.Chunk(doc)
	if ix.minChars < 0 {
		return chunks
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if document.HasMeaningfulContent(c.Content, ix.minChars) {
			kept = append(kept, c)
		}
	}
	for i := range kept {
		kept[i].Index = i
		kept[i].ID = document.ChunkID(doc.ID, i)
		kept[i].Total = len(kept)
	}
	return kept
}
