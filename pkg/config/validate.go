package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/papercomputeco/semsearch/pkg/chunker"
	embeddingutils "github.com/papercomputeco/semsearch/pkg/embeddings/utils"
	eventstreamutils "github.com/papercomputeco/semsearch/pkg/eventstream/utils"
	vectorutils "github.com/papercomputeco/semsearch/pkg/vector/utils"
)

// ErrInvalidConfig is returned when a value is well-typed but unusable,
// such as an unknown provider or an overlap larger than the chunk size.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks provider names and constraints that span more than one
// key. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if !slices.Contains(embeddingutils.Providers, c.Embedding.Provider) {
		invalid("embedding.provider %q (supported: %s)",
			c.Embedding.Provider, strings.Join(embeddingutils.Providers, ", "))
	}
	if c.Embedding.Dimensions == 0 {
		invalid("embedding.dimensions must be positive")
	}

	if !slices.Contains(vectorutils.Providers, c.VectorStore.Provider) && c.VectorStore.Provider != "pgvector" {
		invalid("vector_store.provider %q (supported: %s)",
			c.VectorStore.Provider, strings.Join(vectorutils.Providers, ", "))
	}

	if c.Events.Provider != "" && !slices.Contains(eventstreamutils.Providers, c.Events.Provider) {
		invalid("events.provider %q (supported: %s)",
			c.Events.Provider, strings.Join(eventstreamutils.Providers, ", "))
	}
	if c.Events.Provider == eventstreamutils.ProviderKafka && len(c.Events.Brokers) == 0 {
		invalid("events.brokers is required for the kafka provider")
	}

	if _, err := chunker.New(
		chunker.WithChunkSize(c.Indexing.ChunkSize),
		chunker.WithOverlap(c.Indexing.ChunkOverlap),
	); err != nil {
		invalid("indexing: %w", err)
	}
	if c.Indexing.BatchSize <= 0 {
		invalid("indexing.batch_size must be positive, got %d", c.Indexing.BatchSize)
	}

	if c.Daemon.Concurrency <= 0 {
		invalid("daemon.concurrency must be positive, got %d", c.Daemon.Concurrency)
	}
	if c.Daemon.IdleTimeout.Duration < 0 {
		invalid("daemon.idle_timeout must not be negative")
	}

	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		invalid("search.min_score must be within [-1, 1], got %g", c.Search.MinScore)
	}

	if c.Retry.MaxAttempts <= 0 {
		invalid("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		invalid("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	}

	return errors.Join(errs...)
}
