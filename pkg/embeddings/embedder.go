// Package embeddings defines the model runtime the embedding daemon drives.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmbedding is returned when a runtime fails to produce embeddings.
var ErrEmbedding = errors.New("embedding failed")

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts texts into vector embeddings, one per text and in the
	// same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
