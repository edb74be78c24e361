// Package openai implements pkg/embeddings' Embedder for OpenAI-compatible
// embedding endpoints through langchaingo.
package openai

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/papercomputeco/semsearch/pkg/embeddings"
)

const (
	// DefaultEmbeddingModel is used when no model is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultBatchSize caps the texts sent per upstream call.
	DefaultBatchSize = 64
)

// Embedder wraps a langchaingo OpenAI embedder.
type Embedder struct {
	embedder lcembeddings.Embedder
	model    string
}

// EmbedderConfig holds configuration for the OpenAI-compatible embedder.
type EmbedderConfig struct {
	// BaseURL of the OpenAI-compatible API. Empty uses api.openai.com.
	BaseURL string

	// APIKey is sent as the bearer token. Local servers that ignore auth
	// can leave it empty.
	APIKey string

	Model     string
	BatchSize int
}

// NewEmbedder creates an OpenAI-compatible embedder.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	opts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}

	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	// Newlines carry structure in source files, so they are kept.
	embedder, err := lcembeddings.NewEmbedder(client,
		lcembeddings.WithStripNewLines(false),
		lcembeddings.WithBatchSize(batchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Embedder{embedder: embedder, model: model}, nil
}

// Model returns the configured model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed converts texts into vector embeddings.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embeddings.ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			embeddings.ErrEmbedding, len(vecs), len(texts))
	}
	return vecs, nil
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
