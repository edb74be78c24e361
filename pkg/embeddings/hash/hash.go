// Package hash implements a deterministic, dependency-free embedding runtime
// based on feature hashing. It needs no model server, which makes it the
// runtime of choice for offline use and tests.
package hash

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/papercomputeco/semsearch/pkg/embeddings"
)

// ModelID identifies vectors produced by this runtime.
const ModelID = "feature-hash-v1"

// Embedder hashes word unigrams and character trigrams into a fixed number
// of signed buckets.
type Embedder struct {
	dims int
}

// NewEmbedder returns a hashing embedder producing dims-sized vectors.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = 1024
	}
	return &Embedder{dims: dims}
}

// Model returns ModelID.
func (e *Embedder) Model() string {
	return ModelID
}

// Embed returns one vector per text. Equal texts always produce equal
// vectors, and texts sharing words or trigrams point in similar directions.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		e.add(vec, "\x00raw:"+text, 1)
		return vec
	}

	for _, w := range words {
		e.add(vec, "w:"+w, 1)

		runes := []rune("^" + w + "$")
		for j := 0; j+3 <= len(runes); j++ {
			e.add(vec, "t:"+string(runes[j:j+3]), 0.5)
		}
	}
	return vec
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(e.dims))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
