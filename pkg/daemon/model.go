package daemon

import (
	"context"
	"fmt"
	"math"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/papercomputeco/semsearch/pkg/embeddings"
	"github.com/papercomputeco/semsearch/pkg/ipc"
)

// DefaultQueryInstruction is prepended to query texts before embedding.
const DefaultQueryInstruction = "Instruct: Given a search query, retrieve relevant passages\nQuery: "

const warmupText = "semsearch readiness check"

// ModelConfig configures a Model.
type ModelConfig struct {
	Embedder   embeddings.Embedder
	ModelID    string
	Dimensions int

	// QueryInstruction overrides DefaultQueryInstruction. Use NoInstruction
	// to embed queries verbatim.
	QueryInstruction string
	NoInstruction    bool

	// CacheSize bounds the number of cached query vectors. Zero disables
	// the cache.
	CacheSize int64
}

// Model wraps a runtime with the instruction prefix, L2 normalisation and a
// dimensionality check.
type Model struct {
	embedder    embeddings.Embedder
	id          string
	dims        int
	instruction string
	cache       *ristretto.Cache[string, []float32]
}

func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: no embedding runtime configured", ErrModelFault)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", ErrModelFault, cfg.Dimensions)
	}

	instruction := cfg.QueryInstruction
	if instruction == "" && !cfg.NoInstruction {
		instruction = DefaultQueryInstruction
	}
	if cfg.NoInstruction {
		instruction = ""
	}

	m := &Model{
		embedder:    cfg.Embedder,
		id:          cfg.ModelID,
		dims:        cfg.Dimensions,
		instruction: instruction,
	}

	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
			NumCounters: cfg.CacheSize * 10,
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("creating query cache: %w", err)
		}
		m.cache = cache
	}

	return m, nil
}

func (m *Model) ID() string      { return m.id }
func (m *Model) Dimensions() int { return m.dims }

// Load runs one warmup inference so that a broken runtime or a dimension
// mismatch is caught before the daemon reports ready.
func (m *Model) Load(ctx context.Context) error {
	vecs, err := m.embedder.Embed(ctx, []string{warmupText})
	if err != nil {
		return fmt.Errorf("%w: warmup inference: %v", ErrModelFault, err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("%w: warmup returned %d vectors, expected 1", ErrModelFault, len(vecs))
	}
	if len(vecs[0]) != m.dims {
		return fmt.Errorf("%w: model produces %d dimensions, configured for %d",
			ErrModelFault, len(vecs[0]), m.dims)
	}
	return nil
}

// Embed returns one unit-length vector per text, in input order. Query texts
// get the instruction prefix; document texts are embedded as given.
func (m *Model) Embed(ctx context.Context, texts []string, kind ipc.Kind) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		if kind == ipc.KindQuery {
			prepared[i] = m.instruction + t
		} else {
			prepared[i] = t
		}
	}

	out := make([][]float32, len(texts))
	var missing []int
	for i, t := range prepared {
		if kind == ipc.KindQuery && m.cache != nil {
			if vec, ok := m.cache.Get(t); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = prepared[i]
	}

	vecs, err := m.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: runtime returned %d vectors for %d texts", ErrInference, len(vecs), len(batch))
	}

	for j, i := range missing {
		if len(vecs[j]) != m.dims {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrInference, i, len(vecs[j]), m.dims)
		}
		vec := normalize(vecs[j])
		out[i] = vec
		if kind == ipc.KindQuery && m.cache != nil {
			m.cache.Set(prepared[i], vec, 1)
		}
	}
	if kind == ipc.KindQuery && m.cache != nil {
		m.cache.Wait()
	}

	return out, nil
}

// Close releases the runtime and the query cache.
func (m *Model) Close() error {
	if m.cache != nil {
		m.cache.Close()
	}
	return m.embedder.Close()
}

// normalize scales v to unit length. A zero vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
