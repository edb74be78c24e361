package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockEmbedder is a test embedder that returns predictable embeddings
type MockEmbedder struct {
	Embeddings map[string][]float32

	// Dimensions sizes the default embedding. Defaults to 3.
	Dimensions int

	// FailOn causes Embed to return an error when any input text matches
	FailOn string

	// FailCalls fails this many calls before succeeding.
	FailCalls int32

	// Delay is slept (honouring ctx) on every call.
	Delay time.Duration

	mu       sync.Mutex
	calls    [][]string
	active   atomic.Int32
	peak     atomic.Int32
	failures atomic.Int32
	closed   atomic.Bool
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	if m.failures.Load() < m.FailCalls {
		m.failures.Add(1)
		return nil, fmt.Errorf("mock embedding failure %d", m.failures.Load())
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if m.FailOn != "" && text == m.FailOn {
			return nil, fmt.Errorf("mock embedding failure for: %s", text)
		}
		if emb, ok := m.Embeddings[text]; ok {
			out[i] = emb
			continue
		}
		out[i] = m.defaultEmbedding(i)
	}
	return out, nil
}

func (m *MockEmbedder) defaultEmbedding(i int) []float32 {
	dims := m.Dimensions
	if dims <= 0 {
		dims = 3
	}
	vec := make([]float32, dims)
	for d := range vec {
		vec[d] = float32(d+1) * 0.1
	}
	vec[i%dims] += 1
	return vec
}

// Calls returns the batches passed to Embed, in call order.
func (m *MockEmbedder) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// PeakConcurrency is the largest number of Embed calls seen running at once.
func (m *MockEmbedder) PeakConcurrency() int {
	return int(m.peak.Load())
}

func (m *MockEmbedder) Closed() bool {
	return m.closed.Load()
}

func (m *MockEmbedder) Close() error {
	m.closed.Store(true)
	return nil
}

// EmbedDocuments embeds texts as documents.
func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return m.Embed(ctx, texts)
}

// EmbedQuery embeds a single query text.
func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
