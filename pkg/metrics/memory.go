package metrics

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Summary(_ context.Context, since time.Time) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var window []Entry
	for _, e := range m.entries {
		if !e.At.Before(since) {
			window = append(window, e)
		}
	}
	return summarize(since, window), nil
}

func (m *MemoryStore) Cleanup(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.At.Before(before) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(m.entries) - len(kept))
	m.entries = kept
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Recorder = (*MemoryStore)(nil)
