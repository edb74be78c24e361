package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/papercomputeco/semsearch/pkg/vector"
)

// ErrMockStorage is the failure injected by FlakyStore.
var ErrMockStorage = errors.New("mock storage failure")

// FlakyStore wraps a vector.Store and fails selected upserts.
type FlakyStore struct {
	vector.Store

	// FailUpserts fails this many upsert calls before delegating.
	FailUpserts int

	// FailWhen fails every upsert containing a point it returns true for.
	FailWhen func(p vector.Point) bool

	// UpsertErr overrides the injected error.
	UpsertErr error

	mu      sync.Mutex
	upserts [][]string
	failed  int
}

func NewFlakyStore(inner vector.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

func (f *FlakyStore) Upsert(ctx context.Context, points []vector.Point) error {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}

	f.mu.Lock()
	f.upserts = append(f.upserts, ids)
	fail := f.failed < f.FailUpserts
	if fail {
		f.failed++
	}
	f.mu.Unlock()

	if !fail && f.FailWhen != nil {
		for _, p := range points {
			if f.FailWhen(p) {
				fail = true
				break
			}
		}
	}

	if fail {
		if f.UpsertErr != nil {
			return f.UpsertErr
		}
		return fmt.Errorf("%w: %w", vector.ErrStorage, ErrMockStorage)
	}
	return f.Store.Upsert(ctx, points)
}

// Upserts returns the point ids of every upsert call, in call order.
func (f *FlakyStore) Upserts() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.upserts...)
}

// BlockingStore wraps a vector.Store and blocks Upsert and Search until the
// call's context ends.
type BlockingStore struct {
	vector.Store
}

func (b *BlockingStore) Upsert(ctx context.Context, _ []vector.Point) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *BlockingStore) Search(ctx context.Context, _ vector.Query) ([]vector.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
