package vector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// timeoutStore bounds every call to the wrapped store.
type timeoutStore struct {
	Store
	timeout time.Duration
}

// WithTimeout returns a Store whose calls each run under their own deadline
// of d. A call that hits the deadline fails with ErrStorage; a call whose
// caller context ends keeps the caller's error. A non-positive d returns s
// unchanged. Wrapping an already bounded store replaces its timeout.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 || s == nil {
		return s
	}
	if t, ok := s.(*timeoutStore); ok {
		s = t.Store
	}
	return &timeoutStore{Store: s, timeout: d}
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%w: %s timed out after %s", ErrStorage, op, d)
	}
	return v, err
}

func (t *timeoutStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := bounded(ctx, t.timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (t *timeoutStore) Upsert(ctx context.Context, points []Point) error {
	return t.do(ctx, "upsert", func(ctx context.Context) error { return t.Store.Upsert(ctx, points) })
}

func (t *timeoutStore) Search(ctx context.Context, q Query) ([]Result, error) {
	return bounded(ctx, t.timeout, "search", func(ctx context.Context) ([]Result, error) { return t.Store.Search(ctx, q) })
}

func (t *timeoutStore) DeleteByTags(ctx context.Context, tags []string) error {
	return t.do(ctx, "delete", func(ctx context.Context) error { return t.Store.DeleteByTags(ctx, tags) })
}

func (t *timeoutStore) DeleteBySourceKinds(ctx context.Context, kinds []string) error {
	return t.do(ctx, "delete", func(ctx context.Context) error { return t.Store.DeleteBySourceKinds(ctx, kinds) })
}

func (t *timeoutStore) DeleteByDocumentIDs(ctx context.Context, ids []string) error {
	return t.do(ctx, "delete", func(ctx context.Context) error { return t.Store.DeleteByDocumentIDs(ctx, ids) })
}

func (t *timeoutStore) TrimDocument(ctx context.Context, documentID string, total int) error {
	return t.do(ctx, "trim", func(ctx context.Context) error { return t.Store.TrimDocument(ctx, documentID, total) })
}

func (t *timeoutStore) Count(ctx context.Context) (uint64, error) {
	return bounded(ctx, t.timeout, "count", t.Store.Count)
}

func (t *timeoutStore) CollectionInfo(ctx context.Context) (CollectionInfo, error) {
	return bounded(ctx, t.timeout, "collection info", t.Store.CollectionInfo)
}

func (t *timeoutStore) ListTags(ctx context.Context) ([]string, error) {
	return bounded(ctx, t.timeout, "list tags", t.Store.ListTags)
}

func (t *timeoutStore) Clear(ctx context.Context) error {
	return t.do(ctx, "clear", t.Store.Clear)
}

func (t *timeoutStore) Health(ctx context.Context) error {
	return t.do(ctx, "health", t.Store.Health)
}
