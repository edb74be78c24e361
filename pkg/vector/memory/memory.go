// Package memory provides an in-process vector.Store. It is the reference
// implementation of the ranking rules and backs tests and ephemeral runs.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

type entry struct {
	point vector.Point
	seq   int64
}

// Store keeps points in a map guarded by a RWMutex and scores by brute force.
type Store struct {
	mu         sync.RWMutex
	name       string
	dimensions int
	points     map[string]entry
	seq        int64
	logger     *slog.Logger
}

// Config holds configuration for the in-memory store.
type Config struct {
	Collection string
	Dimensions int
	Logger     *slog.Logger
}

// NewStore creates an empty in-memory store.
func NewStore(c Config) *Store {
	name := c.Collection
	if name == "" {
		name = vector.DefaultCollection
	}
	l := c.Logger
	if l == nil {
		l = logger.Nop()
	}
	return &Store{
		name:       name,
		dimensions: c.Dimensions,
		points:     make(map[string]entry),
		logger:     l,
	}
}

// Upsert inserts or replaces points.
func (s *Store) Upsert(_ context.Context, points []vector.Point) error {
	if err := vector.Validate(points, s.dimensions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		p.Payload.Tags = slices.Clone(p.Payload.Tags)
		s.seq++
		s.points[p.ID] = entry{point: p, seq: s.seq}
	}

	s.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Search scores every matching point and ranks the results.
func (s *Store) Search(_ context.Context, q vector.Query) ([]vector.Result, error) {
	q, err := q.Normalize(s.dimensions)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]vector.Result, 0, len(s.points))
	for _, e := range s.points {
		if !q.Matches(e.point.Payload) {
			continue
		}
		score, err := vector.CosineSimilarity(q.Vector, e.point.Vector)
		if err != nil {
			return nil, err
		}
		if !q.Passes(score) {
			continue
		}
		results = append(results, vector.Result{
			ID:      e.point.ID,
			Score:   score,
			Payload: e.point.Payload,
			Seq:     e.seq,
		})
	}

	return vector.Rank(results, q.Limit), nil
}

// DeleteByTags removes points carrying all of the given tags.
func (s *Store) DeleteByTags(_ context.Context, tags []string) error {
	tags = vector.NormalizeSet(tags)
	if len(tags) == 0 {
		return nil
	}
	q := vector.Query{Tags: tags}
	s.deleteWhere(q.Matches)
	return nil
}

// DeleteBySourceKinds removes points whose source kind is in kinds.
func (s *Store) DeleteBySourceKinds(_ context.Context, kinds []string) error {
	kinds = vector.NormalizeSet(kinds)
	if len(kinds) == 0 {
		return nil
	}
	q := vector.Query{SourceKinds: kinds}
	s.deleteWhere(q.Matches)
	return nil
}

// DeleteByDocumentIDs removes every chunk of the given documents.
func (s *Store) DeleteByDocumentIDs(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.deleteWhere(func(p vector.Payload) bool {
		return slices.Contains(ids, p.DocumentID)
	})
	return nil
}

// TrimDocument removes chunks of documentID at or past index total.
func (s *Store) TrimDocument(_ context.Context, documentID string, total int) error {
	s.deleteWhere(func(p vector.Payload) bool {
		return p.DocumentID == documentID && p.ChunkIndex >= total
	})
	return nil
}

func (s *Store) deleteWhere(match func(vector.Payload) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.points {
		if match(e.point.Payload) {
			delete(s.points, id)
			removed++
		}
	}
	s.logger.Debug("deleted points", "count", removed)
}

// Count returns the number of stored points.
func (s *Store) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.points)), nil
}

// CollectionInfo describes the in-memory collection.
func (s *Store) CollectionInfo(ctx context.Context) (vector.CollectionInfo, error) {
	n, _ := s.Count(ctx)
	return vector.CollectionInfo{
		Name:       s.name,
		Backend:    "memory",
		Dimensions: s.dimensions,
		Points:     n,
		Status:     "green",
	}, nil
}

// ListTags returns every distinct tag, sorted.
func (s *Store) ListTags(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tags []string
	for _, e := range s.points {
		for _, t := range e.point.Payload.Tags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}
	slices.Sort(tags)
	return tags, nil
}

// Clear removes all points.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = make(map[string]entry)
	return nil
}

// Health always succeeds.
func (s *Store) Health(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ vector.Store = (*Store)(nil)
