package vector

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

var lastSeq atomic.Int64

// NextSeq returns a process-wide monotonic sequence number derived from the
// wall clock, for backends that cannot keep a sequence themselves. Within a
// process it never repeats or goes backwards. Across processes, tie order
// follows the clocks of the writers, so a clock stepped backwards between
// two runs orders the later run's points first. Backends with a server-side
// counter use that instead.
func NextSeq() int64 {
	now := time.Now().UnixNano()
	for {
		last := lastSeq.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// CosineSimilarity computes the cosine similarity of a and b, accumulating in
// float64. Zero vectors score 0.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// Validate checks ids and dimensionality of points against dims.
func Validate(points []Point, dims int) error {
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("%w: point %d has no id", ErrInvalidPoint, i)
		}
		if len(p.Vector) != dims {
			return fmt.Errorf("%w: point %s has %d dimensions, collection expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), dims)
		}
	}
	return nil
}

// Normalize validates q against dims and fills defaults: the limit, and
// lowercased, de-duplicated filters.
func (q Query) Normalize(dims int) (Query, error) {
	if len(q.Vector) != dims {
		return q, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			ErrDimensionMismatch, len(q.Vector), dims)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	q.Tags = NormalizeSet(q.Tags)
	q.SourceKinds = NormalizeSet(q.SourceKinds)
	return q, nil
}

// Matches reports whether a payload satisfies the query's tag and source
// filters.
func (q Query) Matches(p Payload) bool {
	if len(q.SourceKinds) > 0 && !slices.Contains(q.SourceKinds, p.SourceKind) {
		return false
	}
	for _, t := range q.Tags {
		if !slices.Contains(p.Tags, t) {
			return false
		}
	}
	return true
}

// Passes reports whether score clears the query's minimum score.
func (q Query) Passes(score float32) bool {
	return q.MinScore == nil || score >= *q.MinScore
}

// Rank orders results by descending score, then upsert order, then id, and
// truncates to limit.
func Rank(results []Result, limit int) []Result {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Seq != b.Seq:
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// NormalizeSet lowercases, trims and de-duplicates filter values.
func NormalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
