// Package metrics records embedding daemon requests and summarises them.
package metrics

import (
	"context"
	"math"
	"slices"
	"time"
)

// Entry is one served request.
type Entry struct {
	// Kind is the request type, e.g. "embed".
	Kind    string
	Texts   int
	Latency time.Duration
	Success bool
	Error   string

	// At defaults to the time of recording.
	At time.Time
}

// Summary aggregates the entries recorded since a point in time.
type Summary struct {
	Since         time.Time `json:"since"`
	TotalRequests uint64    `json:"total_requests"`
	Failures      uint64    `json:"failures"`
	TextsEmbedded uint64    `json:"texts_embedded"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	P95LatencyMs  float64   `json:"p95_latency_ms"`

	// ErrorRate is the failed share of requests in percent.
	ErrorRate float64 `json:"error_rate"`
}

// Recorder persists entries and answers summaries over them.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Summary(ctx context.Context, since time.Time) (Summary, error)

	// Cleanup removes entries older than before and reports how many went.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// percentile returns the nearest-rank percentile p (0-100) of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// summarize folds entries into a Summary.
func summarize(since time.Time, entries []Entry) Summary {
	s := Summary{Since: since}
	if len(entries) == 0 {
		return s
	}

	latencies := make([]time.Duration, 0, len(entries))
	var total time.Duration
	for _, e := range entries {
		s.TotalRequests++
		if !e.Success {
			s.Failures++
		}
		if e.Success {
			s.TextsEmbedded += uint64(e.Texts)
		}
		total += e.Latency
		latencies = append(latencies, e.Latency)
	}
	slices.Sort(latencies)

	s.AvgLatencyMs = millis(total) / float64(s.TotalRequests)
	s.P95LatencyMs = millis(percentile(latencies, 95))
	s.ErrorRate = float64(s.Failures) * 100 / float64(s.TotalRequests)
	return s
}
