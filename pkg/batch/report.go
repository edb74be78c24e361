package batch

import (
	"time"

	"github.com/papercomputeco/semsearch/pkg/eventstream"
)

// FailedChunk names a chunk that was not stored and why.
type FailedChunk struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// Report is the outcome of one Process run.
type Report struct {
	Total   int           `json:"total"`
	Stored  int           `json:"stored"`
	Batches int           `json:"batches"`
	Failed  []FailedChunk `json:"failed,omitempty"`

	// Cancelled is set when the run stopped early because its context
	// ended. Chunks of unfinished sub-batches are neither stored nor failed.
	Cancelled bool `json:"cancelled,omitempty"`

	Duration time.Duration `json:"duration"`
}

// OK reports whether every chunk was stored.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && !r.Cancelled && r.Stored == r.Total
}

// FailedIDs returns the ids of the failed chunks in processing order.
func (r *Report) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ChunkID
	}
	return ids
}

func (r *Report) eventFailures() []eventstream.FailedChunk {
	if len(r.Failed) == 0 {
		return nil
	}
	out := make([]eventstream.FailedChunk, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = eventstream.FailedChunk{ChunkID: f.ChunkID, Reason: f.Reason}
	}
	return out
}
