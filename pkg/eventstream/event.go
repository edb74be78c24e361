package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeBatchStored is emitted after a sub-batch of chunks is upserted.
	EventTypeBatchStored = "semsearch.batch.stored"

	// EventTypeIndexCompleted is emitted when a batch processor run ends.
	EventTypeIndexCompleted = "semsearch.index.completed"
)

// Meta is the envelope shared by every event.
type Meta struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
}

func newMeta(eventType string) Meta {
	return Meta{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
	}
}

// BatchStoredEvent describes one stored sub-batch.
type BatchStoredEvent struct {
	Meta

	RunID       string   `json:"run_id"`
	Batch       int      `json:"batch"`
	Collection  string   `json:"collection,omitempty"`
	ChunkIDs    []string `json:"chunk_ids"`
	DocumentIDs []string `json:"document_ids"`
	DurationMs  int64    `json:"duration_ms"`
}

// NewBatchStoredEvent fills the envelope for a stored sub-batch.
func NewBatchStoredEvent(runID string, batch int, chunkIDs, documentIDs []string, d time.Duration) *BatchStoredEvent {
	return &BatchStoredEvent{
		Meta:        newMeta(EventTypeBatchStored),
		RunID:       runID,
		Batch:       batch,
		ChunkIDs:    chunkIDs,
		DocumentIDs: documentIDs,
		DurationMs:  d.Milliseconds(),
	}
}

// FailedChunk names a chunk that could not be stored.
type FailedChunk struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// IndexCompletedEvent summarises a finished run.
type IndexCompletedEvent struct {
	Meta

	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Stored     int           `json:"stored"`
	Batches    int           `json:"batches"`
	Failed     []FailedChunk `json:"failed,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// NewIndexCompletedEvent fills the envelope for a finished run.
func NewIndexCompletedEvent(runID string, total, stored, batches int, failed []FailedChunk, d time.Duration) *IndexCompletedEvent {
	return &IndexCompletedEvent{
		Meta:       newMeta(EventTypeIndexCompleted),
		RunID:      runID,
		Total:      total,
		Stored:     stored,
		Batches:    batches,
		Failed:     failed,
		DurationMs: d.Milliseconds(),
	}
}
