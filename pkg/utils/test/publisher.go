package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/semsearch/pkg/eventstream"
)

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu        sync.Mutex
	Batches   []*eventstream.BatchStoredEvent
	Completed []*eventstream.IndexCompletedEvent

	// Err is returned from every publish after recording.
	Err error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (r *RecordingPublisher) PublishBatchStored(_ context.Context, event *eventstream.BatchStoredEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Batches = append(r.Batches, event)
	return r.Err
}

func (r *RecordingPublisher) PublishIndexCompleted(_ context.Context, event *eventstream.IndexCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completed = append(r.Completed, event)
	return r.Err
}

func (r *RecordingPublisher) Close() error {
	return nil
}
