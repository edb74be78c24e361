package eventstream

import "context"

// Publisher publishes index events to an event stream backend.
type Publisher interface {
	PublishBatchStored(ctx context.Context, event *BatchStoredEvent) error
	PublishIndexCompleted(ctx context.Context, event *IndexCompletedEvent) error
	Close() error
}
