package nop

import (
	"context"

	"github.com/papercomputeco/semsearch/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishBatchStored validates input and otherwise does nothing.
func (p *Publisher) PublishBatchStored(_ context.Context, event *eventstream.BatchStoredEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// PublishIndexCompleted validates input and otherwise does nothing.
func (p *Publisher) PublishIndexCompleted(_ context.Context, event *eventstream.IndexCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*Publisher)(nil)
