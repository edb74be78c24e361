package kafka

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

func NewPublisherWithWriter(w MessageWriter, timeout time.Duration) *Publisher {
	return newPublisher(w, timeout, nil)
}
