package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/semsearch/pkg/eventstream"
	"github.com/papercomputeco/semsearch/pkg/eventstream/kafka"
)

type recordingWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
	deadline bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		writer    *recordingWriter
		publisher *kafka.Publisher
		ctx       context.Context
	)

	BeforeEach(func() {
		writer = &recordingWriter{}
		publisher = kafka.NewPublisherWithWriter(writer, time.Second)
		ctx = context.Background()
	})

	It("requires brokers", func() {
		_, err := kafka.NewPublisher(kafka.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("builds a publisher for configured brokers without connecting", func() {
		p, err := kafka.NewPublisher(kafka.Config{Brokers: []string{"localhost:9092"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Close()).To(Succeed())
	})

	It("writes batch events as JSON keyed by run id", func() {
		event := eventstream.NewBatchStoredEvent("run-7", 1, []string{"c1"}, []string{"d1"}, time.Millisecond)
		Expect(publisher.PublishBatchStored(ctx, event)).To(Succeed())

		Expect(writer.messages).To(HaveLen(1))
		msg := writer.messages[0]
		Expect(string(msg.Key)).To(Equal("run-7"))
		Expect(msg.Headers).To(ContainElement(kafkago.Header{
			Key: "event_type", Value: []byte(eventstream.EventTypeBatchStored),
		}))

		var decoded eventstream.BatchStoredEvent
		Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
		Expect(decoded.ChunkIDs).To(Equal([]string{"c1"}))
		Expect(decoded.EventID).To(Equal(event.EventID))
		Expect(writer.deadline).To(BeTrue())
	})

	It("writes completion events", func() {
		event := eventstream.NewIndexCompletedEvent("run-7", 3, 3, 2, nil, time.Second)
		Expect(publisher.PublishIndexCompleted(ctx, event)).To(Succeed())
		Expect(writer.messages).To(HaveLen(1))
		Expect(string(writer.messages[0].Headers[0].Value)).To(Equal(eventstream.EventTypeIndexCompleted))
	})

	It("rejects nil events", func() {
		Expect(publisher.PublishBatchStored(ctx, nil)).To(MatchError(eventstream.ErrNilEvent))
		Expect(publisher.PublishIndexCompleted(ctx, nil)).To(MatchError(eventstream.ErrNilEvent))
	})

	It("wraps writer failures", func() {
		writer.err = errors.New("broker down")
		err := publisher.PublishBatchStored(ctx, eventstream.NewBatchStoredEvent("r", 0, nil, nil, 0))
		Expect(err).To(MatchError(ContainSubstring("broker down")))
	})

	It("closes the writer", func() {
		Expect(publisher.Close()).To(Succeed())
		Expect(writer.closed).To(BeTrue())
	})
})
