// Package kafka implements the broker interfaces on github.com/segmentio/kafka-go.
//
// Publishes use the Hash balancer so that every message of a run lands on
// the same partition. The subscriber reads through a consumer group with
// FetchMessage and commits explicitly with CommitMessages; nothing is
// auto-committed.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Atif-27/AutoChain/internal/broker"
)

// Publisher writes to Kafka.
type Publisher struct {
	w *kafkago.Writer
}

var _ broker.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher for the given bootstrap brokers.
// The topic is chosen per Publish call.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{w: &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

// Publish writes msgs synchronously and returns once all are acknowledged.
func (p *Publisher) Publish(ctx context.Context, topic string, msgs ...broker.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafkago.Message{Topic: topic, Key: m.Key, Value: m.Value}
	}
	if err := p.w.WriteMessages(ctx, out...); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return broker.ErrClosed
		}
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Subscriber consumes a topic as a member of a consumer group.
type Subscriber struct {
	r *kafkago.Reader
}

var _ broker.Subscriber = (*Subscriber)(nil)

// NewSubscriber joins group on topic.
func NewSubscriber(brokers []string, group, topic string) *Subscriber {
	return &Subscriber{r: kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
		StartOffset:    kafkago.FirstOffset,
	})}
}

// Fetch returns the next message without committing it.
func (s *Subscriber) Fetch(ctx context.Context) (broker.Message, error) {
	m, err := s.r.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return broker.Message{}, broker.ErrClosed
		}
		return broker.Message{}, err
	}
	return broker.Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		Raw:       m,
	}, nil
}

// Commit commits msg's offset for the group.
func (s *Subscriber) Commit(ctx context.Context, msg broker.Message) error {
	km, ok := msg.Raw.(kafkago.Message)
	if !ok {
		km = kafkago.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
	}
	if err := s.r.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

// Close leaves the consumer group.
func (s *Subscriber) Close() error {
	return s.r.Close()
}
