// Package natsjs implements the broker interfaces on NATS JetStream.
//
// Each topic maps to one stream whose only subject is the topic name.
// JetStream has no partitions, so per-run ordering comes from a single
// durable pull consumer with MaxAckPending(1): the next message is not
// delivered until the previous one is acked.
package natsjs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Atif-27/AutoChain/internal/broker"
)

// KeyHeader carries the message key.
const KeyHeader = "AutoChain-Key"

const (
	defaultAckWait   = 60 * time.Second
	fetchPollTimeout = 5 * time.Second
)

// Connect dials a NATS server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("autochain"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// StreamName returns the stream backing a topic: upper case, with
// characters NATS forbids in stream names replaced by underscores.
func StreamName(topic string) string {
	r := strings.NewReplacer("-", "_", ".", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(topic))
}

// ensureStream creates the topic's stream if it does not exist.
func ensureStream(js nats.JetStreamContext, topic string) error {
	name := StreamName(topic)
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}

	slog.Info("creating NATS stream", "stream", name, "subject", topic)
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{topic},
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("create NATS stream %s: %w", name, err)
	}
	return nil
}

// Publisher publishes to JetStream.
type Publisher struct {
	js nats.JetStreamContext

	mu      sync.Mutex
	streams map[string]bool
}

var _ broker.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher on nc.
func NewPublisher(nc *nats.Conn) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Publisher{js: js, streams: make(map[string]bool)}, nil
}

// Publish sends msgs one by one and waits for each publish ack.
func (p *Publisher) Publish(ctx context.Context, topic string, msgs ...broker.Message) error {
	if err := p.ensure(topic); err != nil {
		return err
	}
	for _, m := range msgs {
		out := nats.NewMsg(topic)
		out.Data = m.Value
		out.Header.Set(KeyHeader, string(m.Key))
		if _, err := p.js.PublishMsg(out, nats.Context(ctx)); err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) {
				return broker.ErrClosed
			}
			return fmt.Errorf("jetstream publish: %w", err)
		}
	}
	return nil
}

func (p *Publisher) ensure(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streams[topic] {
		return nil
	}
	if err := ensureStream(p.js, topic); err != nil {
		return err
	}
	p.streams[topic] = true
	return nil
}

// Close is a no-op; the connection is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber pulls from a durable consumer.
type Subscriber struct {
	sub *nats.Subscription
}

var _ broker.Subscriber = (*Subscriber)(nil)

// NewSubscriber binds to the durable consumer named group on topic's
// stream, creating stream and consumer when missing. An existing consumer
// whose ack wait or pending limit differs is updated in place. ackWait <= 0
// selects 60s; an unacked message is redelivered after that long.
func NewSubscriber(nc *nats.Conn, group, topic string, ackWait time.Duration) (*Subscriber, error) {
	if ackWait <= 0 {
		ackWait = defaultAckWait
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js, topic); err != nil {
		return nil, err
	}

	stream := StreamName(topic)
	want := consumerConfig(group, topic, ackWait)
	info, err := js.ConsumerInfo(stream, group)
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
		// Created here rather than by PullSubscribe so that Unsubscribe
		// leaves the durable consumer and its ack floor in place.
		if _, err := js.AddConsumer(stream, want); err != nil {
			return nil, fmt.Errorf("create consumer %s/%s: %w", stream, group, err)
		}
	case err != nil:
		return nil, fmt.Errorf("consumer info %s/%s: %w", stream, group, err)
	case needsUpdate(info.Config, want):
		slog.Info("updating NATS consumer", "stream", stream, "consumer", group,
			"ack_wait", want.AckWait, "previous_ack_wait", info.Config.AckWait)
		if _, err := js.UpdateConsumer(stream, want); err != nil {
			return nil, fmt.Errorf("update consumer %s/%s: %w", stream, group, err)
		}
	}

	sub, err := js.PullSubscribe(topic, group, nats.Bind(stream, group), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", topic, err)
	}
	return &Subscriber{sub: sub}, nil
}

func consumerConfig(group, topic string, ackWait time.Duration) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:       group,
		FilterSubject: topic,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckWait:       ackWait,
		MaxAckPending: 1,
	}
}

// needsUpdate reports whether an existing durable consumer has drifted from
// the settings this process needs. Only fields JetStream lets an update
// change are compared.
func needsUpdate(have nats.ConsumerConfig, want *nats.ConsumerConfig) bool {
	return have.AckWait != want.AckWait || have.MaxAckPending != want.MaxAckPending
}

// Fetch pulls one message, polling until ctx is done.
func (s *Subscriber) Fetch(ctx context.Context) (broker.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return broker.Message{}, err
		}

		pollCtx, cancel := context.WithTimeout(ctx, fetchPollTimeout)
		msgs, err := s.sub.Fetch(1, nats.Context(pollCtx))
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
				return broker.Message{}, broker.ErrClosed
			default:
				return broker.Message{}, fmt.Errorf("jetstream fetch: %w", err)
			}
		}
		if len(msgs) == 0 {
			continue
		}

		m := msgs[0]
		out := broker.Message{
			Topic: m.Subject,
			Key:   []byte(m.Header.Get(KeyHeader)),
			Value: m.Data,
			Raw:   m,
		}
		if meta, err := m.Metadata(); err == nil {
			out.Offset = int64(meta.Sequence.Stream)
		}
		return out, nil
	}
}

// Commit acks msg.
func (s *Subscriber) Commit(ctx context.Context, msg broker.Message) error {
	m, ok := msg.Raw.(*nats.Msg)
	if !ok {
		return fmt.Errorf("jetstream commit: message was not fetched from NATS")
	}
	if err := m.Ack(nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream ack: %w", err)
	}
	return nil
}

// Close unsubscribes. The durable consumer keeps its position.
func (s *Subscriber) Close() error {
	return s.sub.Unsubscribe()
}
