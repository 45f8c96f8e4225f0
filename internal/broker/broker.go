// Package broker abstracts the ordered-per-key message channel between the
// outbox relay, the stage executor and the stage executor itself.
//
// Publishers route every message with the same Key to the same partition,
// so messages of one run are consumed in publish order. Subscribers use
// manual commit: a message is redelivered to the consumer group until the
// consumer commits it.
//
// Implementations: memory (in-process, tests and single-process mode),
// kafka (segmentio/kafka-go) and natsjs (NATS JetStream).
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed publisher or subscriber.
var ErrClosed = errors.New("broker closed")

// Message is one record on a topic.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64

	// Raw holds the implementation's own message value for Commit.
	// Callers treat it as opaque.
	Raw any
}

// Publisher writes messages to a topic.
type Publisher interface {
	// Publish writes msgs to topic. It returns nil only after the broker has
	// accepted every message.
	Publish(ctx context.Context, topic string, msgs ...Message) error
	Close() error
}

// Subscriber reads a topic as a member of a consumer group.
type Subscriber interface {
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (Message, error)
	// Commit marks msg and everything before it on its partition as consumed.
	Commit(ctx context.Context, msg Message) error
	Close() error
}
