// Package memory is an in-process broker with keyed partitions, consumer
// group offsets and manual commit. A subscriber that closes without
// committing leaves its messages to be redelivered to the next subscriber
// of the same group, the same way a Kafka consumer restart would.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/Atif-27/AutoChain/internal/broker"
)

// DefaultPartitions is the partition count of topics created by NewBroker(0).
const DefaultPartitions = 4

// Broker holds topics, their partition logs and committed group offsets.
//
// Thread-safety: all methods are safe for concurrent use.
type Broker struct {
	mu         sync.Mutex
	partitions int
	topics     map[string][][]broker.Message
	committed  map[string]map[string][]int64 // group -> topic -> next offset per partition
	history    []broker.Message
	closed     bool

	// signal is closed and replaced on every publish so that all waiting
	// subscribers wake up.
	signal chan struct{}
}

// NewBroker creates a broker whose topics have the given partition count.
// partitions <= 0 selects DefaultPartitions.
func NewBroker(partitions int) *Broker {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	return &Broker{
		partitions: partitions,
		topics:     make(map[string][][]broker.Message),
		committed:  make(map[string]map[string][]int64),
		signal:     make(chan struct{}),
	}
}

// Partitions returns the partition count per topic.
func (b *Broker) Partitions() int {
	return b.partitions
}

// PartitionFor returns the partition a key is routed to.
func (b *Broker) PartitionFor(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(b.partitions))
}

// Publish appends msgs to topic. Each message lands on the partition of
// its key and receives the next offset of that partition.
func (b *Broker) Publish(ctx context.Context, topic string, msgs ...broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClosed
	}

	logs := b.topicLocked(topic)
	for _, m := range msgs {
		p := b.PartitionFor(m.Key)
		m.Topic = topic
		m.Partition = p
		m.Offset = int64(len(logs[p]))
		m.Key = append([]byte(nil), m.Key...)
		m.Value = append([]byte(nil), m.Value...)
		m.Raw = nil
		logs[p] = append(logs[p], m)
		b.history = append(b.history, m)
	}

	close(b.signal)
	b.signal = make(chan struct{})
	return nil
}

// Subscribe joins group on topic. Consumption starts at the group's
// committed offsets.
func (b *Broker) Subscribe(group, topic string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.topicLocked(topic)
	offsets := b.groupOffsetsLocked(group, topic)
	pos := make([]int64, len(offsets))
	copy(pos, offsets)

	return &Subscriber{
		broker:   b,
		group:    group,
		topic:    topic,
		position: pos,
		done:     make(chan struct{}),
	}
}

// Messages returns every message ever published to topic in publish order.
func (b *Broker) Messages(topic string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []broker.Message
	for _, m := range b.history {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Committed returns the next offset group will read on each partition of topic.
func (b *Broker) Committed(group, topic string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	offsets := b.groupOffsetsLocked(group, topic)
	out := make([]int64, len(offsets))
	copy(out, offsets)
	return out
}

// Lag returns how many messages of topic group has not committed yet.
func (b *Broker) Lag(group, topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs := b.topicLocked(topic)
	offsets := b.groupOffsetsLocked(group, topic)
	var lag int64
	for p := range logs {
		lag += int64(len(logs[p])) - offsets[p]
	}
	return lag
}

// Close stops the broker. Publish and Fetch return broker.ErrClosed afterwards.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.signal)
	return nil
}

func (b *Broker) topicLocked(topic string) [][]broker.Message {
	logs, ok := b.topics[topic]
	if !ok {
		logs = make([][]broker.Message, b.partitions)
		b.topics[topic] = logs
	}
	return logs
}

func (b *Broker) groupOffsetsLocked(group, topic string) []int64 {
	topics, ok := b.committed[group]
	if !ok {
		topics = make(map[string][]int64)
		b.committed[group] = topics
	}
	offsets, ok := topics[topic]
	if !ok {
		offsets = make([]int64, b.partitions)
		topics[topic] = offsets
	}
	return offsets
}

// Subscriber is one consumer of a group. It keeps its own read position,
// separate from the group's committed offsets.
type Subscriber struct {
	broker *Broker
	group  string
	topic  string

	mu       sync.Mutex
	position []int64
	next     int // partition to try first, rotated for fairness
	closed   bool
	done     chan struct{}
}

var _ broker.Subscriber = (*Subscriber)(nil)
var _ broker.Publisher = (*Broker)(nil)

// Fetch returns the next unread message, blocking until one is published,
// ctx is done or the subscriber is closed.
func (s *Subscriber) Fetch(ctx context.Context) (broker.Message, error) {
	for {
		msg, wait, err := s.tryFetch()
		if err != nil {
			return broker.Message{}, err
		}
		if wait == nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return broker.Message{}, ctx.Err()
		case <-s.done:
			return broker.Message{}, broker.ErrClosed
		case <-wait:
		}
	}
}

// tryFetch returns a message, or a channel to wait on when nothing is ready.
func (s *Subscriber) tryFetch() (broker.Message, <-chan struct{}, error) {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || b.closed {
		return broker.Message{}, nil, broker.ErrClosed
	}

	logs := b.topics[s.topic]
	for i := 0; i < len(logs); i++ {
		p := (s.next + i) % len(logs)
		if s.position[p] < int64(len(logs[p])) {
			msg := logs[p][s.position[p]]
			s.position[p]++
			s.next = (p + 1) % len(logs)
			return msg, nil, nil
		}
	}
	return broker.Message{}, b.signal, nil
}

// Commit advances the group's offset on msg's partition past msg.
// Committing an older offset than the current one is a no-op.
func (s *Subscriber) Commit(ctx context.Context, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Topic != s.topic {
		return fmt.Errorf("commit: message from topic %q on subscriber of %q", msg.Topic, s.topic)
	}

	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || b.closed {
		return broker.ErrClosed
	}

	offsets := b.groupOffsetsLocked(s.group, s.topic)
	if msg.Partition < 0 || msg.Partition >= len(offsets) {
		return fmt.Errorf("commit: partition %d out of range", msg.Partition)
	}
	if next := msg.Offset + 1; next > offsets[msg.Partition] {
		offsets[msg.Partition] = next
	}
	return nil
}

// Close leaves the group. Uncommitted messages stay available to the
// group's next subscriber.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
