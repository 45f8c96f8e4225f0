package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atif-27/AutoChain/internal/broker"
)

func publish(t *testing.T, b *Broker, key, value string) {
	t.Helper()
	err := b.Publish(context.Background(), "events", broker.Message{Key: []byte(key), Value: []byte(value)})
	require.NoError(t, err)
}

func fetch(t *testing.T, s *Subscriber) broker.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := s.Fetch(ctx)
	require.NoError(t, err)
	return msg
}

func TestBroker_SameKeySamePartitionInOrder(t *testing.T) {
	b := NewBroker(8)
	for i := 0; i < 5; i++ {
		publish(t, b, "run-1", fmt.Sprintf("v%d", i))
	}

	msgs := b.Messages("events")
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, msgs[0].Partition, m.Partition)
		assert.Equal(t, int64(i), m.Offset)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(m.Value))
	}
}

func TestBroker_FetchOrderPerKey(t *testing.T) {
	b := NewBroker(4)
	for i := 0; i < 3; i++ {
		publish(t, b, "run-a", fmt.Sprintf("a%d", i))
		publish(t, b, "run-b", fmt.Sprintf("b%d", i))
	}

	sub := b.Subscribe("workers", "events")
	seen := map[string][]string{}
	for i := 0; i < 6; i++ {
		m := fetch(t, sub)
		seen[string(m.Key)] = append(seen[string(m.Key)], string(m.Value))
		require.NoError(t, sub.Commit(context.Background(), m))
	}
	assert.Equal(t, []string{"a0", "a1", "a2"}, seen["run-a"])
	assert.Equal(t, []string{"b0", "b1", "b2"}, seen["run-b"])
	assert.Zero(t, b.Lag("workers", "events"))
}

func TestBroker_UncommittedRedeliveredToNextSubscriber(t *testing.T) {
	b := NewBroker(1)
	publish(t, b, "run-1", "first")
	publish(t, b, "run-1", "second")

	sub := b.Subscribe("workers", "events")
	m := fetch(t, sub)
	assert.Equal(t, "first", string(m.Value))
	require.NoError(t, sub.Commit(context.Background(), m))

	m = fetch(t, sub)
	assert.Equal(t, "second", string(m.Value))
	// Crash before commit.
	require.NoError(t, sub.Close())

	restarted := b.Subscribe("workers", "events")
	m = fetch(t, restarted)
	assert.Equal(t, "second", string(m.Value), "uncommitted message must be redelivered")
}

func TestBroker_GroupsAreIndependent(t *testing.T) {
	b := NewBroker(1)
	publish(t, b, "k", "v")

	a := b.Subscribe("group-a", "events")
	require.NoError(t, a.Commit(context.Background(), fetch(t, a)))

	other := b.Subscribe("group-b", "events")
	assert.Equal(t, "v", string(fetch(t, other).Value))
}

func TestBroker_FetchBlocksUntilPublish(t *testing.T) {
	b := NewBroker(2)
	sub := b.Subscribe("workers", "events")

	got := make(chan broker.Message, 1)
	go func() {
		m, err := sub.Fetch(context.Background())
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(20 * time.Millisecond)
	publish(t, b, "k", "late")

	select {
	case m := <-got:
		assert.Equal(t, "late", string(m.Value))
	case <-time.After(time.Second):
		t.Fatal("Fetch did not wake up after publish")
	}
}

func TestBroker_FetchRespectsContext(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("workers", "events")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroker_CloseUnblocksFetch(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("workers", "events")

	errs := make(chan error, 1)
	go func() {
		_, err := sub.Fetch(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, broker.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Fetch did not return after Close")
	}
}

func TestBroker_PublishAfterClose(t *testing.T) {
	b := NewBroker(1)
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "events", broker.Message{Key: []byte("k")})
	assert.ErrorIs(t, err, broker.ErrClosed)
}

func TestBroker_CommitIsMonotonic(t *testing.T) {
	b := NewBroker(1)
	publish(t, b, "k", "0")
	publish(t, b, "k", "1")

	sub := b.Subscribe("workers", "events")
	m0 := fetch(t, sub)
	m1 := fetch(t, sub)
	require.NoError(t, sub.Commit(context.Background(), m1))
	require.NoError(t, sub.Commit(context.Background(), m0))

	assert.Equal(t, []int64{2}, b.Committed("workers", "events"))
}

func TestBroker_CommitRejectsForeignTopic(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("workers", "events")

	err := sub.Commit(context.Background(), broker.Message{Topic: "other"})
	require.Error(t, err)
}
