package kafka

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atif-27/AutoChain/internal/broker"
)

func TestPublisher_EmptyPublishIsNoop(t *testing.T) {
	p := NewPublisher([]string{"127.0.0.1:1"})
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), "zap-events"))
}

func TestPublisher_UsesHashBalancer(t *testing.T) {
	p := NewPublisher([]string{"127.0.0.1:1"})
	defer p.Close()

	_, ok := p.w.Balancer.(*kafkago.Hash)
	assert.True(t, ok, "messages of one run must hash to one partition")
}

// TestRoundTrip runs against a real cluster when AUTOCHAIN_TEST_KAFKA is set,
// e.g. AUTOCHAIN_TEST_KAFKA=localhost:9092.
func TestRoundTrip(t *testing.T) {
	addr := os.Getenv("AUTOCHAIN_TEST_KAFKA")
	if addr == "" {
		t.Skip("AUTOCHAIN_TEST_KAFKA not set")
	}
	brokers := strings.Split(addr, ",")
	topic := "autochain-test-" + time.Now().Format("150405.000000")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p := NewPublisher(brokers)
	defer p.Close()
	require.NoError(t, p.Publish(ctx, topic,
		broker.Message{Key: []byte("run-1"), Value: []byte("0")},
		broker.Message{Key: []byte("run-1"), Value: []byte("1")},
	))

	s := NewSubscriber(brokers, "autochain-test", topic)
	defer s.Close()
	for _, want := range []string{"0", "1"} {
		m, err := s.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(m.Value))
		require.NoError(t, s.Commit(ctx, m))
	}
}
