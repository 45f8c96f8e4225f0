package natsjs

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamName(t *testing.T) {
	tests := map[string]string{
		"zap-events":  "ZAP_EVENTS",
		"a.b":         "A_B",
		"plain":       "PLAIN",
		"with space*": "WITH_SPACE_",
	}
	for in, want := range tests {
		assert.Equal(t, want, StreamName(in), in)
	}
}

func TestConsumerConfig(t *testing.T) {
	cfg := consumerConfig("main-worker", "zap-events", 90*time.Second)
	assert.Equal(t, "main-worker", cfg.Durable)
	assert.Equal(t, "zap-events", cfg.FilterSubject)
	assert.Equal(t, nats.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, 90*time.Second, cfg.AckWait)
	assert.Equal(t, 1, cfg.MaxAckPending)
}

func TestNeedsUpdate(t *testing.T) {
	want := consumerConfig("main-worker", "zap-events", 2*time.Minute)

	tests := []struct {
		name string
		have nats.ConsumerConfig
		want bool
	}{
		{"same settings", *consumerConfig("main-worker", "zap-events", 2*time.Minute), false},
		{"ack wait changed", *consumerConfig("main-worker", "zap-events", time.Minute), true},
		{"pending limit changed", nats.ConsumerConfig{AckWait: 2 * time.Minute, MaxAckPending: 1000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsUpdate(tt.have, want))
		})
	}
}
