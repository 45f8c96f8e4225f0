package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atif-27/AutoChain/internal/broker"
	"github.com/Atif-27/AutoChain/internal/broker/memory"
	"github.com/Atif-27/AutoChain/internal/mailer"
)

func TestRecordingMailer_FailsThenRecords(t *testing.T) {
	m := &RecordingMailer{Failures: 1}
	ctx := context.Background()

	require.ErrorIs(t, m.Send(ctx, mailer.Email{To: []string{"a@b.com"}}), ErrInjected)
	require.NoError(t, m.Send(ctx, mailer.Email{To: []string{"a@b.com"}, Body: "hi"}))

	assert.Equal(t, 2, m.Attempts())
	require.Len(t, m.Sent(), 1)
	assert.Equal(t, "hi", m.Sent()[0].Body)
}

func TestRecordingMailer_CancelledContext(t *testing.T) {
	m := &RecordingMailer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, m.Send(ctx, mailer.Email{}), context.Canceled)
	assert.Zero(t, m.Attempts())
}

func TestFlakyPublisher(t *testing.T) {
	b := memory.NewBroker(1)
	p := &FlakyPublisher{Inner: b, Failures: 2}
	ctx := context.Background()
	msg := broker.Message{Key: []byte("k"), Value: []byte("v")}

	require.ErrorIs(t, p.Publish(ctx, "t", msg), ErrInjected)
	require.ErrorIs(t, p.Publish(ctx, "t", msg), ErrInjected)
	require.NoError(t, p.Publish(ctx, "t", msg))

	assert.Equal(t, 3, p.Calls())
	assert.Len(t, b.Messages("t"), 1)
}

func TestSeedRun_WritesRunAndMarker(t *testing.T) {
	s := OpenStore(t)
	zap := SeedZap(t, s, EmailZap("zap-1", "user-1", "Hi {name}"))
	require.Len(t, zap.Actions, 1)
	assert.Equal(t, "email", zap.Actions[0].TypeID)

	SeedRun(t, s, "run-1", "zap-1", map[string]any{"email": "a@b.com"})

	relays, err := s.PendingRelaysForRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, relays, 1)
	assert.Equal(t, "relay-run-1", relays[0].ID)
}
