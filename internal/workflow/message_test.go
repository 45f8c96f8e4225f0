package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageMessage_Encode(t *testing.T) {
	data, err := StageMessage{RunID: "run-1", Stage: 0}.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"stage":0,"zapRunId":"run-1"}`, string(data))
}

func TestStageMessage_RoundTripThroughDecode(t *testing.T) {
	msg := StageMessage{RunID: "0192f0c3-7d1e-7000-8000-000000000001", Stage: 3}
	data, err := msg.Encode()
	require.NoError(t, err)

	got, err := DecodeStageMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestStageMessage_NextKeepsRun(t *testing.T) {
	msg := StageMessage{RunID: "run-7", Stage: 1}
	next := msg.Next()

	assert.Equal(t, "run-7", next.RunID)
	assert.Equal(t, 2, next.Stage)
	assert.Equal(t, msg.Key(), next.Key())
}

func TestDecodeStageMessage_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `run-1`},
		{"bare run id string", `"run-1"`},
		{"missing run id", `{"stage":0}`},
		{"empty run id", `{"zapRunId":"","stage":0}`},
		{"missing stage", `{"zapRunId":"run-1"}`},
		{"negative stage", `{"zapRunId":"run-1","stage":-1}`},
		{"string stage", `{"zapRunId":"run-1","stage":"0"}`},
		{"unknown field", `{"zapRunId":"run-1","stage":0,"extra":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStageMessage([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestZap_ActionAt(t *testing.T) {
	zap := Zap{Actions: []Action{
		{ID: "a0", SortingOrder: 0},
		{ID: "a1", SortingOrder: 1},
	}}

	a, ok := zap.ActionAt(1)
	require.True(t, ok)
	assert.Equal(t, "a1", a.ID)

	_, ok = zap.ActionAt(2)
	assert.False(t, ok)
	_, ok = zap.ActionAt(-1)
	assert.False(t, ok)

	assert.Equal(t, 2, zap.StageCount())
	assert.False(t, zap.IsLastStage(0))
	assert.True(t, zap.IsLastStage(1))
}
