package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Atif-27/AutoChain/internal/canonical"
)

// DefaultTopic is the broker topic carrying stage messages.
const DefaultTopic = "zap-events"

// ErrMalformedMessage is returned when a broker value is not a stage message.
var ErrMalformedMessage = errors.New("malformed stage message")

// StageMessage is the unit of work on the broker: execute stage Stage of
// run RunID. It is never persisted.
type StageMessage struct {
	RunID string `json:"zapRunId"`
	Stage int    `json:"stage"`
}

// Key is the broker partition key. All messages of a run share it so the
// broker keeps them on one partition, in order.
func (m StageMessage) Key() []byte {
	return []byte(m.RunID)
}

// Next returns the message for the following stage of the same run.
func (m StageMessage) Next() StageMessage {
	return StageMessage{RunID: m.RunID, Stage: m.Stage + 1}
}

// Encode serializes the message as canonical JSON:
// {"stage":0,"zapRunId":"..."}.
func (m StageMessage) Encode() ([]byte, error) {
	return canonical.Marshal(map[string]any{
		"zapRunId": m.RunID,
		"stage":    m.Stage,
	})
}

// DecodeStageMessage parses a broker value. Unknown fields are rejected,
// as are missing run ids and negative stages.
func DecodeStageMessage(data []byte) (StageMessage, error) {
	var raw struct {
		RunID *string `json:"zapRunId"`
		Stage *int    `json:"stage"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return StageMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.RunID == nil || *raw.RunID == "" {
		return StageMessage{}, fmt.Errorf("%w: missing zapRunId", ErrMalformedMessage)
	}
	if raw.Stage == nil {
		return StageMessage{}, fmt.Errorf("%w: missing stage", ErrMalformedMessage)
	}
	if *raw.Stage < 0 {
		return StageMessage{}, fmt.Errorf("%w: negative stage %d", ErrMalformedMessage, *raw.Stage)
	}
	return StageMessage{RunID: *raw.RunID, Stage: *raw.Stage}, nil
}
