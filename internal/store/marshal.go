package store

import (
	"encoding/json"
	"fmt"

	"github.com/Atif-27/AutoChain/internal/canonical"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// marshalPayload converts a run payload to JSON TEXT for storage. The
// snapshot is written as received: no key or string normalisation, and
// json.Number values keep their literal text.
func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := workflow.EncodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored JSON, keeping numbers as json.Number.
func unmarshalPayload(data string) (map[string]any, error) {
	if data == "null" {
		return map[string]any{}, nil
	}
	payload, err := workflow.DecodePayload([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return payload, nil
}

// marshalActionMetadata converts action parameters to canonical JSON TEXT.
func marshalActionMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := canonical.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal action metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalActionMetadata(data string) (map[string]string, error) {
	var meta map[string]string
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal action metadata: %w", err)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	return meta, nil
}
