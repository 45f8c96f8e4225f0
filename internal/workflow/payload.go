package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayloadNotObject is returned when a payload is not a JSON object.
var ErrPayloadNotObject = errors.New("payload must be a JSON object")

// EncodePayload renders a payload value as compact JSON without changing
// it: keys and strings keep their bytes, json.Number keeps its literal
// text and HTML characters are not escaped.
//
// Run snapshots are stored with this encoding rather than the canonical
// one, which normalises strings and reformats numbers.
func EncodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodePayload parses a single JSON object, keeping numbers as
// json.Number.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode payload: trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrPayloadNotObject
	}
	return obj, nil
}
