package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownShape is returned by Decode when the object matches no known document.
	ErrUnknownShape = errors.New("payload: document matches no known shape")

	// ErrNilPayload is returned by Encode for a nil Payload.
	ErrNilPayload = errors.New("payload: nil payload")
)

// shape is one entry of the structural discriminator.
type shape struct {
	name     string
	required []string
	decode   func([]byte) (Payload, error)
}

// shapes are tried in order; the first whose required keys are all present wins.
var shapes = []shape{
	{
		name:     "config",
		required: []string{"name", "device", "unique_id", "entity_id", "state_topic", "expires_after"},
		decode: func(data []byte) (Payload, error) {
			var c Config
			if err := strictUnmarshal(data, &c); err != nil {
				return nil, err
			}
			return c, nil
		},
	},
	{
		name:     "state",
		required: []string{"value", "last_seen"},
		decode: func(data []byte) (Payload, error) {
			var s State
			if err := strictUnmarshal(data, &s); err != nil {
				return nil, err
			}
			return s, nil
		},
	},
}

// Encode serialises a document to its untagged JSON form.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

// Decode picks the document variant from the object's key set and decodes it.
func Decode(data []byte) (Payload, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decoding payload object: %w", err)
	}

	for _, s := range shapes {
		if !hasAll(keys, s.required) {
			continue
		}
		p, err := s.decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", s.name, err)
		}
		return p, nil
	}

	return nil, ErrUnknownShape
}

// ShapeOf returns the name of the shape data matches, or "" if none.
func ShapeOf(data []byte) string {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return ""
	}
	for _, s := range shapes {
		if hasAll(keys, s.required) {
			return s.name
		}
	}
	return ""
}

func hasAll(keys map[string]json.RawMessage, required []string) bool {
	for _, k := range required {
		if _, ok := keys[k]; !ok {
			return false
		}
	}
	return true
}

// strictUnmarshal rejects keys the target does not declare, so a State
// carrying Config keys cannot silently decode.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
