// Package payload defines the JSON documents the bridge publishes to the broker.
//
// Two document shapes exist:
//   - Config: a Home Assistant MQTT discovery document describing one sensor
//   - State: the current value of that sensor with a last-seen timestamp
//
// # Wire Format
//
// Documents are encoded as plain JSON objects without a type tag. Optional
// Config fields are pointers (or nil-able collections) and are omitted from
// the wire form when unset.
//
// Decode recovers the variant from shape alone. It inspects the key set of
// the raw object and tries each known shape in a fixed order:
//
//  1. Config: name, device, unique_id, entity_id, state_topic, expires_after
//  2. State:  value, last_seen
//
// The first shape whose required keys are all present wins.
//
// # Usage
//
//	cfg := payload.Config{Name: "pzem016-101-voltage", ...}
//	data, err := payload.Encode(cfg)
//
//	doc, err := payload.Decode(data)
//	switch d := doc.(type) {
//	case payload.Config:
//	case payload.State:
//	}
package payload
