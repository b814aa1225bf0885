package broker

import (
	"context"
	"time"
)

// EventKind identifies a session event.
type EventKind int

const (
	// EventConnAck is emitted when the session (re)connects.
	EventConnAck EventKind = iota + 1
	// EventOutgoingPublish is emitted once a publish has been handed to the
	// network with a packet identifier.
	EventOutgoingPublish
	// EventPubAck is emitted when the broker acknowledges a QoS 1 publish.
	EventPubAck
	// EventIncomingPublish carries a message from a subscription.
	EventIncomingPublish
	// EventConnectionLost is emitted when the network connection drops.
	EventConnectionLost
	// EventReconnecting is emitted before each reconnect attempt.
	EventReconnecting
	// EventPublishFailed is emitted when a tracked publish completes with an
	// error and will never be acknowledged.
	EventPublishFailed
)

// String returns the event kind label.
func (k EventKind) String() string {
	switch k {
	case EventConnAck:
		return "connack"
	case EventOutgoingPublish:
		return "outgoing_publish"
	case EventPubAck:
		return "puback"
	case EventIncomingPublish:
		return "incoming_publish"
	case EventConnectionLost:
		return "connection_lost"
	case EventReconnecting:
		return "reconnecting"
	case EventPublishFailed:
		return "publish_failed"
	default:
		return "unknown"
	}
}

// Event is one observation from the broker session.
type Event struct {
	Kind     EventKind
	PacketID uint16
	Topic    string
	Payload  []byte
	Err      error
	At       time.Time
}

// Session is a connected broker session.
//
// Publish hands a message to the session and waits at most until ctx ends.
// Poll blocks until the next event, ctx ends, or the session fails; a
// non-nil error from Poll means the session can no longer deliver events.
type Session interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Poll(ctx context.Context) (Event, error)
	Disconnect()
}
