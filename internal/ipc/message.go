package ipc

import (
	"github.com/nerrad567/pzem016-mqtt/internal/payload"
)

// Message is a value carried on the bus. It is a closed set: only the
// variants declared in this file implement it.
type Message interface {
	isMessage()
}

// Outbound is a document to be delivered to the broker.
type Outbound struct {
	Topic   string
	Payload payload.Payload
}

// Inbound is a message received from the broker.
type Inbound struct {
	Topic   string
	Payload []byte
}

// PleaseReconnect asks for the broker session to be re-established.
type PleaseReconnect struct {
	Reason string
	Detail string
}

// Error is a non-fatal error report.
type Error struct {
	Source string
	Detail string
}

// Shutdown tells the receiving task to stop processing and return.
type Shutdown struct{}

func (Outbound) isMessage()        {}
func (Inbound) isMessage()         {}
func (PleaseReconnect) isMessage() {}
func (Error) isMessage()           {}
func (Shutdown) isMessage()        {}

// KindOf returns a short label for m, used in logs and metrics.
func KindOf(m Message) string {
	switch m.(type) {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	case PleaseReconnect:
		return "please_reconnect"
	case Error:
		return "error"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
