package ipc

import "errors"

// Bus errors. Use errors.Is to check for them.
var (
	// ErrDisconnected is returned when sending to a queue whose receiver has gone away.
	ErrDisconnected = errors.New("ipc: receiver disconnected")

	// ErrFull is returned by TrySend when the queue has no free slot.
	ErrFull = errors.New("ipc: queue full")

	// ErrNilMessage is returned when a nil Message is sent.
	ErrNilMessage = errors.New("ipc: nil message")
)
