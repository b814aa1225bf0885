package broker

import "errors"

// Task errors. Use errors.Is() to check for them.
var (
	// ErrPollFailed is returned when the session stops delivering events.
	ErrPollFailed = errors.New("broker: event poll failed")

	// ErrEventPumpExited is returned when the event pump stops while the
	// task is still running.
	ErrEventPumpExited = errors.New("broker: event pump exited")

	// ErrNoSession is returned by NewTask when no session is supplied.
	ErrNoSession = errors.New("broker: session is required")

	// ErrNoQueue is returned by NewTask when a bus end is missing.
	ErrNoQueue = errors.New("broker: outbound and inbound queues are required")
)
