package supervisor

import "errors"

// Supervisor errors. Use errors.Is() to check for them.
var (
	// ErrShutdownTimeout is returned when tasks do not stop within the
	// shutdown timeout.
	ErrShutdownTimeout = errors.New("supervisor: tasks did not stop in time")

	// ErrBrokerExited is returned when the broker task stops while the
	// process is still running.
	ErrBrokerExited = errors.New("supervisor: broker task exited")

	// ErrRestartBudgetExhausted is returned when the collector fails more
	// often than the restart policy allows.
	ErrRestartBudgetExhausted = errors.New("supervisor: restart budget exhausted")

	// ErrForwardFailed is returned when an outbound message cannot be
	// handed to the broker queue.
	ErrForwardFailed = errors.New("supervisor: forwarding to broker failed")

	// ErrNoCollector is returned by New without a collector.
	ErrNoCollector = errors.New("supervisor: collector is required")

	// ErrNoBroker is returned by New without a broker factory.
	ErrNoBroker = errors.New("supervisor: broker factory is required")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("supervisor: already running")
)
