package collector

import "errors"

// Collector errors. Use errors.Is() to check for them.
var (
	// ErrSweepFailed is returned when no device could be read in a sweep.
	ErrSweepFailed = errors.New("collector: every device read failed")

	// ErrBusSend is returned when a document could not be handed to the bus.
	ErrBusSend = errors.New("collector: bus send failed")

	// ErrNoSource is returned by New without a DataSource.
	ErrNoSource = errors.New("collector: data source is required")

	// ErrNoDevices is returned by New with an empty device list.
	ErrNoDevices = errors.New("collector: no devices configured")

	// ErrShortResponse is returned when a meter answers with fewer registers than requested.
	ErrShortResponse = errors.New("collector: short register response")

	// ErrGatewayUnavailable is returned when a gateway cannot be opened.
	ErrGatewayUnavailable = errors.New("collector: gateway unavailable")
)
