// Package collector polls PZEM-016 energy meters and turns every reading
// into Home Assistant MQTT discovery and state documents on the bus.
//
// A sweep reads each configured device once, in order. For every device
// that answers, the collector sends one state document per metric, each
// preceded by its discovery document when the sweep is announcing. A
// device that fails is logged and reported as a non-fatal ipc.Error; a
// sweep in which every device fails ends the incarnation with
// ErrSweepFailed so the supervisor can restart it.
//
// # Metrics
//
//	volts         V    voltage       measurement
//	current       A    current       measurement
//	power         W    power         measurement
//	energy        Wh   energy        total_increasing
//	frequency     Hz   frequency     measurement
//	power_factor  -    power_factor  measurement
//
// # Transport
//
// PZEMSource talks Modbus RTU over TCP to serial gateways, reading input
// registers 0x0000..0x0009 of each unit. Every gateway has its own
// connection, lock and circuit breaker, so one dead gateway does not
// stall the others.
package collector
