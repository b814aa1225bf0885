// Package supervisor runs the bridge's two tasks and the bus between them.
//
// The supervisor creates the bus, spawns the broker task and one collector
// incarnation, then loops on a single select:
//
//   - root context cancelled: broadcast Shutdown, queue a Shutdown for the
//     broker, wait for both tasks up to the shutdown timeout
//   - broker task finished: fatal
//   - collector finished: consult the RestartPolicy and either schedule a
//     replacement after a back-off delay or escalate
//   - restart timer fired: spawn the replacement on the same queue
//   - message from the collector: forward Outbound to the broker queue,
//     log and count Error reports
//   - message from the broker: hand Inbound to the configured handler
//
// Only the collector is restarted. A replacement is spawned only after the
// previous incarnation's handle reports finished, so at most one collector
// runs at any time.
//
// # Restart policy
//
// Failures within Window count against MaxFailures. The delay doubles from
// InitialDelay up to MaxDelay. An incarnation that ran for StableAfter
// clears the history before its own failure is counted.
package supervisor
