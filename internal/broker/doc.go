// Package broker implements the task that owns the MQTT session.
//
// The task runs two loops. The event pump polls the Session and keeps the
// PendingSet of unacknowledged packet identifiers current, forwarding
// incoming publishes onto the bus. The outer loop takes Outbound messages
// from the bus, encodes them and publishes with a bounded wait. A publish
// that does not complete in time is logged and dropped; it is never retried.
//
// Shutdown is observed from the root context, the shutdown broadcast, or a
// Shutdown message on the outbound queue, and is checked before every
// outbound message so queued work never delays it.
package broker
