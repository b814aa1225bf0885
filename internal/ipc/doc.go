// Package ipc provides the in-process message bus connecting the bridge tasks.
//
// Point-to-point traffic uses bounded Queues: a full queue applies
// back-pressure to Send, and a queue whose receiver has detached fails fast
// with ErrDisconnected. Control traffic uses a Broadcast, where every
// subscriber sees each message unless its own buffer has overflowed.
package ipc
