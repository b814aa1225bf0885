package ipc

import (
	"context"
	"sync"
)

// Sender is the producing side of a queue.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	TrySend(msg Message) error
}

// Queue is a bounded point-to-point queue with one logical receiver.
//
// A full queue blocks Send until space frees up, the context ends, or the
// receiver detaches. The receiver calls Detach when it exits so that
// producers observe ErrDisconnected instead of blocking forever.
type Queue struct {
	name string
	ch   chan Message

	gone     chan struct{}
	goneOnce sync.Once
}

// NewQueue creates a queue holding up to capacity messages.
func NewQueue(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		name: name,
		ch:   make(chan Message, capacity),
		gone: make(chan struct{}),
	}
}

// Name returns the queue name used in logs and metrics.
func (q *Queue) Name() string { return q.name }

// Send enqueues msg, waiting while the queue is full.
func (q *Queue) Send(ctx context.Context, msg Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if q.detached() {
		return ErrDisconnected
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.gone:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues msg without waiting.
func (q *Queue) TrySend(msg Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if q.detached() {
		return ErrDisconnected
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Receive returns the channel the receiver reads from.
func (q *Queue) Receive() <-chan Message { return q.ch }

// TryReceive returns the next message if one is queued.
func (q *Queue) TryReceive() (Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return nil, false
	}
}

// Detach marks the receiver as gone. Safe to call more than once.
func (q *Queue) Detach() {
	q.goneOnce.Do(func() { close(q.gone) })
}

// Detached returns a channel closed once the receiver has detached.
func (q *Queue) Detached() <-chan struct{} { return q.gone }

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

func (q *Queue) detached() bool {
	select {
	case <-q.gone:
		return true
	default:
		return false
	}
}
