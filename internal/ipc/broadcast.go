package ipc

import (
	"sync"
	"sync/atomic"
)

// Broadcast fans a message out to every subscriber.
//
// Each subscriber has its own bounded buffer. Publish never blocks: a
// subscriber whose buffer is full misses the message and its drop counter
// is incremented. A slow subscriber therefore cannot starve the others.
type Broadcast struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one receiver of a Broadcast.
type Subscription struct {
	b       *Broadcast
	ch      chan Message
	dropped atomic.Uint64
	once    sync.Once
}

// NewBroadcast creates a fan-out with the given per-subscriber buffer.
func NewBroadcast(capacity int) *Broadcast {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcast{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new receiver. Messages published before the call
// are not delivered to it.
func (b *Broadcast) Subscribe() *Subscription {
	s := &Subscription{b: b, ch: make(chan Message, b.capacity)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers msg to every subscriber with buffer space and returns
// how many received it.
func (b *Broadcast) Publish(msg Message) int {
	if msg == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for s := range b.subs {
		select {
		case s.ch <- msg:
			delivered++
		default:
			s.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everyone and closes their channels.
func (b *Broadcast) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// C returns the channel messages arrive on. It is closed after Close.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped returns how many messages this subscriber missed on overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close removes the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
