package ipc

import (
	"testing"
)

func TestBroadcast_FanOut(t *testing.T) {
	b := NewBroadcast(4)
	a := b.Subscribe()
	c := b.Subscribe()

	if n := b.Publish(Shutdown{}); n != 2 {
		t.Fatalf("Publish() delivered = %d, want 2", n)
	}

	for i, sub := range []*Subscription{a, c} {
		select {
		case msg := <-sub.C():
			if _, ok := msg.(Shutdown); !ok {
				t.Errorf("sub %d got %T, want Shutdown", i, msg)
			}
		default:
			t.Errorf("sub %d received nothing", i)
		}
	}
}

func TestBroadcast_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcast(1)
	slow := b.Subscribe()
	fast := b.Subscribe()

	b.Publish(Error{Detail: "1"})
	<-fast.C()
	b.Publish(Error{Detail: "2"})

	if got := slow.Dropped(); got != 1 {
		t.Errorf("slow.Dropped() = %d, want 1", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Errorf("fast.Dropped() = %d, want 0", got)
	}

	msg := <-slow.C()
	if got := msg.(Error).Detail; got != "1" {
		t.Errorf("slow received %q, want first message", got)
	}
}

func TestBroadcast_LateSubscriberMissesEarlier(t *testing.T) {
	b := NewBroadcast(4)
	b.Publish(Shutdown{})

	sub := b.Subscribe()
	select {
	case msg := <-sub.C():
		t.Errorf("late subscriber received %T", msg)
	default:
	}
}

func TestBroadcast_Close(t *testing.T) {
	b := NewBroadcast(2)
	sub := b.Subscribe()

	b.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close")
	}
	sub.Close()

	after := b.Subscribe()
	if _, ok := <-after.C(); ok {
		t.Error("subscribe after Close returned open channel")
	}
	if n := b.Publish(Shutdown{}); n != 0 {
		t.Errorf("Publish() after Close delivered = %d", n)
	}
}

func TestSubscription_Close(t *testing.T) {
	b := NewBroadcast(2)
	sub := b.Subscribe()
	sub.Close()
	sub.Close()

	if got := b.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
}
