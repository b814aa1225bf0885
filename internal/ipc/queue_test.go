package ipc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_SendReceiveOrder(t *testing.T) {
	q := NewQueue("test", 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Send(ctx, Error{Source: "t", Detail: string(rune('a' + i))}); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		msg, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() ok = false, want message %q", want)
		}
		if got := msg.(Error).Detail; got != want {
			t.Errorf("Detail = %q, want %q", got, want)
		}
	}
}

func TestQueue_TrySendFull(t *testing.T) {
	q := NewQueue("test", 1)

	if err := q.TrySend(Shutdown{}); err != nil {
		t.Fatalf("first TrySend() error = %v", err)
	}
	if err := q.TrySend(Shutdown{}); !errors.Is(err, ErrFull) {
		t.Errorf("second TrySend() error = %v, want ErrFull", err)
	}
}

func TestQueue_SendBlocksUntilSpace(t *testing.T) {
	q := NewQueue("test", 1)
	ctx := context.Background()
	_ = q.TrySend(Shutdown{})

	done := make(chan error, 1)
	go func() { done <- q.Send(ctx, Error{Source: "late"}) }()

	select {
	case err := <-done:
		t.Fatalf("Send() returned early with %v while queue full", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-q.Receive()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Send() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send() did not complete after space freed")
	}
}

func TestQueue_SendContextCancelled(t *testing.T) {
	q := NewQueue("test", 1)
	_ = q.TrySend(Shutdown{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.Send(ctx, Shutdown{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_Detach(t *testing.T) {
	t.Run("send after detach", func(t *testing.T) {
		q := NewQueue("test", 2)
		q.Detach()
		q.Detach()

		if err := q.Send(context.Background(), Shutdown{}); !errors.Is(err, ErrDisconnected) {
			t.Errorf("Send() error = %v, want ErrDisconnected", err)
		}
		if err := q.TrySend(Shutdown{}); !errors.Is(err, ErrDisconnected) {
			t.Errorf("TrySend() error = %v, want ErrDisconnected", err)
		}
	})

	t.Run("blocked sender released", func(t *testing.T) {
		q := NewQueue("test", 1)
		_ = q.TrySend(Shutdown{})

		done := make(chan error, 1)
		go func() { done <- q.Send(context.Background(), Shutdown{}) }()

		time.Sleep(20 * time.Millisecond)
		q.Detach()

		select {
		case err := <-done:
			if !errors.Is(err, ErrDisconnected) {
				t.Errorf("Send() error = %v, want ErrDisconnected", err)
			}
		case <-time.After(time.Second):
			t.Fatal("blocked Send() not released by Detach")
		}
	})
}

func TestQueue_NilMessage(t *testing.T) {
	q := NewQueue("test", 1)
	if err := q.TrySend(nil); !errors.Is(err, ErrNilMessage) {
		t.Errorf("TrySend(nil) error = %v, want ErrNilMessage", err)
	}
}

func TestNewBus_Defaults(t *testing.T) {
	bus := NewBus(Options{})

	if got := bus.ToBroker.Cap(); got != DefaultQueueCapacity {
		t.Errorf("ToBroker.Cap() = %d, want %d", got, DefaultQueueCapacity)
	}
	if got := bus.FromCollector.Cap(); got != DefaultQueueCapacity {
		t.Errorf("FromCollector.Cap() = %d, want %d", got, DefaultQueueCapacity)
	}

	ends := bus.BrokerEnds()
	defer ends.Shutdown.Close()
	if ends.Outbound != bus.ToBroker || ends.Inbound != bus.FromBroker {
		t.Error("BrokerEnds() wired to wrong queues")
	}
	if got := bus.Shutdown.Subscribers(); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Outbound{}, "outbound"},
		{Inbound{}, "inbound"},
		{PleaseReconnect{}, "please_reconnect"},
		{Error{}, "error"},
		{Shutdown{}, "shutdown"},
		{nil, "unknown"},
	}
	for _, tt := range tests {
		if got := KindOf(tt.msg); got != tt.want {
			t.Errorf("KindOf(%T) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
