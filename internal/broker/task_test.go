package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pzem016-mqtt/internal/ipc"
	"github.com/nerrad567/pzem016-mqtt/internal/payload"
)

// =============================================================================
// Fake session
// =============================================================================

type publishCall struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeSession struct {
	mu        sync.Mutex
	calls     []publishCall
	journal   []string
	nextID    uint16
	blockNext int

	events   chan Event
	pollErr  chan error
	closed   chan struct{}
	closeOne sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:  make(chan Event, 64),
		pollErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeSession) Publish(ctx context.Context, topic string, _ byte, retained bool, data []byte) error {
	f.mu.Lock()
	f.calls = append(f.calls, publishCall{topic: topic, retained: retained, payload: data})
	f.journal = append(f.journal, "publish:"+topic)
	block := f.blockNext > 0
	if block {
		f.blockNext--
	}
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	f.events <- Event{Kind: EventOutgoingPublish, PacketID: id}
	return nil
}

func (f *fakeSession) Poll(ctx context.Context) (Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.pollErr:
		return Event{}, err
	case <-f.closed:
		return Event{}, errors.New("session closed")
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	f.journal = append(f.journal, "disconnect")
	f.mu.Unlock()
	f.closeOne.Do(func() { close(f.closed) })
}

func (f *fakeSession) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.topic
	}
	return out
}

func (f *fakeSession) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.journal...)
}

// =============================================================================
// Helpers
// =============================================================================

func outbound(topic string) ipc.Outbound {
	return ipc.Outbound{
		Topic:   topic,
		Payload: payload.NewState(payload.Float(230.1), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
}

func newTestTask(t *testing.T, s Session, bus *ipc.Bus, opts Options) *Task {
	t.Helper()
	opts.Session = s
	opts.Ends = bus.BrokerEnds()
	task, err := NewTask(opts)
	if err != nil {
		t.Fatalf("NewTask() error = %v", err)
	}
	return task
}

func runTask(ctx context.Context, task *Task) <-chan error {
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestNewTask_Validation(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})

	if _, err := NewTask(Options{Ends: bus.BrokerEnds()}); !errors.Is(err, ErrNoSession) {
		t.Errorf("NewTask() without session error = %v, want ErrNoSession", err)
	}
	if _, err := NewTask(Options{Session: newFakeSession()}); !errors.Is(err, ErrNoQueue) {
		t.Errorf("NewTask() without queues error = %v, want ErrNoQueue", err)
	}
}

func TestTask_PublishTracksPending(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTask(ctx, task)

	if err := bus.ToBroker.Send(ctx, outbound("pzem016mqtt/pzem016-101/volts/value")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitFor(t, "packet 1 pending", func() bool { return task.Pending().Contains(1) })

	sess.events <- Event{Kind: EventPubAck, PacketID: 1}
	waitFor(t, "pending set drained", func() bool { return task.Pending().Len() == 0 })

	sess.events <- Event{Kind: EventPubAck, PacketID: 1}
	waitFor(t, "duplicate ack counted", func() bool { return task.Stats().UnknownAcks == 1 })

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if got := task.Stats().Published; got != 1 {
		t.Errorf("Published = %d, want 1", got)
	}
}

func TestTask_FailedPublishLeavesPendingSet(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTask(ctx, task)

	if err := bus.ToBroker.Send(ctx, outbound("pzem016mqtt/pzem016-101/volts/value")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, "packet 1 pending", func() bool { return task.Pending().Contains(1) })

	sess.events <- Event{Kind: EventPublishFailed, PacketID: 1, Err: errors.New("connection lost")}
	waitFor(t, "failed packet removed", func() bool { return task.Pending().Len() == 0 })

	// A late failure for an id no longer tracked changes nothing.
	sess.events <- Event{Kind: EventPublishFailed, PacketID: 7}
	sess.events <- Event{Kind: EventPubAck, PacketID: 1}
	waitFor(t, "late ack counted", func() bool { return task.Stats().UnknownAcks == 1 })

	if got := task.Stats().Abandoned; got != 1 {
		t.Errorf("Abandoned = %d, want 1", got)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestTask_ShutdownBroadcastBeatsQueuedOutbound(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	for i := 0; i < 5; i++ {
		if err := bus.ToBroker.TrySend(outbound("queued")); err != nil {
			t.Fatalf("TrySend() error = %v", err)
		}
	}
	bus.Shutdown.Publish(ipc.Shutdown{})

	err := waitDone(t, runTask(context.Background(), task))
	if err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if got := sess.topics(); len(got) != 0 {
		t.Errorf("published after shutdown: %v", got)
	}
	if journal := sess.snapshot(); len(journal) == 0 || journal[len(journal)-1] != "disconnect" {
		t.Errorf("journal = %v, want trailing disconnect", journal)
	}
}

func TestTask_ShutdownMessageStopsProcessing(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	_ = bus.ToBroker.TrySend(outbound("first"))
	_ = bus.ToBroker.TrySend(ipc.Shutdown{})
	_ = bus.ToBroker.TrySend(outbound("after-shutdown"))

	if err := waitDone(t, runTask(context.Background(), task)); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}

	journal := sess.snapshot()
	want := []string{"publish:first", "disconnect"}
	if len(journal) != len(want) {
		t.Fatalf("journal = %v, want %v", journal, want)
	}
	for i := range want {
		if journal[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, journal[i], want[i])
		}
	}
}

func TestTask_DetachesOutboundOnExit(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	task := newTestTask(t, newFakeSession(), bus, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runTask(ctx, task)
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if err := bus.ToBroker.TrySend(outbound("late")); !errors.Is(err, ipc.ErrDisconnected) {
		t.Errorf("TrySend() after exit error = %v, want ErrDisconnected", err)
	}
}

func TestTask_PublishTimeoutIsNotRetried(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	sess.blockNext = 1
	task := newTestTask(t, sess, bus, Options{PublishTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTask(ctx, task)

	_ = bus.ToBroker.TrySend(outbound("slow"))
	_ = bus.ToBroker.TrySend(outbound("next"))

	waitFor(t, "second publish", func() bool { return task.Stats().Published == 1 })

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run() error = %v", err)
	}

	got := sess.topics()
	if len(got) != 2 || got[0] != "slow" || got[1] != "next" {
		t.Errorf("publish calls = %v, want [slow next]", got)
	}
	if s := task.Stats(); s.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", s.Timeouts)
	}
}

func TestTask_EncodeFailureContinues(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTask(ctx, task)

	_ = bus.ToBroker.TrySend(ipc.Outbound{Topic: "bad"})
	_ = bus.ToBroker.TrySend(outbound("good"))

	waitFor(t, "good publish", func() bool { return task.Stats().Published == 1 })
	cancel()
	_ = waitDone(t, done)

	if s := task.Stats(); s.EncodeFailures != 1 {
		t.Errorf("EncodeFailures = %d, want 1", s.EncodeFailures)
	}
	if got := sess.topics(); len(got) != 1 || got[0] != "good" {
		t.Errorf("publish calls = %v, want [good]", got)
	}
}

func TestTask_PollFailureIsFatal(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	done := runTask(context.Background(), task)
	sess.pollErr <- errors.New("network unreachable")

	err := waitDone(t, done)
	if !errors.Is(err, ErrEventPumpExited) {
		t.Errorf("Run() error = %v, want ErrEventPumpExited", err)
	}
	if !errors.Is(err, ErrPollFailed) {
		t.Errorf("Run() error = %v, want wrapped ErrPollFailed", err)
	}
}

func TestTask_IncomingPublishForwarded(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTask(ctx, task)

	sess.events <- Event{Kind: EventIncomingPublish, Topic: "homeassistant/status", Payload: []byte("online")}

	select {
	case msg := <-bus.FromBroker.Receive():
		in, ok := msg.(ipc.Inbound)
		if !ok {
			t.Fatalf("received %T, want ipc.Inbound", msg)
		}
		if in.Topic != "homeassistant/status" || string(in.Payload) != "online" {
			t.Errorf("Inbound = %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message forwarded")
	}

	cancel()
	_ = waitDone(t, done)
}

func TestTask_IncomingDroppedWhenQueueFull(t *testing.T) {
	bus := ipc.NewBus(ipc.Options{QueueCapacity: 1})
	sess := newFakeSession()
	task := newTestTask(t, sess, bus, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runTask(ctx, task)

	sess.events <- Event{Kind: EventIncomingPublish, Topic: "a"}
	sess.events <- Event{Kind: EventIncomingPublish, Topic: "b"}

	waitFor(t, "drop counted", func() bool { return task.Stats().InboundDropped == 1 })
	if got := task.Stats().InboundQueued; got != 1 {
		t.Errorf("InboundQueued = %d, want 1", got)
	}

	cancel()
	_ = waitDone(t, done)
}

func TestTask_RetainDiscovery(t *testing.T) {
	cfg := payload.Config{Name: "pzem016-101-volts", UniqueID: "pzem016-101-volts"}
	state := payload.NewState(payload.Float(1), time.Now())

	tests := []struct {
		name   string
		retain bool
		p      payload.Payload
		want   bool
	}{
		{name: "config retained", retain: true, p: cfg, want: true},
		{name: "config pointer retained", retain: true, p: &cfg, want: true},
		{name: "state never retained", retain: true, p: state, want: false},
		{name: "disabled", retain: false, p: cfg, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{retain: tt.retain}
			if got := task.retainFor(tt.p); got != tt.want {
				t.Errorf("retainFor() = %v, want %v", got, tt.want)
			}
		})
	}
}
