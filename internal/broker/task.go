package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pzem016-mqtt/internal/ipc"
	"github.com/nerrad567/pzem016-mqtt/internal/payload"
	"github.com/nerrad567/pzem016-mqtt/internal/telemetry"
)

// Defaults applied by NewTask.
const (
	DefaultPublishTimeout = 3 * time.Second
	DefaultQoS            = 1
)

// Logger defines the logging interface for the broker task.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Task.
type Options struct {
	Session Session
	Ends    ipc.BrokerEnds

	// PublishTimeout bounds the wait for a single publish. Zero means
	// DefaultPublishTimeout.
	PublishTimeout time.Duration

	// QoS for outgoing publishes.
	QoS byte

	// RetainDiscovery sets the retain flag on discovery documents.
	RetainDiscovery bool

	Logger Logger
}

// Stats is a snapshot of the task counters.
type Stats struct {
	Pending         int    `json:"pending"`
	Published       uint64 `json:"published"`
	Timeouts        uint64 `json:"timeouts"`
	Failed          uint64 `json:"failed"`
	EncodeFailures  uint64 `json:"encode_failures"`
	InboundQueued   uint64 `json:"inbound_queued"`
	InboundDropped  uint64 `json:"inbound_dropped"`
	UnknownAcks     uint64 `json:"unknown_acks"`
	Abandoned       uint64 `json:"abandoned"`
	LastConnectedAt string `json:"last_connected_at,omitempty"`
}

// Task owns the broker session: it publishes Outbound messages taken from
// the bus and runs the event pump that tracks delivery.
type Task struct {
	session        Session
	ends           ipc.BrokerEnds
	publishTimeout time.Duration
	qos            byte
	retain         bool
	logger         Logger

	pending *PendingSet

	published      atomic.Uint64
	timeouts       atomic.Uint64
	failed         atomic.Uint64
	encodeFailures atomic.Uint64
	inboundQueued  atomic.Uint64
	inboundDropped atomic.Uint64
	unknownAcks    atomic.Uint64
	abandoned      atomic.Uint64
	lastConnected  atomic.Int64
}

// NewTask validates opts and creates a Task.
func NewTask(opts Options) (*Task, error) {
	if opts.Session == nil {
		return nil, ErrNoSession
	}
	if opts.Ends.Outbound == nil || opts.Ends.Inbound == nil {
		return nil, ErrNoQueue
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.QoS == 0 {
		opts.QoS = DefaultQoS
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Task{
		session:        opts.Session,
		ends:           opts.Ends,
		publishTimeout: opts.PublishTimeout,
		qos:            opts.QoS,
		retain:         opts.RetainDiscovery,
		logger:         opts.Logger,
		pending:        NewPendingSet(),
	}, nil
}

// Pending returns the set of unacknowledged packet identifiers.
func (t *Task) Pending() *PendingSet { return t.pending }

// Stats returns a snapshot of the task counters.
func (t *Task) Stats() Stats {
	s := Stats{
		Pending:        t.pending.Len(),
		Published:      t.published.Load(),
		Timeouts:       t.timeouts.Load(),
		Failed:         t.failed.Load(),
		EncodeFailures: t.encodeFailures.Load(),
		InboundQueued:  t.inboundQueued.Load(),
		InboundDropped: t.inboundDropped.Load(),
		UnknownAcks:    t.unknownAcks.Load(),
		Abandoned:      t.abandoned.Load(),
	}
	if ts := t.lastConnected.Load(); ts != 0 {
		s.LastConnectedAt = time.Unix(0, ts).UTC().Format(time.RFC3339)
	}
	return s
}

// Run processes outbound messages until shutdown is observed or a fatal
// error occurs. It returns nil when stopped by ctx or a Shutdown message.
//
// Once shutdown has been observed no further publish is issued, and the
// session is disconnected before Run returns.
func (t *Task) Run(ctx context.Context) error {
	defer t.ends.Outbound.Detach()
	if t.ends.Shutdown != nil {
		defer t.ends.Shutdown.Close()
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	pumpDone := make(chan error, 1)
	go func() { pumpDone <- t.pump(pumpCtx) }()

	stop := func(reason string) error {
		t.logger.Info("broker task stopping", "reason", reason, "pending", t.pending.Len())
		stopPump()
		t.session.Disconnect()
		<-pumpDone
		return nil
	}

	var shutdownC <-chan ipc.Message
	if t.ends.Shutdown != nil {
		shutdownC = t.ends.Shutdown.C()
	}

	for {
		// Shutdown takes priority over queued outbound work.
		if reason, ok := t.shutdownPending(ctx, shutdownC); ok {
			return stop(reason)
		}

		select {
		case err := <-pumpDone:
			t.session.Disconnect()
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				return ErrEventPumpExited
			}
			return fmt.Errorf("%w: %w", ErrEventPumpExited, err)

		case <-ctx.Done():
			return stop("context cancelled")

		case <-shutdownC:
			return stop("shutdown broadcast")

		case msg := <-t.ends.Outbound.Receive():
			switch m := msg.(type) {
			case ipc.Outbound:
				t.publish(ctx, m)
			case ipc.Shutdown:
				return stop("shutdown message")
			default:
				t.logger.Debug("ignoring bus message", "kind", ipc.KindOf(msg))
			}
		}
	}
}

// shutdownPending performs a non-blocking check of every shutdown source.
func (t *Task) shutdownPending(ctx context.Context, shutdownC <-chan ipc.Message) (string, bool) {
	if ctx.Err() != nil {
		return "context cancelled", true
	}
	select {
	case <-shutdownC:
		return "shutdown broadcast", true
	default:
		return "", false
	}
}

func (t *Task) publish(ctx context.Context, m ipc.Outbound) {
	data, err := payload.Encode(m.Payload)
	if err != nil {
		t.encodeFailures.Add(1)
		telemetry.PublishesTotal.WithLabelValues("encode_error").Inc()
		t.logger.Error("encoding payload", "topic", m.Topic, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, t.publishTimeout)
	err = t.session.Publish(pctx, m.Topic, t.qos, t.retainFor(m.Payload), data)
	cancel()

	switch {
	case err == nil:
		t.published.Add(1)
		telemetry.PublishesTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		t.timeouts.Add(1)
		telemetry.PublishesTotal.WithLabelValues("timeout").Inc()
		t.logger.Warn("publish timed out, dropping message",
			"topic", m.Topic,
			"timeout", t.publishTimeout,
		)
	case ctx.Err() != nil:
		t.logger.Debug("publish abandoned on shutdown", "topic", m.Topic)
	default:
		t.failed.Add(1)
		telemetry.PublishesTotal.WithLabelValues("error").Inc()
		t.logger.Warn("publish failed, dropping message", "topic", m.Topic, "error", err)
	}
}

func (t *Task) retainFor(p payload.Payload) bool {
	if !t.retain {
		return false
	}
	switch p.(type) {
	case payload.Config, *payload.Config:
		return true
	default:
		return false
	}
}

// pump drains session events until ctx ends or Poll fails.
func (t *Task) pump(ctx context.Context) error {
	for {
		ev, err := t.session.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Error("broker event poll failed", "error", err)
			return fmt.Errorf("%w: %w", ErrPollFailed, err)
		}

		telemetry.BrokerEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		t.handleEvent(ev)
	}
}

func (t *Task) handleEvent(ev Event) {
	switch ev.Kind {
	case EventOutgoingPublish:
		t.pending.Add(ev.PacketID)
		telemetry.PendingPublishes.Set(float64(t.pending.Len()))

	case EventPubAck:
		if !t.pending.Ack(ev.PacketID) {
			t.unknownAcks.Add(1)
			t.logger.Debug("ack for unknown packet", "packet_id", ev.PacketID)
		}
		telemetry.PendingPublishes.Set(float64(t.pending.Len()))

	case EventPublishFailed:
		if t.pending.Ack(ev.PacketID) {
			t.abandoned.Add(1)
			t.logger.Warn("publish abandoned", "packet_id", ev.PacketID, "error", ev.Err)
		}
		telemetry.PendingPublishes.Set(float64(t.pending.Len()))

	case EventIncomingPublish:
		err := t.ends.Inbound.TrySend(ipc.Inbound{Topic: ev.Topic, Payload: ev.Payload})
		if err != nil {
			t.inboundDropped.Add(1)
			telemetry.InboundTotal.WithLabelValues("dropped").Inc()
			t.logger.Warn("dropping inbound message", "topic", ev.Topic, "error", err)
			return
		}
		t.inboundQueued.Add(1)
		telemetry.InboundTotal.WithLabelValues("queued").Inc()

	case EventConnAck:
		t.lastConnected.Store(eventTime(ev).UnixNano())
		t.logger.Info("connected to broker")

	case EventConnectionLost:
		t.logger.Warn("broker connection lost", "error", ev.Err)

	case EventReconnecting:
		t.logger.Info("reconnecting to broker")

	default:
		t.logger.Debug("unhandled session event", "kind", ev.Kind.String())
	}
}

func eventTime(ev Event) time.Time {
	if ev.At.IsZero() {
		return time.Now()
	}
	return ev.At
}
