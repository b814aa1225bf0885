package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pzem016-mqtt/internal/ipc"
	"github.com/nerrad567/pzem016-mqtt/internal/telemetry"
)

// Status represents the supervisor's lifecycle state.
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusStopping   Status = "stopping"
	StatusFailed     Status = "failed"
)

// Task names used in logs, metrics and the event log.
const (
	TaskCollector = "collector"
	TaskBroker    = "broker"
)

const (
	// DefaultShutdownTimeout bounds the wait for tasks after cancellation.
	DefaultShutdownTimeout = 5 * time.Second

	eventRecordTimeout = 2 * time.Second
)

// Collector is the supervised, restartable data-collection task.
type Collector interface {
	Run(ctx context.Context, out ipc.Sender) error
}

// Runner is a task with its own queues, such as the broker task.
type Runner interface {
	Run(ctx context.Context) error
}

// BrokerFactory builds the broker task around its bus endpoints.
type BrokerFactory func(ends ipc.BrokerEnds) (Runner, error)

// Logger defines the logging interface for the supervisor.
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

// Task event kinds.
const (
	EventStarted          = "started"
	EventExited           = "exited"
	EventRestartScheduled = "restart_scheduled"
	EventEscalated        = "escalated"
)

// TaskEvent is one lifecycle transition of a supervised task.
type TaskEvent struct {
	ID          uuid.UUID `json:"id"`
	Task        string    `json:"task"`
	Incarnation uuid.UUID `json:"incarnation"`
	Kind        string    `json:"kind"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// EventRecorder persists task events.
type EventRecorder interface {
	RecordTaskEvent(ctx context.Context, ev TaskEvent) error
}

// Options configures a Supervisor.
type Options struct {
	Collector Collector
	Broker    BrokerFactory

	Bus             ipc.Options
	ShutdownTimeout time.Duration
	Restart         RestartPolicy

	// InboundHandler receives messages the broker task forwards from
	// subscriptions. It runs on the supervisor loop and must not block.
	InboundHandler func(ipc.Inbound)

	// OnForward observes every Outbound handed to the broker queue. It
	// runs on the supervisor loop and must not block.
	OnForward func(ipc.Outbound)

	Events EventRecorder
	Logger Logger
}

// Stats is a snapshot of supervisor state.
type Stats struct {
	Status           Status    `json:"status"`
	Incarnation      string    `json:"incarnation,omitempty"`
	CollectorRunning bool      `json:"collector_running"`
	BrokerRunning    bool      `json:"broker_running"`
	Restarts         int       `json:"restarts"`
	RecentFailures   int       `json:"recent_failures"`
	Forwarded        uint64    `json:"forwarded"`
	ErrorsReported   uint64    `json:"errors_reported"`
	LastError        string    `json:"last_error,omitempty"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	Uptime           string    `json:"uptime,omitempty"`
}

// Supervisor owns the bus, spawns the collector and broker tasks, restarts
// the collector on failure and routes messages between them.
type Supervisor struct {
	bus             *ipc.Bus
	collector       Collector
	broker          Runner
	shutdownTimeout time.Duration
	tracker         *restartTracker
	inbound         func(ipc.Inbound)
	onForward       func(ipc.Outbound)
	events          EventRecorder
	logger          Logger

	running   atomic.Bool
	forwarded atomic.Uint64
	reported  atomic.Uint64

	mu            sync.RWMutex
	status        Status
	collectorTask *TaskHandle
	brokerTask    *TaskHandle
	restartCount  int
	lastError     error
	startTime     time.Time
}

// New creates the bus, builds the broker task on it and returns a
// Supervisor ready to Run.
func New(opts Options) (*Supervisor, error) {
	if opts.Collector == nil {
		return nil, ErrNoCollector
	}
	if opts.Broker == nil {
		return nil, ErrNoBroker
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	bus := ipc.NewBus(opts.Bus)
	broker, err := opts.Broker(bus.BrokerEnds())
	if err != nil {
		return nil, fmt.Errorf("creating broker task: %w", err)
	}

	return &Supervisor{
		bus:             bus,
		collector:       opts.Collector,
		broker:          broker,
		shutdownTimeout: opts.ShutdownTimeout,
		tracker:         newRestartTracker(opts.Restart),
		inbound:         opts.InboundHandler,
		onForward:       opts.OnForward,
		events:          opts.Events,
		logger:          opts.Logger,
		status:          StatusStopped,
	}, nil
}

// Bus returns the bus the supervisor owns.
func (s *Supervisor) Bus() *ipc.Bus { return s.bus }

// Run spawns both tasks and supervises them until ctx is cancelled or a
// fatal condition occurs. A clean shutdown returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	defer s.bus.Shutdown.Close()
	defer s.bus.FromCollector.Detach()
	defer s.bus.FromBroker.Detach()

	s.setStatus(StatusStarting)
	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()

	brokerTask := s.spawn(taskCtx, TaskBroker, s.broker.Run)
	collectorTask := s.spawnCollector(taskCtx)
	s.mu.Lock()
	s.brokerTask = brokerTask
	s.mu.Unlock()
	s.setStatus(StatusRunning)

	s.logger.Info("supervisor started",
		"broker_incarnation", brokerTask.ID().String(),
		"collector_incarnation", collectorTask.ID().String(),
	)

	var (
		collectorDone = collectorTask.Done()
		restartTimer  *time.Timer
		restartC      <-chan time.Time
	)
	defer func() {
		if restartTimer != nil {
			restartTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(cancelTasks)

		case <-brokerTask.Done():
			if ctx.Err() != nil {
				return s.shutdown(cancelTasks)
			}
			s.recordEvent(brokerTask, EventExited, errString(brokerTask.Err()))
			err := ErrBrokerExited
			if taskErr := brokerTask.Err(); taskErr != nil {
				err = fmt.Errorf("%w: %w", ErrBrokerExited, taskErr)
			}
			return s.fail(err, cancelTasks)

		case <-collectorDone:
			if ctx.Err() != nil {
				return s.shutdown(cancelTasks)
			}
			collectorDone = nil

			delay, escalate := s.collectorFailed(collectorTask)
			if escalate {
				return s.fail(fmt.Errorf("%w: %w", ErrRestartBudgetExhausted, s.lastErr()), cancelTasks)
			}
			restartTimer = time.NewTimer(delay)
			restartC = restartTimer.C

		case <-restartC:
			restartC = nil
			restartTimer = nil

			s.mu.Lock()
			s.restartCount++
			s.mu.Unlock()
			telemetry.TaskRestartsTotal.WithLabelValues(TaskCollector).Inc()

			collectorTask = s.spawnCollector(taskCtx)
			collectorDone = collectorTask.Done()
			s.setStatus(StatusRunning)
			s.logger.Info("collector restarted", "incarnation", collectorTask.ID().String())

		case msg := <-s.bus.FromCollector.Receive():
			if err := s.routeFromCollector(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return s.shutdown(cancelTasks)
				}
				return s.fail(err, cancelTasks)
			}

		case msg := <-s.bus.FromBroker.Receive():
			s.routeFromBroker(msg)
		}
	}
}

func (s *Supervisor) spawn(ctx context.Context, name string, fn func(context.Context) error) *TaskHandle {
	h := spawn(ctx, name, fn)
	s.recordEvent(h, EventStarted, "")
	return h
}

func (s *Supervisor) spawnCollector(ctx context.Context) *TaskHandle {
	h := s.spawn(ctx, TaskCollector, func(ctx context.Context) error {
		return s.collector.Run(ctx, s.bus.FromCollector)
	})
	s.mu.Lock()
	s.collectorTask = h
	s.mu.Unlock()
	return h
}

// collectorFailed applies the restart policy to a finished incarnation.
// The collector only returns without cancellation on failure, so a nil
// result counts too.
func (s *Supervisor) collectorFailed(h *TaskHandle) (time.Duration, bool) {
	taskErr := h.Err()
	if taskErr == nil {
		taskErr = errors.New("collector returned without error")
	}

	s.mu.Lock()
	s.lastError = taskErr
	s.mu.Unlock()
	s.recordEvent(h, EventExited, taskErr.Error())

	s.mu.Lock()
	delay, escalate := s.tracker.failure(time.Now(), h.RanFor())
	failures := s.tracker.count()
	s.mu.Unlock()

	if escalate {
		s.recordEvent(h, EventEscalated, taskErr.Error())
		s.logger.Error("collector failed too often, giving up",
			"incarnation", h.ID().String(),
			"failures", failures,
			"error", taskErr,
		)
		return 0, true
	}

	s.setStatus(StatusRestarting)
	s.recordEvent(h, EventRestartScheduled, delay.String())
	s.logger.Warn("collector failed, restarting",
		"incarnation", h.ID().String(),
		"ran_for", h.RanFor().String(),
		"delay", delay.String(),
		"error", taskErr,
	)
	return delay, false
}

func (s *Supervisor) routeFromCollector(ctx context.Context, msg ipc.Message) error {
	kind := ipc.KindOf(msg)
	telemetry.RoutedTotal.WithLabelValues(s.bus.FromCollector.Name(), kind).Inc()

	switch m := msg.(type) {
	case ipc.Outbound:
		if err := s.bus.ToBroker.Send(ctx, m); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrForwardFailed, m.Topic, err)
		}
		s.forwarded.Add(1)
		if s.onForward != nil {
			s.onForward(m)
		}

	case ipc.Error:
		s.reported.Add(1)
		telemetry.ReportedErrorsTotal.WithLabelValues(m.Source).Inc()
		s.logger.Warn("task reported error", "source", m.Source, "detail", m.Detail)

	default:
		s.logger.Debug("ignoring message from collector", "kind", kind)
	}
	return nil
}

func (s *Supervisor) routeFromBroker(msg ipc.Message) {
	kind := ipc.KindOf(msg)
	telemetry.RoutedTotal.WithLabelValues(s.bus.FromBroker.Name(), kind).Inc()

	switch m := msg.(type) {
	case ipc.Inbound:
		s.logger.Debug("inbound message", "topic", m.Topic, "bytes", len(m.Payload))
		if s.inbound != nil {
			s.inbound(m)
		}
	case ipc.Error:
		s.reported.Add(1)
		telemetry.ReportedErrorsTotal.WithLabelValues(m.Source).Inc()
		s.logger.Warn("task reported error", "source", m.Source, "detail", m.Detail)
	default:
		s.logger.Debug("ignoring message from broker", "kind", kind)
	}
}

// shutdown signals both tasks and waits for them up to the shutdown timeout.
func (s *Supervisor) shutdown(cancelTasks context.CancelFunc) error {
	s.setStatus(StatusStopping)
	s.logger.Info("supervisor shutting down")

	s.bus.Shutdown.Publish(ipc.Shutdown{})
	if err := s.bus.ToBroker.TrySend(ipc.Shutdown{}); err != nil {
		s.logger.Debug("shutdown message not queued", "error", err)
	}
	cancelTasks()

	if err := s.waitTasks(); err != nil {
		s.setStatus(StatusFailed)
		return err
	}
	s.setStatus(StatusStopped)
	s.logger.Info("supervisor stopped")
	return nil
}

// fail tears the tasks down after a fatal condition and returns err.
func (s *Supervisor) fail(err error, cancelTasks context.CancelFunc) error {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
	s.logger.Error("supervisor failed", "error", err)

	s.bus.Shutdown.Publish(ipc.Shutdown{})
	cancelTasks()
	if waitErr := s.waitTasks(); waitErr != nil {
		s.logger.Warn("tasks still running after failure", "error", waitErr)
	}
	s.setStatus(StatusFailed)
	return err
}

func (s *Supervisor) waitTasks() error {
	s.mu.RLock()
	tasks := []*TaskHandle{s.brokerTask, s.collectorTask}
	s.mu.RUnlock()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	for _, h := range tasks {
		if h == nil {
			continue
		}
		select {
		case <-h.Done():
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", ErrShutdownTimeout, h.Name(), s.shutdownTimeout)
		}
	}
	return nil
}

func (s *Supervisor) recordEvent(h *TaskHandle, kind, detail string) {
	if s.events == nil {
		return
	}
	ev := TaskEvent{
		ID:          uuid.New(),
		Task:        h.Name(),
		Incarnation: h.ID(),
		Kind:        kind,
		Detail:      detail,
		At:          time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventRecordTimeout)
	defer cancel()
	if err := s.events.RecordTaskEvent(ctx, ev); err != nil {
		s.logger.Warn("recording task event failed", "task", h.Name(), "kind", kind, "error", err)
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Stats returns a snapshot of supervisor state.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Status:         s.status,
		Restarts:       s.restartCount,
		RecentFailures: s.tracker.count(),
		Forwarded:      s.forwarded.Load(),
		ErrorsReported: s.reported.Load(),
		StartedAt:      s.startTime,
		LastError:      errString(s.lastError),
	}
	if s.collectorTask != nil {
		st.Incarnation = s.collectorTask.ID().String()
		st.CollectorRunning = !s.collectorTask.Finished()
	}
	if s.brokerTask != nil {
		st.BrokerRunning = !s.brokerTask.Finished()
	}
	if !s.startTime.IsZero() {
		st.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	return st
}

func (s *Supervisor) lastErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
