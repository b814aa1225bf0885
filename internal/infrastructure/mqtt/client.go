package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/pzem016-mqtt/internal/broker"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
)

// Session wraps paho.mqtt.golang as a broker.Session.
//
// Connection callbacks, delivery acknowledgements and subscribed messages
// are turned into broker.Events and queued for Poll. Paho owns the network
// loop and reconnects on its own; the session only reports what happens.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Session struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	events    chan broker.Event
	closed    chan struct{}
	closeOnce sync.Once

	// fatal is closed once reconnect attempts are exhausted.
	fatal     chan struct{}
	fatalOnce sync.Once

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	connected  atomic.Bool
	reconnects atomic.Int32

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ broker.Session = (*Session)(nil)

// newSession builds a session and its paho client without connecting.
func newSession(cfg config.MQTTConfig) *Session {
	s := &Session{
		cfg:           cfg,
		events:        make(chan broker.Event, eventBufferSize),
		closed:        make(chan struct{}),
		fatal:         make(chan struct{}),
		subscriptions: make(map[string]byte),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.handleReconnecting()
	})

	s.client = pahomqtt.NewClient(opts)
	return s
}

// Connect establishes a session with the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures the Last Will on the bridge status topic
//  3. Sets up auto-reconnect with exponential backoff
//  4. Attempts initial connection with timeout
//
// The on-connect handler then publishes "online" to the status topic and
// restores subscriptions, on the first connection and every reconnection.
func Connect(cfg config.MQTTConfig, logger Logger) (*Session, error) {
	s := newSession(cfg)
	s.SetLogger(logger)

	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// Stop the connect-retry loop paho keeps running in the background.
		s.client.Disconnect(0)
		s.close()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		s.close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect callback runs asynchronously; mark the session
	// connected here so IsConnected is accurate on return.
	s.connected.Store(true)

	return s, nil
}

// handleConnect is called when the connection is established.
func (s *Session) handleConnect() {
	s.connected.Store(true)
	s.reconnects.Store(0)

	s.restoreSubscriptions()
	s.publishStatus(StatusOnline, 0)

	s.emit(broker.Event{Kind: broker.EventConnAck, At: time.Now()})
}

// handleConnectionLost is called when the connection drops.
func (s *Session) handleConnectionLost(err error) {
	s.connected.Store(false)
	if logger := s.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	s.emit(broker.Event{Kind: broker.EventConnectionLost, Err: err, At: time.Now()})
}

// handleReconnecting is called before each reconnect attempt.
func (s *Session) handleReconnecting() {
	n := s.reconnects.Add(1)
	s.emit(broker.Event{Kind: broker.EventReconnecting, At: time.Now()})

	if limit := s.cfg.Reconnect.MaxAttempts; limit > 0 && int(n) > limit {
		s.fatalOnce.Do(func() {
			if logger := s.getLogger(); logger != nil {
				logger.Error("MQTT reconnect attempts exhausted", "attempts", n-1)
			}
			close(s.fatal)
		})
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (s *Session) restoreSubscriptions() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for topic, qos := range s.subscriptions {
		// Errors surface as a missing subscription; there is no caller to return them to.
		s.client.Subscribe(topic, qos, s.handleMessage)
	}
}

// publishStatus publishes the bridge availability. A zero wait returns
// without waiting for delivery.
func (s *Session) publishStatus(status string, wait time.Duration) {
	token := s.client.Publish(Topics{}.BridgeStatus(), 1, true, status)
	if wait > 0 {
		token.WaitTimeout(wait)
	}
}

// emit queues ev for Poll. It gives up once the session is closed.
func (s *Session) emit(ev broker.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// Poll returns the next session event.
//
// It fails with ErrSessionClosed after Disconnect and with
// ErrReconnectExhausted once the reconnect budget is spent.
func (s *Session) Poll(ctx context.Context) (broker.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.fatal:
		return broker.Event{}, ErrReconnectExhausted
	case <-s.closed:
		return broker.Event{}, ErrSessionClosed
	case <-ctx.Done():
		return broker.Event{}, ctx.Err()
	}
}

// Disconnect gracefully closes the session.
//
// It performs:
//  1. Publishes "offline" on the status topic (the will is not fired on a clean disconnect)
//  2. Waits for pending publish operations
//  3. Disconnects from broker
func (s *Session) Disconnect() {
	if s.client == nil {
		s.close()
		return
	}

	if s.IsConnected() {
		s.publishStatus(StatusOffline, defaultStatusTimeout)
	}

	s.client.Disconnect(defaultDisconnectQuiesce)
	s.connected.Store(false)
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// HealthCheck verifies the MQTT connection is alive.
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (s *Session) IsConnected() bool {
	return s.connected.Load() && s.client != nil && s.client.IsConnected()
}

// SetLogger sets a logger for connection and handler logging.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
