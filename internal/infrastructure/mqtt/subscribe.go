package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/pzem016-mqtt/internal/broker"
)

// subscribeTimeout bounds the wait for SUBACK.
const subscribeTimeout = 5 * time.Second

// Subscribe registers interest in topic. Matching messages are delivered
// through Poll as EventIncomingPublish.
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally).
func (s *Session) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	s.subMu.Lock()
	s.subscriptions[topic] = qos
	s.subMu.Unlock()

	token := s.client.Subscribe(topic, qos, s.handleMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		s.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, subscribeTimeout)
	}
	if err := token.Error(); err != nil {
		s.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

func (s *Session) forget(topic string) {
	s.subMu.Lock()
	delete(s.subscriptions, topic)
	s.subMu.Unlock()
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (s *Session) HasSubscription(topic string) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	_, exists := s.subscriptions[topic]
	return exists
}

// SubscriptionCheck is a health check that fails unless the session is
// connected and still tracks a subscription on Topic.
type SubscriptionCheck struct {
	Session *Session
	Topic   string
}

// HealthCheck implements the API health check contract.
func (c SubscriptionCheck) HealthCheck(ctx context.Context) error {
	if !c.Session.HasSubscription(c.Topic) {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, c.Topic)
	}
	return c.Session.HealthCheck(ctx)
}

// handleMessage converts a paho message into an incoming publish event.
// The payload is copied so the event never aliases library memory.
func (s *Session) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}
	}()

	data := append([]byte(nil), msg.Payload()...)
	s.emit(broker.Event{
		Kind:     broker.EventIncomingPublish,
		PacketID: msg.MessageID(),
		Topic:    msg.Topic(),
		Payload:  data,
		At:       time.Now(),
	})
}
