package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/pzem016-mqtt/internal/broker"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message and waits for delivery until ctx ends.
//
// For QoS 1 and 2 an EventOutgoingPublish carrying the packet identifier is
// queued before the wait begins, and an EventPubAck follows whenever the
// broker acknowledges, even if ctx has already ended by then.
//
// Returns:
//   - nil once paho reports delivery
//   - ErrTimeout wrapping ctx.Err() if ctx ends first
//   - ErrPublishFailed wrapping the paho error otherwise
func (s *Session) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, retained, payload)

	if qos > 0 {
		if pt, ok := token.(*pahomqtt.PublishToken); ok && pt.MessageID() != 0 {
			id := pt.MessageID()
			s.emit(broker.Event{Kind: broker.EventOutgoingPublish, PacketID: id, Topic: topic, At: time.Now()})
			go s.awaitAck(token, id)
		}
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// awaitAck queues an EventPubAck once the broker acknowledges id, or an
// EventPublishFailed if the token completes with an error.
func (s *Session) awaitAck(token pahomqtt.Token, id uint16) {
	select {
	case <-token.Done():
	case <-s.closed:
		return
	}
	if err := token.Error(); err != nil {
		s.emit(broker.Event{Kind: broker.EventPublishFailed, PacketID: id, Err: err, At: time.Now()})
		return
	}
	s.emit(broker.Event{Kind: broker.EventPubAck, PacketID: id, At: time.Now()})
}
