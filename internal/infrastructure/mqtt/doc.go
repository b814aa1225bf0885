// Package mqtt adapts paho.mqtt.golang to the broker task's Session.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and a bounded retry budget
//   - QoS 1 publishing with packet identifiers reported as events
//   - Subscriptions restored on every reconnect
//   - Last Will and Testament on the bridge status topic
//   - Topic builders for discovery, state and availability
//
// # Events
//
// Paho reports progress through callbacks and tokens. The Session turns
// them into broker.Events, queued for Poll:
//
//	OnConnect          -> EventConnAck
//	Publish (QoS > 0)  -> EventOutgoingPublish, then EventPubAck on delivery
//	subscribed message -> EventIncomingPublish
//	ConnectionLost     -> EventConnectionLost
//	Reconnecting       -> EventReconnecting
//
// # Availability
//
// The will publishes "offline" (retained) to pzem016mqtt/status when the
// connection dies uncleanly. Each successful connect publishes "online",
// and a clean Disconnect publishes "offline" before leaving.
//
// # Usage
//
//	session, err := mqtt.Connect(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	task, err := broker.NewTask(broker.Options{Session: session, Ends: ends})
package mqtt
