package mqtt

import "fmt"

// Topic prefixes.
//
// Discovery documents go under the Home Assistant discovery prefix; state
// and bridge availability go under the bridge's own prefix.
const (
	// TopicPrefixBridge is the base for every topic the bridge owns.
	TopicPrefixBridge = "pzem016mqtt"

	// TopicPrefixDiscovery is the Home Assistant discovery prefix.
	TopicPrefixDiscovery = "homeassistant"
)

// Availability payloads published on the bridge status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.SensorState("pzem016-101", "volts")
//	// Returns: "pzem016mqtt/pzem016-101/volts/value"
type Topics struct{}

// =============================================================================
// Sensor Topics
// =============================================================================

// SensorConfig returns the discovery topic for one metric of a meter.
//
// Example: homeassistant/sensor/pzem016-101/volts/config
func (Topics) SensorConfig(objectID, metric string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", TopicPrefixDiscovery, objectID, metric)
}

// SensorState returns the state topic for one metric of a meter.
//
// Example: pzem016mqtt/pzem016-101/volts/value
func (Topics) SensorState(objectID, metric string) string {
	return fmt.Sprintf("%s/%s/%s/value", TopicPrefixBridge, objectID, metric)
}

// =============================================================================
// Availability Topics
// =============================================================================

// BridgeStatus returns the retained bridge availability topic.
// It carries the Last Will, so it reads "offline" after a crash.
//
// Example: pzem016mqtt/status
func (Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixBridge)
}

// HomeAssistantStatus returns the topic Home Assistant publishes its
// birth and will messages on.
//
// Example: homeassistant/status
func (Topics) HomeAssistantStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixDiscovery)
}
