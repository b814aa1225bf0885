package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SensorConfig", topics.SensorConfig("pzem016-101", "volts"), "homeassistant/sensor/pzem016-101/volts/config"},
		{"SensorState", topics.SensorState("pzem016-101", "power_factor"), "pzem016mqtt/pzem016-101/power_factor/value"},
		{"BridgeStatus", topics.BridgeStatus(), "pzem016mqtt/status"},
		{"HomeAssistantStatus", topics.HomeAssistantStatus(), "homeassistant/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}
