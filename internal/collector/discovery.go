package collector

import (
	"fmt"
	"strings"

	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/pzem016-mqtt/internal/payload"
)

// Device block values published with every discovery document.
const (
	Manufacturer = "Peacefair"
	DeviceName   = "PZEM-016"
	Model        = "pzem016"

	expiresAfter  = 300
	valueTemplate = "{{ value_json.value }}"
)

// Sensor describes one metric of a meter.
type Sensor struct {
	// Key is the topic segment.
	Key string
	// Label is the entity name suffix.
	Label       string
	DeviceClass string
	StateClass  string
	Unit        string
	Precision   uint8
	Value       func(Reading) float64
}

// Sensors is the fixed set of metrics published for every meter, in
// publication order.
var Sensors = []Sensor{
	{Key: "volts", Label: "voltage", DeviceClass: "voltage", StateClass: "measurement", Unit: "V", Precision: 1,
		Value: func(r Reading) float64 { return r.Volts }},
	{Key: "current", Label: "current", DeviceClass: "current", StateClass: "measurement", Unit: "A", Precision: 1,
		Value: func(r Reading) float64 { return r.Amps }},
	{Key: "power", Label: "power", DeviceClass: "power", StateClass: "measurement", Unit: "W", Precision: 1,
		Value: func(r Reading) float64 { return r.Watts }},
	{Key: "energy", Label: "energy", DeviceClass: "energy", StateClass: "total_increasing", Unit: "Wh", Precision: 1,
		Value: func(r Reading) float64 { return r.WattHours }},
	{Key: "frequency", Label: "frequency", DeviceClass: "frequency", StateClass: "measurement", Unit: "Hz", Precision: 1,
		Value: func(r Reading) float64 { return r.Frequency }},
	{Key: "power_factor", Label: "power_factor", DeviceClass: "power_factor", StateClass: "measurement", Precision: 0,
		Value: func(r Reading) float64 { return r.PowerFactor }},
}

// ObjectID returns the per-meter topic segment, e.g. "pzem016-101".
func ObjectID(d Device) string {
	return Model + "-" + d.Serial()
}

// EntityName returns the entity name and unique id, e.g. "pzem016-101-voltage".
func EntityName(d Device, s Sensor) string {
	return fmt.Sprintf("%s-%s", ObjectID(d), s.Label)
}

// ConfigTopic returns the discovery topic for s on d.
func ConfigTopic(d Device, s Sensor) string {
	return mqtt.Topics{}.SensorConfig(ObjectID(d), s.Key)
}

// StateTopic returns the state topic for s on d.
func StateTopic(d Device, s Sensor) string {
	return mqtt.Topics{}.SensorState(ObjectID(d), s.Key)
}

// DeviceInfo returns the device block shared by every entity of d.
func DeviceInfo(d Device) payload.DeviceInfo {
	return payload.DeviceInfo{
		Identifiers:  []string{d.Serial()},
		Manufacturer: Manufacturer,
		Name:         DeviceName,
		Model:        Model,
		SWVersion:    "",
	}
}

// BuildConfig returns the discovery document for s on d. An empty
// availabilityTopic leaves the key out.
func BuildConfig(d Device, s Sensor, availabilityTopic string) payload.Config {
	name := EntityName(d, s)
	cfg := payload.Config{
		Name:                      name,
		Device:                    DeviceInfo(d),
		UniqueID:                  name,
		EntityID:                  "sensor." + strings.ReplaceAll(name, "-", "_"),
		StateTopic:                StateTopic(d, s),
		ExpiresAfter:              expiresAfter,
		DeviceClass:               payload.String(s.DeviceClass),
		StateClass:                payload.String(s.StateClass),
		ValueTemplate:             payload.String(valueTemplate),
		SuggestedDisplayPrecision: payload.Uint8(s.Precision),
	}
	if s.Unit != "" {
		cfg.UnitOfMeasurement = payload.String(s.Unit)
	}
	if availabilityTopic != "" {
		cfg.AvailabilityTopic = payload.String(availabilityTopic)
	}
	return cfg
}

// BuildState returns the current-state document for s from r.
func BuildState(r Reading, s Sensor) payload.State {
	st := payload.NewState(payload.Float(s.Value(r)), r.At)
	if r.Breaker != "" {
		st.Label = payload.String(r.Breaker)
	}
	if r.Alarm {
		st.Notes = payload.String("power alarm")
	}
	return st
}
