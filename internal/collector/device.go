package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
)

// Device identifies one meter on a gateway.
type Device struct {
	Addr    uint8  `json:"addr"`
	Gateway string `json:"gateway"`
	Breaker string `json:"breaker"`
}

// Key returns a gateway-qualified identifier for the device.
func (d Device) Key() string {
	return fmt.Sprintf("%s/%d", d.Gateway, d.Addr)
}

// Serial is the identifier published to Home Assistant: the unit address
// in decimal.
func (d Device) Serial() string {
	return fmt.Sprintf("%d", d.Addr)
}

// DevicesFromConfig converts configured meters into Devices.
func DevicesFromConfig(devices []config.DeviceConfig) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, Device{Addr: d.Addr, Gateway: d.Port, Breaker: d.Breaker})
	}
	return out
}

// Reading is one sample from a PZEM-016.
type Reading struct {
	Addr    uint8  `json:"addr"`
	Gateway string `json:"gateway"`
	Breaker string `json:"breaker,omitempty"`

	Volts       float64 `json:"volts"`
	Amps        float64 `json:"amps"`
	Watts       float64 `json:"watts"`
	WattHours   float64 `json:"watt_hours"`
	Frequency   float64 `json:"frequency"`
	PowerFactor float64 `json:"power_factor"`
	Alarm       bool    `json:"alarm"`

	At time.Time `json:"at"`
}

// DataSource reads meters.
//
// Implementations must be safe to share across collector incarnations;
// the supervisor guarantees only one incarnation calls Read at a time.
type DataSource interface {
	Read(ctx context.Context, d Device) (Reading, error)
	Close() error
}

// Recorder receives every successful reading, for history and
// time-series sinks.
type Recorder interface {
	RecordReading(ctx context.Context, r Reading) error
}
