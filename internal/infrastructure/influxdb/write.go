package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/pzem016-mqtt/internal/collector"
)

// Measurement is the InfluxDB measurement holding meter readings.
const Measurement = "pzem016"

// RecordReading queues r as one point. It never blocks on the network;
// a disconnected client returns ErrNotConnected.
func (c *Client) RecordReading(_ context.Context, r collector.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writer.WritePoint(ReadingPoint(r))
	return nil
}

// ReadingPoint converts r into a point tagged by unit, gateway and breaker.
func ReadingPoint(r collector.Reading) *write.Point {
	tags := map[string]string{
		"unit":    strconv.Itoa(int(r.Addr)),
		"gateway": r.Gateway,
	}
	if r.Breaker != "" {
		tags["breaker"] = r.Breaker
	}

	fields := map[string]interface{}{
		"volts":        r.Volts,
		"amps":         r.Amps,
		"watts":        r.Watts,
		"watt_hours":   r.WattHours,
		"frequency":    r.Frequency,
		"power_factor": r.PowerFactor,
		"alarm":        r.Alarm,
	}

	return write.NewPoint(Measurement, tags, fields, r.At)
}
