package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/meterlink/meterlink-core/internal/meter"
)

// readingMeasurement is the InfluxDB measurement holding mirrored readings.
const readingMeasurement = "meter_readings"

// WriteReading queues one reading. It never blocks on the network and is a
// no-op while the client is closed.
func (c *Client) WriteReading(r meter.Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(r))
	c.written.Add(1)
}

// readingPoint maps a reading onto a point. Device identity goes in tags
// (low cardinality, indexed); telemetry goes in fields.
func readingPoint(r meter.Reading) *write.Point {
	tags := map[string]string{
		"device_id": r.DeviceID,
	}
	if r.SerialNumber != "" {
		tags["serial_number"] = r.SerialNumber
	}

	return write.NewPoint(
		readingMeasurement,
		tags,
		map[string]interface{}{
			"voltage": r.Voltage,
			"current": r.Current,
			"power":   r.Power,
			"energy":  r.Energy,
		},
		r.Timestamp,
	)
}
