package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// HabitatMeasurement is the measurement every habitat sample is written to.
const HabitatMeasurement = "habitat"

// WriteHabitatSample queues one habitat sample tagged with deviceID.
// Empty field sets are ignored. The write is batched and non-blocking.
//
// Example:
//
//	client.WriteHabitatSample("habitat-01", map[string]any{
//	    "temperature": 26.5,
//	    "humidity":    58.0,
//	}, time.Now())
func (c *Client) WriteHabitatSample(deviceID string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.WritePoint(HabitatMeasurement, map[string]string{"device_id": deviceID}, fields, at)
}

// WritePoint queues a point with explicit tags, fields and timestamp.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
