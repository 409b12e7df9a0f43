package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// StateMeasurement is the measurement entity history is written to.
const StateMeasurement = "entity_state"

// WriteEntityState records one state sample of an entity. Tags are
// domain and entity_id; fields must already be numeric or boolean.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteEntityState("sensor", "sensor.outdoor_temp",
//	    map[string]any{"value": 21.5}, changedAt)
func (c *Client) WriteEntityState(domain, entityID string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(StateMeasurement,
		map[string]string{
			"domain":    domain,
			"entity_id": entityID,
		},
		fields,
		ts,
	)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., the time the hub
// recorded the change).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
