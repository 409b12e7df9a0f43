// Package influxdb provides InfluxDB connectivity for entity state history.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writes, and health monitoring.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEntityState("sensor", "sensor.outdoor_temp",
//	    map[string]any{"value": 21.5}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a callback.
// Connection and health check errors are returned directly.
package influxdb
