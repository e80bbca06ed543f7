// Package influxdb exports habitat telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go's non-blocking write API. Points are batched
// according to influxdb.batch_size and influxdb.flush_interval; write
// failures surface asynchronously through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry export switched off
//	}
//	defer client.Close()
//
//	client.WriteHabitatSample("habitat-01", map[string]any{"temperature": 26.5}, time.Now())
//
// Every sample lands in measurement "habitat" tagged with device_id.
package influxdb
