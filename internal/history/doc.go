// Package history keeps a local record of habitat property changes.
//
// A Recorder subscribes to the gateway's state store and appends one row
// to the property_history table for every merged change. When a telemetry
// sink is configured, the numeric readings are also exported as points.
// The SQLite copy survives when InfluxDB is disabled or unreachable.
package history
