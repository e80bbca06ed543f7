package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "run without a time-series sink".
	ErrDisabled = errors.New("influxdb: disabled")

	ErrConnectionFailed = errors.New("influxdb: cannot reach server")
	ErrNotConnected     = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps asynchronous write errors passed to OnError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
