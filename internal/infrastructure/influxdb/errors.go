package influxdb

import "errors"

// Errors reported by the readings mirror. WriteReading never returns an
// error; a rejected batch reaches the SetOnError callback as ErrBatchFailed.
var (
	// ErrDisabled is returned by Connect when the mirror is switched off.
	ErrDisabled = errors.New("influxdb: readings mirror disabled")

	// ErrConnectionFailed is returned by Connect when the server does not
	// answer a ping or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: readings mirror unreachable")

	// ErrClosed is returned by HealthCheck once Close has run.
	ErrClosed = errors.New("influxdb: readings mirror closed")

	// ErrBatchFailed wraps the server's reason for dropping a batch of readings.
	ErrBatchFailed = errors.New("influxdb: readings batch rejected")
)
