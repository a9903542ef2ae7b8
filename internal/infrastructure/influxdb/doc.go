// Package influxdb mirrors numeric sensor readings into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The relational
// reading store keeps only the latest value per (device, type); this
// mirror keeps every value, for charts and retention-managed history.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror not configured
//	}
//	defer client.Close()
//
//	client.WriteReading("D1", "temperature", 22.5, time.Now())
//
// # Error Handling
//
// Writes are batched and asynchronous. Batch failures are delivered to the
// SetOnError callback wrapped in ErrBatchFailed; connection failures are
// returned from Connect and HealthCheck.
package influxdb
