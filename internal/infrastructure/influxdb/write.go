package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement written for every mirrored reading.
const readingsMeasurement = "sensor_readings"

// WriteReading records one numeric reading at the time it was reconciled.
//
// The point is tagged by device and sensor type so the bucket can be
// queried per device or per type:
//
//	sensor_readings,device_id=D1,type=temperature value=22.5 <at>
func (c *Client) WriteReading(deviceID, sensorType string, value float64, at time.Time) {
	c.WritePointWithTime(readingsMeasurement,
		map[string]string{
			"device_id": deviceID,
			"type":      sensorType,
		},
		map[string]any{
			"value": value,
		},
		at,
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// The read lock is held across the write so Close cannot shut the write
// API down underneath it; points arriving after Close are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.queued.Add(1)
}
