package ingest

import (
	"maps"
	"time"
)

// Event is the message handed from the reconciler to the broadcast worker
// and serialised once for every observer.
//
// Data holds the telemetry fields exactly as decoded, including any that
// were rejected for storage. Events are not modified after they are queued.
type Event struct {
	DeviceID  string         `json:"device_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// newEvent copies fields so later changes by the caller cannot leak into a
// queued event.
func newEvent(deviceID string, fields map[string]any, at time.Time) Event {
	data := maps.Clone(fields)
	if data == nil {
		data = map[string]any{}
	}
	return Event{DeviceID: deviceID, Data: data, Timestamp: at.UTC()}
}
