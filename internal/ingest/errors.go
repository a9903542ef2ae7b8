package ingest

import "errors"

// Error taxonomy for the ingestion pipeline. None of these stop the
// ingress or broadcast loops; they classify why one message went nowhere.
var (
	// ErrMalformedTopic is returned when a topic is not <ns>/devices/<id>/data.
	ErrMalformedTopic = errors.New("ingest: malformed topic")

	// ErrMalformedPayload is returned when a payload is not a flat JSON object.
	ErrMalformedPayload = errors.New("ingest: malformed payload")

	// ErrDeviceUnknown is returned when telemetry names an unregistered device.
	ErrDeviceUnknown = errors.New("ingest: unknown device")

	// ErrStore is returned when the reading store rejects a message's transaction.
	ErrStore = errors.New("ingest: store failure")

	// ErrQueueClosed is returned when pushing to or popping from a closed handoff queue.
	ErrQueueClosed = errors.New("ingest: handoff queue closed")

	// ErrPublish is returned when the broker does not accept a command.
	ErrPublish = errors.New("ingest: command publish failed")

	// ErrIngressStopped is returned for messages arriving after Stop.
	ErrIngressStopped = errors.New("ingest: ingress stopped")
)
