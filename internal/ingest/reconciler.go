package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/iot-bridge/internal/device"
)

// EventPusher accepts reconciled events. *Queue implements it.
type EventPusher interface {
	Push(ctx context.Context, ev Event) error
}

// ReadingSink mirrors committed numeric readings to a secondary store.
// Sinks must not block; the InfluxDB client batches asynchronously.
type ReadingSink interface {
	WriteReading(deviceID, sensorType string, value float64, at time.Time)
}

// TelemetryHandler is what the ingress hands decoded messages to.
type TelemetryHandler interface {
	HandleTelemetry(ctx context.Context, deviceID string, fields map[string]any)
}

// FieldError records a field that was not stored.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

// Outcome describes one reconciled message.
type Outcome struct {
	DeviceID string

	// Applied lists the stored fields in the order they were written.
	Applied []string

	// Rejected lists fields whose key or value could not be stored.
	// Other fields of the same message are unaffected.
	Rejected []FieldError

	// Event is what was queued for broadcast.
	Event Event
}

// Reconciler applies telemetry to the reading store and queues the
// resulting event for broadcast.
//
// For each message it runs one transaction: look up the device, mark it
// online, upsert every storable field. The event is queued only after that
// transaction commits, so observers never see a reading the store lacks.
type Reconciler struct {
	store   device.TelemetryStore
	events  EventPusher
	sink    ReadingSink
	clock   func() time.Time
	logger  Logger
	metrics Metrics
}

// NewReconciler creates a reconciler writing to store and pushing to events.
func NewReconciler(store device.TelemetryStore, events EventPusher) *Reconciler {
	return &Reconciler{
		store:   store,
		events:  events,
		clock:   time.Now,
		logger:  noopLogger{},
		metrics: noopMetrics{},
	}
}

// SetClock overrides the wall clock used to stamp readings.
func (r *Reconciler) SetClock(clock func() time.Time) {
	if clock != nil {
		r.clock = clock
	}
}

// SetSink sets the secondary sink for numeric readings.
func (r *Reconciler) SetSink(sink ReadingSink) {
	r.sink = sink
}

// SetLogger sets the logger.
func (r *Reconciler) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetMetrics sets the metrics sink.
func (r *Reconciler) SetMetrics(m Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// Reconcile applies fields to deviceID at the current time.
func (r *Reconciler) Reconcile(ctx context.Context, deviceID string, fields map[string]any) (*Outcome, error) {
	return r.ReconcileAt(ctx, deviceID, fields, r.clock())
}

// ReconcileAt applies fields to deviceID, stamping everything with at.
//
// Errors:
//   - ErrDeviceUnknown: nothing was written and nothing queued
//   - ErrStore: the transaction rolled back and nothing was queued
//   - ErrQueueClosed: the store committed but the event was not queued
//
// Per-field problems do not fail the call; they are listed in Outcome.Rejected.
func (r *Reconciler) ReconcileAt(ctx context.Context, deviceID string, fields map[string]any, at time.Time) (*Outcome, error) {
	at = at.UTC()
	out := &Outcome{DeviceID: deviceID}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	values := make(map[string]device.Value, len(keys))
	for _, k := range keys {
		if err := device.ValidateSensorType(k); err != nil {
			out.Rejected = append(out.Rejected, FieldError{Field: k, Err: err})
			continue
		}
		v, err := device.ParseValue(fields[k])
		if err != nil {
			out.Rejected = append(out.Rejected, FieldError{Field: k, Err: err})
			continue
		}
		values[k] = v
		out.Applied = append(out.Applied, k)
	}

	err := r.store.WithinTx(ctx, func(tx device.TelemetryTx) error {
		if _, err := tx.GetDevice(ctx, deviceID); err != nil {
			return err
		}
		if err := tx.SetDeviceOnline(ctx, deviceID, at); err != nil {
			return err
		}
		for _, k := range out.Applied {
			if err := tx.UpsertReading(ctx, deviceID, k, values[k], nil, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnknown, deviceID)
		}
		return nil, fmt.Errorf("%w: device %s: %w", ErrStore, deviceID, err)
	}

	if r.sink != nil {
		for _, k := range out.Applied {
			if v := values[k]; v.IsNumeric() {
				r.sink.WriteReading(deviceID, k, *v.Number, at)
			}
		}
	}

	out.Event = newEvent(deviceID, fields, at)
	if err := r.events.Push(ctx, out.Event); err != nil {
		return out, fmt.Errorf("queueing event for %s: %w", deviceID, err)
	}
	return out, nil
}

// HandleTelemetry reconciles one message and logs the outcome. It never
// fails: every error class is logged and counted, then the message is dropped.
func (r *Reconciler) HandleTelemetry(ctx context.Context, deviceID string, fields map[string]any) {
	out, err := r.Reconcile(ctx, deviceID, fields)

	switch {
	case err == nil:
	case errors.Is(err, ErrDeviceUnknown):
		r.metrics.MessageDropped(DropUnknownDevice)
		r.logger.Warn("telemetry from unknown device dropped", "device_id", deviceID)
		return
	case errors.Is(err, ErrStore):
		r.metrics.MessageDropped(DropStoreError)
		r.logger.Error("telemetry not stored", "device_id", deviceID, "error", err)
		return
	case errors.Is(err, ErrQueueClosed):
		r.metrics.MessageDropped(DropQueueClosed)
		r.logger.Warn("telemetry stored but not broadcast, queue closed", "device_id", deviceID)
	default:
		r.metrics.MessageDropped(DropCancelled)
		r.logger.Warn("telemetry stored but not broadcast", "device_id", deviceID, "error", err)
	}

	for _, fe := range out.Rejected {
		r.metrics.FieldRejected()
		r.logger.Warn("telemetry field rejected",
			"device_id", deviceID,
			"field", fe.Field,
			"error", fe.Err,
		)
	}
	r.metrics.MessageReconciled(len(out.Applied))
	r.logger.Debug("telemetry reconciled",
		"device_id", deviceID,
		"applied", len(out.Applied),
		"rejected", len(out.Rejected),
	)
}
