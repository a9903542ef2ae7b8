package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/mqtt"
)

// QoS used for telemetry subscriptions and command publishes.
const deliveryQoS byte = 1

// Broker is the subset of the MQTT client the ingress needs.
// *mqtt.Client implements it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Ingress subscribes to device telemetry, decodes each message and passes
// it to a TelemetryHandler. It also publishes commands to devices.
//
// Message handlers may run concurrently; the reconciler's per-message
// transaction keeps each one atomic.
type Ingress struct {
	broker  Broker
	topics  Topics
	handler TelemetryHandler

	logger  Logger
	metrics Metrics

	mu       sync.RWMutex
	started  bool
	stopping bool
	baseCtx  context.Context
	inflight sync.WaitGroup
}

// NewIngress creates an ingress for the namespace in topics.
func NewIngress(broker Broker, topics Topics, handler TelemetryHandler) *Ingress {
	return &Ingress{
		broker:  broker,
		topics:  topics,
		handler: handler,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		baseCtx: context.Background(),
	}
}

// SetLogger sets the logger.
func (i *Ingress) SetLogger(logger Logger) {
	if logger != nil {
		i.logger = logger
	}
}

// SetMetrics sets the metrics sink.
func (i *Ingress) SetMetrics(m Metrics) {
	if m != nil {
		i.metrics = m
	}
}

// Topics returns the topic layout in use.
func (i *Ingress) Topics() Topics {
	return i.topics
}

// Start subscribes to every device's telemetry topic at QoS 1.
//
// Handlers run with a context derived from ctx that is not cancelled with
// it, so a shutdown signal does not abort messages already in flight.
func (i *Ingress) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		return nil
	}
	i.baseCtx = context.WithoutCancel(ctx)
	i.started = true
	i.stopping = false
	i.mu.Unlock()

	topic := i.topics.AllData()
	if err := i.broker.Subscribe(topic, deliveryQoS, i.HandleMessage); err != nil {
		i.mu.Lock()
		i.started = false
		i.mu.Unlock()
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	i.logger.Info("telemetry ingress subscribed", "topic", topic)
	return nil
}

// HandleMessage processes one inbound MQTT message. Malformed messages are
// logged and dropped; the returned error is nil unless the ingress has
// been stopped.
func (i *Ingress) HandleMessage(topic string, payload []byte) error {
	i.mu.RLock()
	if i.stopping {
		i.mu.RUnlock()
		i.metrics.MessageDropped(DropStopped)
		return ErrIngressStopped
	}
	i.inflight.Add(1)
	ctx := i.baseCtx
	i.mu.RUnlock()
	defer i.inflight.Done()

	i.metrics.MessageReceived()

	deviceID, err := i.topics.ParseDataTopic(topic)
	if err != nil {
		i.metrics.MessageDropped(DropMalformedTopic)
		i.logger.Warn("telemetry dropped", "topic", topic, "error", err)
		return nil
	}

	fields, err := DecodeTelemetry(payload)
	if err != nil {
		i.metrics.MessageDropped(DropMalformedPayload)
		i.logger.Warn("telemetry dropped",
			"topic", topic,
			"device_id", deviceID,
			"bytes", len(payload),
			"error", err,
		)
		return nil
	}

	i.handler.HandleTelemetry(ctx, deviceID, fields)
	return nil
}

// DecodeTelemetry parses a payload as a single flat JSON object. Numbers
// are kept as json.Number so that integers survive unchanged into the
// broadcast event.
func DecodeTelemetry(payload []byte) (map[string]any, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if payload[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedPayload)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

// PublishCommand sends payload, encoded as JSON, to the device's command
// topic at QoS 1. A nil payload is sent as an empty object.
func (i *Ingress) PublishCommand(ctx context.Context, deviceID string, payload any) error {
	if err := device.ValidateID(deviceID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if payload == nil {
		payload = map[string]any{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublish, err)
	}

	topic := i.topics.Command(deviceID)
	if err := i.broker.Publish(topic, data, deliveryQoS, false); err != nil {
		i.metrics.CommandPublished(false)
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}

	i.metrics.CommandPublished(true)
	i.logger.Debug("command published", "topic", topic, "bytes", len(data))
	return nil
}

// Stop stops accepting telemetry, unsubscribes and waits for in-flight
// messages to finish reconciling, or for ctx to end.
func (i *Ingress) Stop(ctx context.Context) error {
	i.mu.Lock()
	if i.stopping {
		i.mu.Unlock()
		return nil
	}
	i.stopping = true
	wasStarted := i.started
	i.started = false
	i.mu.Unlock()

	if wasStarted && i.broker.IsConnected() {
		if err := i.broker.Unsubscribe(i.topics.AllData()); err != nil {
			i.logger.Warn("unsubscribing telemetry", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight telemetry: %w", ctx.Err())
	}
}
