package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-bridge/internal/device"
)

func newTestIngress(t *testing.T) (*Ingress, *fakeBroker, *recordingHandler) {
	t.Helper()
	broker := newFakeBroker()
	handler := &recordingHandler{}
	in := NewIngress(broker, Topics{Namespace: "iot"}, handler)
	require.NoError(t, in.Start(context.Background()))
	return in, broker, handler
}

func TestIngress_StartSubscribesAtQoS1(t *testing.T) {
	_, broker, _ := newTestIngress(t)

	assert.True(t, broker.subscribed("iot/devices/+/data"))
	assert.Equal(t, byte(1), broker.qos["iot/devices/+/data"])
}

func TestIngress_DecodesAndForwards(t *testing.T) {
	_, broker, handler := newTestIngress(t)

	err := broker.deliver("iot/devices/+/data", "iot/devices/D1/data",
		[]byte(`{"temperature": 22.5, "humidity": "58%", "count": 3}`))
	require.NoError(t, err)

	calls := handler.received()
	require.Len(t, calls, 1)
	assert.Equal(t, "D1", calls[0].DeviceID)
	assert.Equal(t, json.Number("22.5"), calls[0].Fields["temperature"])
	assert.Equal(t, json.Number("3"), calls[0].Fields["count"])
	assert.Equal(t, "58%", calls[0].Fields["humidity"])
}

func TestIngress_DropsMalformedMessages(t *testing.T) {
	in, _, handler := newTestIngress(t)
	metrics := newRecordingMetrics()
	in.SetMetrics(metrics)

	tests := []struct {
		name    string
		topic   string
		payload string
		reason  string
	}{
		{"bad topic", "iot/devices/D1/state", `{"a":1}`, DropMalformedTopic},
		{"not json", "iot/devices/D1/data", `temperature=22`, DropMalformedPayload},
		{"array", "iot/devices/D1/data", `[1,2]`, DropMalformedPayload},
		{"scalar", "iot/devices/D1/data", `42`, DropMalformedPayload},
		{"empty", "iot/devices/D1/data", ``, DropMalformedPayload},
		{"trailing data", "iot/devices/D1/data", `{"a":1} {"b":2}`, DropMalformedPayload},
		{"truncated", "iot/devices/D1/data", `{"a":`, DropMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := metrics.droppedFor(tt.reason)
			assert.NoError(t, in.HandleMessage(tt.topic, []byte(tt.payload)))
			assert.Equal(t, before+1, metrics.droppedFor(tt.reason))
		})
	}

	assert.Empty(t, handler.received())
	assert.Equal(t, len(tests), metrics.received)
}

func TestDecodeTelemetry(t *testing.T) {
	fields, err := DecodeTelemetry([]byte("  {\"a\": 1, \"b\": {\"c\": true}}\n"))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), fields["a"])
	assert.Equal(t, map[string]any{"c": true}, fields["b"])

	fields, err = DecodeTelemetry([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = DecodeTelemetry([]byte(`null`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestIngress_PublishCommand(t *testing.T) {
	in, broker, _ := newTestIngress(t)

	err := in.PublishCommand(context.Background(), "D1", map[string]any{"action": "feed", "amount": 10})
	require.NoError(t, err)

	msgs := broker.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "iot/devices/D1/command", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retained)
	assert.JSONEq(t, `{"action":"feed","amount":10}`, string(msgs[0].Payload))
}

func TestIngress_PublishCommandNilPayload(t *testing.T) {
	in, broker, _ := newTestIngress(t)

	require.NoError(t, in.PublishCommand(context.Background(), "D1", nil))
	assert.Equal(t, "{}", string(broker.messages()[0].Payload))
}

func TestIngress_PublishCommandFailures(t *testing.T) {
	in, broker, _ := newTestIngress(t)
	metrics := newRecordingMetrics()
	in.SetMetrics(metrics)

	err := in.PublishCommand(context.Background(), "bad/id", map[string]any{})
	assert.ErrorIs(t, err, device.ErrInvalidDevice)

	broker.publishErr = errors.New("not connected")
	err = in.PublishCommand(context.Background(), "D1", map[string]any{"action": "feed"})
	assert.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 1, metrics.commands[false])

	err = in.PublishCommand(context.Background(), "D1", map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, ErrPublish)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, in.PublishCommand(ctx, "D1", nil), context.Canceled)
}

func TestIngress_StopRejectsLateMessages(t *testing.T) {
	in, broker, handler := newTestIngress(t)

	require.NoError(t, in.Stop(context.Background()))
	assert.False(t, broker.subscribed("iot/devices/+/data"))

	err := in.HandleMessage("iot/devices/D1/data", []byte(`{"a":1}`))
	assert.ErrorIs(t, err, ErrIngressStopped)
	assert.Empty(t, handler.received())

	require.NoError(t, in.Stop(context.Background()), "Stop is idempotent")
}

func TestIngress_StopWaitsForInFlight(t *testing.T) {
	broker := newFakeBroker()
	handler := &recordingHandler{block: make(chan struct{})}
	in := NewIngress(broker, Topics{Namespace: "iot"}, handler)
	require.NoError(t, in.Start(context.Background()))

	go in.HandleMessage("iot/devices/D1/data", []byte(`{"a":1}`)) //nolint:errcheck // Result checked via handler
	time.Sleep(20 * time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, in.Stop(short), context.DeadlineExceeded)

	close(handler.block)
	assert.Eventually(t, func() bool { return len(handler.received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestIngress_HandlerContextSurvivesStartCancel(t *testing.T) {
	broker := newFakeBroker()
	var seen context.Context
	handler := handlerFunc(func(ctx context.Context, _ string, _ map[string]any) { seen = ctx })
	in := NewIngress(broker, Topics{Namespace: "iot"}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, in.Start(ctx))
	cancel()

	require.NoError(t, in.HandleMessage("iot/devices/D1/data", []byte(`{}`)))
	require.NotNil(t, seen)
	assert.NoError(t, seen.Err())
}

type handlerFunc func(ctx context.Context, deviceID string, fields map[string]any)

func (f handlerFunc) HandleTelemetry(ctx context.Context, deviceID string, fields map[string]any) {
	f(ctx, deviceID, fields)
}
