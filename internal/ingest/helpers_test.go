package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/mqtt"
	_ "github.com/nerrad567/iot-bridge/migrations" // Registers embedded schema
)

var fixedNow = time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

// newTestStore opens a migrated SQLite database in a temp dir.
func newTestStore(t *testing.T) *device.SQLRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "ingest.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(context.Background()))
	return device.NewSQLRepository(db.DB, db.Driver())
}

func registerDevice(t *testing.T, repo *device.SQLRepository, id string) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &device.Device{ID: id, Name: "Feeder " + id}))
}

func readingValue(t *testing.T, repo *device.SQLRepository, deviceID, sensorType string) any {
	t.Helper()
	r, err := repo.GetReading(context.Background(), deviceID, sensorType)
	require.NoError(t, err)
	return r.Value().Interface()
}

// fakeBroker records publishes and lets tests inject inbound messages.
type fakeBroker struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	qos        map[string]byte
	published  []publishedMessage
	publishErr error
	connected  atomic.Bool
}

type publishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newFakeBroker() *fakeBroker {
	b := &fakeBroker{
		handlers: make(map[string]mqtt.MessageHandler),
		qos:      make(map[string]byte),
	}
	b.connected.Store(true)
	return b
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	b.qos[topic] = qos
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	return b.connected.Load()
}

func (b *fakeBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// deliver routes a message to the handler subscribed on pattern, as the
// broker would for a matching topic.
func (b *fakeBroker) deliver(pattern, topic string, payload []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[pattern]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + pattern)
	}
	return h(topic, payload)
}

func (b *fakeBroker) messages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

// recordingHandler captures decoded telemetry.
type recordingHandler struct {
	mu    sync.Mutex
	calls []telemetryCall
	block chan struct{}
}

type telemetryCall struct {
	DeviceID string
	Fields   map[string]any
}

func (h *recordingHandler) HandleTelemetry(_ context.Context, deviceID string, fields map[string]any) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.calls = append(h.calls, telemetryCall{deviceID, fields})
	h.mu.Unlock()
}

func (h *recordingHandler) received() []telemetryCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]telemetryCall(nil), h.calls...)
}

// recordingMetrics counts pipeline measurements.
type recordingMetrics struct {
	mu         sync.Mutex
	received   int
	dropped    map[string]int
	rejected   int
	reconciled int
	delivered  int
	failed     int
	relayFail  int
	commands   map[bool]int
	overflows  int
	depth      int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{dropped: map[string]int{}, commands: map[bool]int{}}
}

func (m *recordingMetrics) MessageReceived() {
	m.mu.Lock()
	m.received++
	m.mu.Unlock()
}

func (m *recordingMetrics) MessageDropped(reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) MessageReconciled(int) {
	m.mu.Lock()
	m.reconciled++
	m.mu.Unlock()
}

func (m *recordingMetrics) FieldRejected() {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

func (m *recordingMetrics) EventBroadcast(delivered, failed int) {
	m.mu.Lock()
	m.delivered += delivered
	m.failed += failed
	m.mu.Unlock()
}

func (m *recordingMetrics) RelayFailed(string) {
	m.mu.Lock()
	m.relayFail++
	m.mu.Unlock()
}

func (m *recordingMetrics) CommandPublished(ok bool) {
	m.mu.Lock()
	m.commands[ok]++
	m.mu.Unlock()
}

func (m *recordingMetrics) SetQueueDepth(n int) {
	m.mu.Lock()
	m.depth = n
	m.mu.Unlock()
}

func (m *recordingMetrics) QueueOverflow() {
	m.mu.Lock()
	m.overflows++
	m.mu.Unlock()
}

func (m *recordingMetrics) droppedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

// recvWithin reads one payload from ch or fails the test.
func recvWithin(t *testing.T, ch <-chan []byte, d time.Duration) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(d):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

// assertNoRecv fails if ch yields a payload within d.
func assertNoRecv(t *testing.T, ch <-chan []byte, d time.Duration) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected broadcast: %s", data)
	case <-time.After(d):
	}
}
