package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/observer"
)

const dataPattern = "iot/devices/+/data"

type pipeline struct {
	svc      *Service
	repo     *device.SQLRepository
	broker   *fakeBroker
	registry *observer.Registry
}

func startPipeline(t *testing.T, opts Options) *pipeline {
	t.Helper()

	p := &pipeline{
		repo:     newTestStore(t),
		broker:   newFakeBroker(),
		registry: observer.NewRegistry(),
	}
	opts.Store = p.repo
	opts.Broker = p.broker
	opts.Registry = p.registry
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}

	svc, err := NewService(opts)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop(context.Background()) }) //nolint:errcheck // Idempotent cleanup

	p.svc = svc
	return p
}

func (p *pipeline) send(t *testing.T, deviceID, payload string) {
	t.Helper()
	require.NoError(t, p.broker.deliver(dataPattern, "iot/devices/"+deviceID+"/data", []byte(payload)))
}

func decodeEvent(t *testing.T, data []byte) Event {
	t.Helper()
	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)

	_, err = NewService(Options{Store: newTestStore(t)})
	assert.Error(t, err)

	_, err = NewService(Options{Store: newTestStore(t), Broker: newFakeBroker()})
	assert.Error(t, err)
}

func TestService_TelemetryIsStoredAndBroadcast(t *testing.T) {
	p := startPipeline(t, Options{})
	registerDevice(t, p.repo, "D1")
	obs := observer.NewChannel("ui", 8)
	p.registry.Connect(obs)

	p.send(t, "D1", `{"temperature": 22.5, "humidity": "58%"}`)

	got := decodeEvent(t, recvWithin(t, obs.C(), time.Second))
	assert.Equal(t, "D1", got.DeviceID)
	assert.Equal(t, 22.5, got.Data["temperature"])
	assert.Equal(t, "58%", got.Data["humidity"])

	ctx := context.Background()
	d, err := p.repo.GetByID(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, d.Status)
	assert.Equal(t, 22.5, readingValue(t, p.repo, "D1", "temperature"))
	assert.Equal(t, "58%", readingValue(t, p.repo, "D1", "humidity"))

	p.send(t, "D1", `{"temperature": 23.1}`)
	recvWithin(t, obs.C(), time.Second)
	assert.Equal(t, 23.1, readingValue(t, p.repo, "D1", "temperature"))
	assert.Equal(t, "58%", readingValue(t, p.repo, "D1", "humidity"))
}

func TestService_UnknownDeviceIsNotBroadcast(t *testing.T) {
	p := startPipeline(t, Options{})
	obs := observer.NewChannel("ui", 8)
	p.registry.Connect(obs)

	p.send(t, "D9", `{"temperature": 20}`)

	assertNoRecv(t, obs.C(), 50*time.Millisecond)
	readings, err := p.repo.ListAllReadings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestService_DisconnectMidFlightDoesNotAffectOthers(t *testing.T) {
	p := startPipeline(t, Options{})
	registerDevice(t, p.repo, "D1")
	a := observer.NewChannel("a", 8)
	b := observer.NewChannel("b", 8)
	p.registry.Connect(a)
	p.registry.Connect(b)

	p.send(t, "D1", `{"temperature": 21}`)
	first := recvWithin(t, a.C(), time.Second)
	assert.JSONEq(t, string(first), string(recvWithin(t, b.C(), time.Second)))

	p.registry.Disconnect(a)
	p.registry.Disconnect(a)

	p.send(t, "D1", `{"temperature": 22}`)
	got := decodeEvent(t, recvWithin(t, b.C(), time.Second))
	assert.Equal(t, 22.0, got.Data["temperature"])
}

func TestService_PublishCommandIgnoresDeviceState(t *testing.T) {
	p := startPipeline(t, Options{})
	registerDevice(t, p.repo, "D1") // offline, never reported

	err := p.svc.PublishCommand(context.Background(), "D1", map[string]any{"action": "feed", "amount": 10})
	require.NoError(t, err)

	msgs := p.broker.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "iot/devices/D1/command", msgs[0].Topic)
}

func TestService_EventsLeaveInCommitOrder(t *testing.T) {
	p := startPipeline(t, Options{})
	registerDevice(t, p.repo, "D1")
	obs := observer.NewChannel("ui", 64)
	p.registry.Connect(obs)

	for i := 0; i < 20; i++ {
		p.send(t, "D1", fmt.Sprintf(`{"seq": %d}`, i))
	}

	for i := 0; i < 20; i++ {
		got := decodeEvent(t, recvWithin(t, obs.C(), time.Second))
		assert.Equal(t, float64(i), got.Data["seq"])
	}
}

func TestService_StopDrainsQueuedEvents(t *testing.T) {
	p := startPipeline(t, Options{})
	registerDevice(t, p.repo, "D1")
	obs := observer.NewChannel("ui", 16)
	p.registry.Connect(obs)

	for i := 0; i < 5; i++ {
		p.send(t, "D1", `{"temperature": 20}`)
	}
	require.NoError(t, p.svc.Stop(context.Background()))

	for i := 0; i < 5; i++ {
		recvWithin(t, obs.C(), 10*time.Millisecond)
	}

	assert.False(t, p.broker.subscribed(dataPattern))
	assert.False(t, p.svc.Stats().Running)
	assert.Error(t, p.svc.Start(context.Background()), "a stopped service cannot restart")
}

// blockingObserver holds the worker inside Broadcast until released.
type blockingObserver struct {
	release chan struct{}
}

func (o *blockingObserver) ID() string { return "blocking" }

func (o *blockingObserver) Send([]byte) error {
	<-o.release
	return nil
}

func (o *blockingObserver) Close() error { return nil }

func TestService_StopGivesUpAfterDrainTimeout(t *testing.T) {
	p := startPipeline(t, Options{DrainTimeout: 30 * time.Millisecond})
	registerDevice(t, p.repo, "D1")
	stuck := &blockingObserver{release: make(chan struct{})}
	p.registry.Connect(stuck)

	for i := 0; i < 3; i++ {
		p.send(t, "D1", `{"temperature": 20}`)
	}

	done := make(chan error, 1)
	go func() { done <- p.svc.Stop(context.Background()) }()

	time.Sleep(60 * time.Millisecond)
	close(stuck.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestService_Stats(t *testing.T) {
	p := startPipeline(t, Options{QueueCapacity: 8, Overflow: OverflowDropOldest})
	p.registry.Connect(observer.NewChannel("ui", 1))

	stats := p.svc.Stats()
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.Equal(t, 1, stats.Observers)
	assert.True(t, stats.BrokerConnected)
	assert.True(t, stats.Running)
	assert.Same(t, p.registry, p.svc.Registry())
}

func TestService_ReconcileDirect(t *testing.T) {
	p := startPipeline(t, Options{})
	registerDevice(t, p.repo, "D1")
	obs := observer.NewChannel("ui", 1)
	p.registry.Connect(obs)

	out, err := p.svc.Reconcile(context.Background(), "D1", map[string]any{"weight": 1.25})
	require.NoError(t, err)
	assert.Equal(t, []string{"weight"}, out.Applied)
	recvWithin(t, obs.C(), time.Second)
}
