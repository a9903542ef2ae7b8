package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-bridge/internal/ingest"
	"github.com/nerrad567/iot-bridge/internal/observer"
)

var (
	_ ingest.Metrics   = (*Metrics)(nil)
	_ observer.Metrics = (*Metrics)(nil)
)

func TestMessageCounters(t *testing.T) {
	m := New()

	m.MessageReceived()
	m.MessageReceived()
	m.MessageDropped(ingest.DropUnknownDevice)
	m.MessageReconciled(3)
	m.FieldRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDropped.WithLabelValues(ingest.DropUnknownDevice)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.messagesDropped.WithLabelValues(ingest.DropMalformedPayload)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReconciled))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fieldsApplied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fieldsRejected))
}

func TestBroadcastAndObserverCounters(t *testing.T) {
	m := New()

	m.EventBroadcast(2, 1)
	m.ObserverSendFailed()
	m.SetObservers(2)
	m.RelayFailed("redis")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsBroadcast))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.observerDeliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.observerFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.observers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayFailures.WithLabelValues("redis")))
}

func TestQueueAndCommandCounters(t *testing.T) {
	m := New()

	m.SetQueueDepth(7)
	m.SetQueueDepth(4)
	m.QueueOverflow()
	m.CommandPublished(true)
	m.CommandPublished(false)
	m.CommandPublished(false)
	m.MirrorWriteFailed()

	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsPublished.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsPublished.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorFailures))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.MessageReceived()
	m.MessageDropped(ingest.DropMalformedTopic)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "iotbridge_messages_received_total 1")
	assert.Contains(t, text, `iotbridge_messages_dropped_total{reason="malformed_topic"} 1`)
	assert.Contains(t, text, "go_goroutines")
	assert.True(t, strings.Contains(text, "# TYPE iotbridge_queue_depth gauge"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.MessageReceived()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.messagesReceived))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.messagesReceived))
}
