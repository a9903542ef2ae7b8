package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iotbridge"

// Metrics holds the bridge's Prometheus collectors on a private registry.
// It satisfies the metrics interfaces of the ingest and observer packages.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived   prometheus.Counter
	messagesDropped    *prometheus.CounterVec
	messagesReconciled prometheus.Counter
	fieldsApplied      prometheus.Counter
	fieldsRejected     prometheus.Counter
	eventsBroadcast    prometheus.Counter
	observerDeliveries prometheus.Counter
	observerFailures   prometheus.Counter
	relayFailures      *prometheus.CounterVec
	observers          prometheus.Gauge
	queueDepth         prometheus.Gauge
	queueDropped       prometheus.Counter
	commandsPublished  *prometheus.CounterVec
	mirrorFailures     prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Telemetry messages received from the broker.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Telemetry messages dropped, by reason.",
		}, []string{"reason"}),
		messagesReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "reconciled_total",
			Help:      "Telemetry messages committed to the reading store.",
		}),
		fieldsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fields",
			Name:      "applied_total",
			Help:      "Telemetry fields stored as readings.",
		}),
		fieldsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fields",
			Name:      "rejected_total",
			Help:      "Telemetry fields skipped for an invalid key or value.",
		}),
		eventsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "broadcast_total",
			Help:      "Events serialised and broadcast to observers.",
		}),
		observerDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observer",
			Name:      "deliveries_total",
			Help:      "Event payloads accepted by observers.",
		}),
		observerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observer",
			Name:      "sends_failed_total",
			Help:      "Observer sends that failed; each failure removes the observer.",
		}),
		relayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Events a relay failed to forward.",
		}, []string{"relay"}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Live observers.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Events waiting in the handoff queue.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Events evicted from a full handoff queue.",
		}),
		commandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "published_total",
			Help:      "Device commands handed to the broker, by result.",
		}, []string{"result"}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "batches_failed_total",
			Help:      "Reading batches the time-series mirror failed to write.",
		}),
	}

	m.registry.MustRegister(
		m.messagesReceived,
		m.messagesDropped,
		m.messagesReconciled,
		m.fieldsApplied,
		m.fieldsRejected,
		m.eventsBroadcast,
		m.observerDeliveries,
		m.observerFailures,
		m.relayFailures,
		m.observers,
		m.queueDepth,
		m.queueDropped,
		m.commandsPublished,
		m.mirrorFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MessageReceived counts an inbound telemetry message.
func (m *Metrics) MessageReceived() { m.messagesReceived.Inc() }

// MessageDropped counts a message that went nowhere.
func (m *Metrics) MessageDropped(reason string) { m.messagesDropped.WithLabelValues(reason).Inc() }

// MessageReconciled counts a committed message and its stored fields.
func (m *Metrics) MessageReconciled(appliedFields int) {
	m.messagesReconciled.Inc()
	m.fieldsApplied.Add(float64(appliedFields))
}

// FieldRejected counts a skipped field.
func (m *Metrics) FieldRejected() { m.fieldsRejected.Inc() }

// EventBroadcast counts one broadcast and its per-observer outcome.
func (m *Metrics) EventBroadcast(delivered, _ int) {
	m.eventsBroadcast.Inc()
	m.observerDeliveries.Add(float64(delivered))
}

// RelayFailed counts an event a relay could not forward.
func (m *Metrics) RelayFailed(relay string) { m.relayFailures.WithLabelValues(relay).Inc() }

// CommandPublished counts a command publish attempt.
func (m *Metrics) CommandPublished(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.commandsPublished.WithLabelValues(result).Inc()
}

// SetQueueDepth records the handoff queue length.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// QueueOverflow counts an evicted event.
func (m *Metrics) QueueOverflow() { m.queueDropped.Inc() }

// SetObservers records the live observer count.
func (m *Metrics) SetObservers(n int) { m.observers.Set(float64(n)) }

// ObserverSendFailed counts a failed observer send.
func (m *Metrics) ObserverSendFailed() { m.observerFailures.Inc() }

// MirrorWriteFailed counts a reading batch rejected by the time-series mirror.
func (m *Metrics) MirrorWriteFailed() { m.mirrorFailures.Inc() }
