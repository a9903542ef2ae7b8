package ingest

// Drop reasons reported through Metrics.MessageDropped.
const (
	DropMalformedTopic   = "malformed_topic"
	DropMalformedPayload = "malformed_payload"
	DropUnknownDevice    = "unknown_device"
	DropStoreError       = "store_error"
	DropQueueClosed      = "queue_closed"
	DropStopped          = "stopped"
	DropCancelled        = "cancelled"
)

// Metrics receives pipeline measurements. The prometheus implementation
// lives in the metrics package; tests and embedders may pass nil.
type Metrics interface {
	QueueMetrics

	MessageReceived()
	MessageDropped(reason string)
	MessageReconciled(appliedFields int)
	FieldRejected()
	EventBroadcast(delivered, failed int)
	RelayFailed(relay string)
	CommandPublished(ok bool)
}

type noopMetrics struct {
	noopQueueMetrics
}

func (noopMetrics) MessageReceived()        {}
func (noopMetrics) MessageDropped(string)   {}
func (noopMetrics) MessageReconciled(int)   {}
func (noopMetrics) FieldRejected()          {}
func (noopMetrics) EventBroadcast(int, int) {}
func (noopMetrics) RelayFailed(string)      {}
func (noopMetrics) CommandPublished(bool)   {}

// Logger is the logging surface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
