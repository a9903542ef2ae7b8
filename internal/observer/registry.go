package observer

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Observer is a live endpoint that receives broadcast payloads.
type Observer interface {
	// ID identifies the observer in logs. IDs must be unique per registry.
	ID() string

	// Send delivers one payload. It must not block indefinitely; a non-nil
	// error marks the observer as dead.
	Send(data []byte) error

	// Close releases the observer's resources. It may be called more than once.
	Close() error
}

// Logger is the logging surface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Metrics receives registry gauges and counters.
type Metrics interface {
	SetObservers(n int)
	ObserverSendFailed()
}

type noopMetrics struct{}

func (noopMetrics) SetObservers(int)    {}
func (noopMetrics) ObserverSendFailed() {}

// Result summarises one broadcast.
type Result struct {
	Delivered int
	Failed    int
}

// Registry holds the live observer set.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]Observer

	logger  Logger
	metrics Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[string]Observer),
		logger:    noopLogger{},
		metrics:   noopMetrics{},
	}
}

// SetLogger sets the logger. Call before the registry is shared.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetMetrics sets the metrics sink. Call before the registry is shared.
func (r *Registry) SetMetrics(m Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// Connect adds an observer to the live set. An observer already registered
// under the same ID is replaced and closed.
func (r *Registry) Connect(o Observer) {
	r.mu.Lock()
	previous, replaced := r.observers[o.ID()]
	r.observers[o.ID()] = o
	count := len(r.observers)
	r.mu.Unlock()

	if replaced && previous != o {
		previous.Close() //nolint:errcheck // Replaced observer is discarded
	}

	r.metrics.SetObservers(count)
	r.logger.Debug("observer connected", "observer_id", o.ID(), "observers", count)
}

// Disconnect removes an observer and closes it. Disconnecting an observer
// that is not registered is a no-op.
func (r *Registry) Disconnect(o Observer) {
	if !r.remove(o) {
		return
	}
	o.Close() //nolint:errcheck // Observer is gone either way
	r.logger.Debug("observer disconnected", "observer_id", o.ID(), "observers", r.Count())
}

// remove deletes o if it is the registered observer for its ID.
func (r *Registry) remove(o Observer) bool {
	r.mu.Lock()
	current, ok := r.observers[o.ID()]
	if ok && current == o {
		delete(r.observers, o.ID())
	}
	count := len(r.observers)
	r.mu.Unlock()

	if !ok || current != o {
		return false
	}
	r.metrics.SetObservers(count)
	return true
}

// Broadcast sends data to every observer connected at the time of the call.
// Observers whose Send fails are removed and closed before Broadcast returns.
func (r *Registry) Broadcast(data []byte) Result {
	r.mu.RLock()
	snapshot := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		snapshot = append(snapshot, o)
	}
	r.mu.RUnlock()

	var result Result
	for _, o := range snapshot {
		if err := o.Send(data); err != nil {
			result.Failed++
			r.metrics.ObserverSendFailed()
			r.logger.Warn("removing failed observer", "observer_id", o.ID(), "error", err)
			r.Disconnect(o)
			continue
		}
		result.Delivered++
	}

	return result
}

// BroadcastJSON serialises v once and broadcasts it.
func (r *Registry) BroadcastJSON(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("marshalling broadcast payload: %w", err)
	}
	return r.Broadcast(data), nil
}

// Count returns the number of live observers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// CloseAll disconnects every observer. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	observers := r.observers
	r.observers = make(map[string]Observer)
	r.mu.Unlock()

	for _, o := range observers {
		o.Close() //nolint:errcheck // Shutdown path
	}
	r.metrics.SetObservers(0)
}
