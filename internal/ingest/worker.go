package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nerrad567/iot-bridge/internal/observer"
)

// Broadcaster fans a serialised event out to live observers.
// *observer.Registry implements it.
type Broadcaster interface {
	Broadcast(data []byte) observer.Result
}

// Relay forwards serialised events to another process, such as a Redis
// channel consumed by other bridge instances.
type Relay interface {
	Name() string
	Publish(ctx context.Context, data []byte) error
}

// Worker is the single consumer of the handoff queue. It serialises each
// event once and hands the bytes to the broadcaster and every relay.
// Events are delivered in queue order.
type Worker struct {
	queue       *Queue
	broadcaster Broadcaster
	relays      []Relay

	logger  Logger
	metrics Metrics

	startOnce sync.Once
	done      chan struct{}
}

// NewWorker creates a worker draining queue into broadcaster.
func NewWorker(queue *Queue, broadcaster Broadcaster) *Worker {
	return &Worker{
		queue:       queue,
		broadcaster: broadcaster,
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		done:        make(chan struct{}),
	}
}

// AddRelay registers a relay. Call before Run.
func (w *Worker) AddRelay(r Relay) {
	if r != nil {
		w.relays = append(w.relays, r)
	}
}

// SetLogger sets the logger.
func (w *Worker) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetMetrics sets the metrics sink.
func (w *Worker) SetMetrics(m Metrics) {
	if m != nil {
		w.metrics = m
	}
}

// Run consumes events until the queue is closed and drained, returning
// nil, or until ctx ends, returning ctx.Err(). Only the first call runs;
// later calls wait for it to finish.
func (w *Worker) Run(ctx context.Context) error {
	var err error
	ran := false
	w.startOnce.Do(func() {
		ran = true
		err = w.loop(ctx)
	})
	if !ran {
		<-w.done
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	defer close(w.done)
	w.logger.Debug("broadcast worker started")

	for {
		// Pop prefers queued events over a done ctx, so check first.
		if err := ctx.Err(); err != nil {
			w.logger.Warn("broadcast worker cancelled", "pending", w.queue.Len())
			return err
		}
		ev, err := w.queue.Pop(ctx)
		if errors.Is(err, ErrQueueClosed) {
			w.logger.Debug("broadcast worker drained")
			return nil
		}
		if err != nil {
			w.logger.Warn("broadcast worker cancelled", "pending", w.queue.Len())
			return err
		}
		w.deliver(ctx, ev)
	}
}

// deliver never returns an error; one bad event or observer must not stop
// the worker.
func (w *Worker) deliver(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("serialising event", "device_id", ev.DeviceID, "error", err)
		return
	}

	result := w.broadcaster.Broadcast(data)
	w.metrics.EventBroadcast(result.Delivered, result.Failed)

	for _, r := range w.relays {
		if err := r.Publish(ctx, data); err != nil {
			w.metrics.RelayFailed(r.Name())
			w.logger.Warn("relaying event", "relay", r.Name(), "device_id", ev.DeviceID, "error", err)
		}
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until Run returns or ctx ends.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
