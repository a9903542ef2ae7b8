package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/observer"
)

// DefaultDrainTimeout bounds how long Stop waits for queued events.
const DefaultDrainTimeout = 5 * time.Second

// Options configures a Service. Store, Broker and Registry are required.
type Options struct {
	Store    device.TelemetryStore
	Broker   Broker
	Registry *observer.Registry

	// Namespace is the first topic level, "iot" when empty.
	Namespace string

	// QueueCapacity bounds the handoff queue; 0 is unbounded.
	QueueCapacity int
	Overflow      OverflowPolicy

	// DrainTimeout bounds Stop's wait for the worker to flush the queue.
	DrainTimeout time.Duration

	Relays []Relay
	Sink   ReadingSink
	Clock  func() time.Time

	Logger  Logger
	Metrics Metrics
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	QueueDropped    uint64 `json:"queue_dropped"`
	Observers       int    `json:"observers"`
	BrokerConnected bool   `json:"broker_connected"`
	Running         bool   `json:"running"`
}

// Service wires the ingress, reconciler, handoff queue and broadcast worker
// into one lifecycle.
//
// Stop runs the shutdown sequence: stop accepting telemetry, place the
// terminal marker on the queue, then wait a bounded time for the worker to
// drain. Closing the broker connection is left to the caller, after Stop.
type Service struct {
	queue      *Queue
	reconciler *Reconciler
	worker     *Worker
	ingress    *Ingress
	registry   *observer.Registry
	broker     Broker

	drainTimeout time.Duration
	logger       Logger

	mu           sync.Mutex
	running      bool
	cancelWorker context.CancelFunc
	workerErr    chan error
}

// NewService validates opts and builds the pipeline.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if opts.Broker == nil {
		return nil, errors.New("ingest: broker is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("ingest: observer registry is required")
	}
	if opts.Namespace == "" {
		opts.Namespace = "iot"
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	var metrics Metrics = noopMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}

	queue := NewQueue(opts.QueueCapacity, opts.Overflow)
	queue.SetMetrics(metrics)

	reconciler := NewReconciler(opts.Store, queue)
	reconciler.SetClock(opts.Clock)
	reconciler.SetLogger(logger)
	reconciler.SetMetrics(metrics)
	if opts.Sink != nil {
		reconciler.SetSink(opts.Sink)
	}

	worker := NewWorker(queue, opts.Registry)
	worker.SetLogger(logger)
	worker.SetMetrics(metrics)
	for _, r := range opts.Relays {
		worker.AddRelay(r)
	}

	ingress := NewIngress(opts.Broker, Topics{Namespace: opts.Namespace}, reconciler)
	ingress.SetLogger(logger)
	ingress.SetMetrics(metrics)

	return &Service{
		queue:        queue,
		reconciler:   reconciler,
		worker:       worker,
		ingress:      ingress,
		registry:     opts.Registry,
		broker:       opts.Broker,
		drainTimeout: opts.DrainTimeout,
		logger:       logger,
		workerErr:    make(chan error, 1),
	}, nil
}

// Start launches the broadcast worker and subscribes to telemetry.
// The worker outlives ctx so that Stop can drain it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.queue.Closed() {
		return errors.New("ingest: service cannot be restarted after Stop")
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelWorker = cancel
	go func() {
		s.workerErr <- s.worker.Run(workerCtx)
	}()

	if err := s.ingress.Start(ctx); err != nil {
		s.queue.Close()
		cancel()
		return err
	}

	s.running = true
	s.logger.Info("ingestion pipeline started",
		"namespace", s.ingress.Topics().Namespace,
		"queue_capacity", s.queue.Capacity(),
	)
	return nil
}

// Stop shuts the pipeline down in order. Events still queued when the
// drain timeout expires are discarded and reported in the error.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	var errs []error
	if err := s.ingress.Stop(drainCtx); err != nil {
		errs = append(errs, err)
	}

	s.queue.Close()

	if err := s.worker.Wait(drainCtx); err != nil {
		pending := s.queue.Len()
		s.cancelWorker()
		<-s.worker.Done()
		s.logger.Warn("broadcast queue not drained before timeout", "discarded", pending)
		errs = append(errs, fmt.Errorf("draining broadcast queue, %d events discarded: %w", pending, err))
	} else {
		s.cancelWorker()
	}

	if err := <-s.workerErr; err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}

	s.logger.Info("ingestion pipeline stopped")
	return errors.Join(errs...)
}

// Reconcile applies telemetry directly, bypassing MQTT.
func (s *Service) Reconcile(ctx context.Context, deviceID string, fields map[string]any) (*Outcome, error) {
	return s.reconciler.Reconcile(ctx, deviceID, fields)
}

// PublishCommand sends a command payload to a device.
func (s *Service) PublishCommand(ctx context.Context, deviceID string, payload any) error {
	return s.ingress.PublishCommand(ctx, deviceID, payload)
}

// Registry returns the observer registry events are broadcast to.
func (s *Service) Registry() *observer.Registry {
	return s.registry
}

// Stats returns a snapshot of queue and observer state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return Stats{
		QueueDepth:      s.queue.Len(),
		QueueCapacity:   s.queue.Capacity(),
		QueueDropped:    s.queue.Dropped(),
		Observers:       s.registry.Count(),
		BrokerConnected: s.broker.IsConnected(),
		Running:         running,
	}
}
