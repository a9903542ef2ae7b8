package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/iot-bridge/internal/device"
)

// Dispatcher stores, records and publishes one command. On return cmd.ID is
// set if the command was stored, even when publishing failed.
type Dispatcher interface {
	DispatchCommand(ctx context.Context, cmd *device.Command) error
}

// Logger is the logging surface used by Runner.
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

// entry is the cron registration of one schedule.
type entry struct {
	id   cron.EntryID
	spec string
}

// Runner fires active schedules.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Runner struct {
	repo Repository
	cron *cron.Cron

	logMu  sync.RWMutex
	logger Logger

	mu       sync.Mutex
	ctx      context.Context //nolint:containedctx // Scopes dispatches between Start and Stop
	dispatch Dispatcher
	entries  map[string]entry
	started  bool
}

// NewRunner creates a stopped runner over repo. Extra cron options (a
// location, for instance) are applied after the defaults.
func NewRunner(repo Repository, opts ...cron.Option) *Runner {
	r := &Runner{
		repo:    repo,
		logger:  noopLogger{},
		entries: make(map[string]entry),
	}
	log := cronLogger{r}
	r.cron = cron.New(append([]cron.Option{
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	}, opts...)...)
	return r
}

// SetLogger sets the runner's logger.
func (r *Runner) SetLogger(logger Logger) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	r.logger = logger
}

// log has its own lock: the cron loop logs while Sync holds mu and waits
// on that loop.
func (r *Runner) log() Logger {
	r.logMu.RLock()
	defer r.logMu.RUnlock()
	return r.logger
}

// Start loads the active schedules and begins firing them through d.
// Dispatches run under ctx.
func (r *Runner) Start(ctx context.Context, d Dispatcher) error {
	if d == nil {
		return fmt.Errorf("schedule runner: dispatcher is required")
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("schedule runner: already started")
	}
	r.ctx = ctx
	r.dispatch = d
	r.started = true
	r.mu.Unlock()

	if err := r.Sync(ctx); err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
		return err
	}
	r.cron.Start()
	r.log().Info("schedule runner started", "schedules", r.Len())
	return nil
}

// Stop halts firing and waits for dispatches already running.
func (r *Runner) Stop() {
	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()
	if !started {
		return
	}
	<-r.cron.Stop().Done()
	r.log().Info("schedule runner stopped")
}

// Sync reconciles the cron entries with the active schedules in the
// repository: new schedules are added, changed expressions re-registered,
// and deleted or paused schedules removed.
func (r *Runner) Sync(ctx context.Context) error {
	active, err := r.repo.List(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]string, len(active))
	for _, s := range active {
		want[s.ID] = s.Cron
	}

	for id, e := range r.entries {
		if spec, ok := want[id]; !ok || spec != e.spec {
			r.cron.Remove(e.id)
			delete(r.entries, id)
		}
	}

	for id, spec := range want {
		if _, ok := r.entries[id]; ok {
			continue
		}
		scheduleID := id
		entryID, err := r.cron.AddFunc(spec, func() { r.fire(scheduleID) })
		if err != nil {
			// Stored rows were validated; an unparsable one is skipped
			// rather than blocking the others.
			r.log().Error("invalid stored schedule", "schedule_id", id, "cron", spec, "error", err)
			continue
		}
		r.entries[id] = entry{id: entryID, spec: spec}
	}
	return nil
}

// Len returns the number of registered schedules.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// NextRun reports when schedule id fires next. ok is false for schedules
// that are not registered or have not been scheduled yet.
func (r *Runner) NextRun(id string) (next time.Time, ok bool) {
	r.mu.Lock()
	e, found := r.entries[id]
	r.mu.Unlock()
	if !found {
		return time.Time{}, false
	}
	next = r.cron.Entry(e.id).Next
	return next, !next.IsZero()
}

// fire reloads schedule id and dispatches its command if still active.
func (r *Runner) fire(id string) {
	r.mu.Lock()
	ctx, d := r.ctx, r.dispatch
	r.mu.Unlock()
	logger := r.log()
	if d == nil || ctx.Err() != nil {
		return
	}

	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error("loading schedule failed", "schedule_id", id, "error", err)
		}
		return
	}
	if !s.Active {
		return
	}

	cmd := s.Command()
	if err := d.DispatchCommand(ctx, cmd); err != nil {
		logger.Warn("scheduled command failed",
			"schedule_id", s.ID,
			"device_id", s.DeviceID,
			"action", s.Action,
			"command_id", cmd.ID,
			"error", err,
		)
		return
	}
	logger.Info("scheduled command dispatched",
		"schedule_id", s.ID,
		"device_id", s.DeviceID,
		"command_id", cmd.ID,
	)
}

// cronLogger routes the cron library's logging through the runner's logger.
type cronLogger struct{ r *Runner }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.r.log().Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.r.log().Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
