package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/iot-bridge/internal/alert"
	"github.com/nerrad567/iot-bridge/internal/audit"
	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/iot-bridge/internal/ingest"
	"github.com/nerrad567/iot-bridge/internal/observer"
	"github.com/nerrad567/iot-bridge/internal/schedule"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the ingestion service the API drives.
type Bridge interface {
	PublishCommand(ctx context.Context, deviceID string, payload any) error
	Stats() ingest.Stats
}

// DBStats reports connection pool statistics and liveness.
type DBStats interface {
	Stats() sql.DBStats
	HealthCheck(ctx context.Context) error
}

// Mirror reports time-series mirror activity.
type Mirror interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Devices     device.Repository
	Commands    device.CommandRepository
	History     audit.Repository    // optional
	Schedules   schedule.Repository // optional
	Scheduler   Scheduler           // optional: schedule changes are stored but not run without it
	Alerts      alert.Repository    // optional
	Observers   *observer.Registry
	Bridge      Bridge       // optional: commands fail with 503 without it
	DB          DBStats      // optional
	Mirror      Mirror       // optional: time-series mirror counters
	Metrics     http.Handler // optional: Prometheus exposition
	MetricsPath string
	Version     string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	devices     device.Repository
	commands    device.CommandRepository
	history     audit.Repository
	schedules   schedule.Repository
	scheduler   Scheduler
	alerts      alert.Repository
	observers   *observer.Registry
	bridge      Bridge
	db          DBStats
	mirror      Mirror
	metrics     http.Handler
	metricsPath string
	version     string
	startTime   time.Time

	server  *http.Server
	cancel  context.CancelFunc
	auditCh chan *audit.Entry
	auditWG chan struct{}
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command repository is required")
	}
	if deps.Observers == nil {
		return nil, fmt.Errorf("observer registry is required")
	}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		devices:     deps.Devices,
		commands:    deps.Commands,
		history:     deps.History,
		schedules:   deps.Schedules,
		scheduler:   deps.Scheduler,
		alerts:      deps.Alerts,
		observers:   deps.Observers,
		bridge:      deps.Bridge,
		db:          deps.DB,
		mirror:      deps.Mirror,
		metrics:     deps.Metrics,
		metricsPath: metricsPath,
		version:     deps.Version,
		startTime:   time.Now(),
	}
	if s.history != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return s, nil
}

// Handler returns the fully wired router. Start serves it; tests may mount
// it on an httptest server directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start launches the history writer and the HTTP listener in the background.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.startHistoryWriter(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startHistoryWriter runs drainAuditLog until ctx is cancelled. It is a
// no-op without a history repository or when already running.
func (s *Server) startHistoryWriter(ctx context.Context) {
	if s.auditCh == nil || s.auditWG != nil {
		return
	}
	s.auditWG = make(chan struct{})
	go func() {
		defer close(s.auditWG)
		s.drainAuditLog(ctx)
	}()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued history entries. WebSocket observers are closed by the
// registry owner, not here.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	if s.auditWG != nil {
		<-s.auditWG
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
