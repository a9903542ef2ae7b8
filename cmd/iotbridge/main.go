// IoT Bridge - MQTT telemetry to WebSocket observers
//
// This is the main entry point for the bridge. It subscribes to device
// telemetry over MQTT, reconciles each message into the reading store and
// broadcasts the resulting event to every connected WebSocket observer.
// Commands created through the HTTP API are published back to devices.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/iot-bridge/migrations"

	"github.com/nerrad567/iot-bridge/internal/alert"
	"github.com/nerrad567/iot-bridge/internal/api"
	"github.com/nerrad567/iot-bridge/internal/audit"
	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/relay"
	"github.com/nerrad567/iot-bridge/internal/ingest"
	"github.com/nerrad567/iot-bridge/internal/observer"
	"github.com/nerrad567/iot-bridge/internal/schedule"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	// brokerStartTimeout bounds the wait for the first broker connection.
	// The client keeps retrying in the background after it expires.
	brokerStartTimeout = 10 * time.Second

	// dependencyTimeout bounds optional dependency connections at startup.
	dependencyTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup and shutdown sequence
	log := logging.Default()
	log.Info("starting IoT bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Reading store
	db, err := database.Open(database.Config{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN,
		WALMode:      cfg.Database.WALMode,
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "driver", db.Driver())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	devices := device.NewSQLRepository(db.DB, db.Driver())
	commands := device.NewSQLCommandRepository(devices)
	history := audit.NewSQLRepository(db.DB, db.Driver())
	schedules := schedule.NewSQLRepository(db.DB, db.Driver(), devices)
	alerts := alert.NewSQLRepository(db.DB, db.Driver(), devices)

	runner := schedule.NewRunner(schedules)
	runner.SetLogger(log.Component("schedule"))

	// Observers
	registry := observer.NewRegistry()
	registry.SetLogger(log.Component("observer"))
	defer func() {
		log.Info("closing observers", "observers", registry.Count())
		registry.CloseAll()
	}()

	var promMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New()
		registry.SetMetrics(promMetrics)
	}

	instanceID := cfg.Service.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	// Telemetry mirror (optional)
	var (
		sink   ingest.ReadingSink
		mirror api.Mirror
	)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, readings will not be mirrored", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
				if promMetrics != nil {
					promMetrics.MirrorWriteFailed()
				}
			})
			sink = influxClient
			mirror = influxClient
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	// Cross-instance relay (optional)
	var redisRelay *relay.Redis
	if cfg.Redis.Enabled {
		relayCtx, cancel := context.WithTimeout(ctx, dependencyTimeout)
		redisRelay, err = relay.Connect(relayCtx, cfg.Redis, instanceID)
		cancel()
		if err != nil {
			log.Warn("Redis relay unavailable, events stay local", "error", err)
			redisRelay = nil
		} else {
			redisRelay.SetLogger(log.Component("relay"))
			defer func() {
				if closeErr := redisRelay.Close(); closeErr != nil {
					log.Error("error closing Redis relay", "error", closeErr)
				}
			}()
			log.Info("Redis relay connected", "addr", cfg.Redis.Addr, "channel", redisRelay.Channel())
		}
	}

	// Broker
	mqttClient, err := mqtt.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	// Ingestion pipeline
	opts := ingest.Options{
		Store:         devices,
		Broker:        mqttClient,
		Registry:      registry,
		Namespace:     cfg.MQTT.Namespace,
		QueueCapacity: cfg.Bridge.QueueCapacity,
		DrainTimeout:  cfg.GetDrainTimeout(),
		Sink:          sink,
		Logger:        log.Component("ingest"),
	}
	if opts.Overflow, err = ingest.ParseOverflowPolicy(cfg.Bridge.Overflow); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}
	if promMetrics != nil {
		opts.Metrics = promMetrics
	}
	if redisRelay != nil {
		opts.Relays = []ingest.Relay{redisRelay}
	}

	svc, err := ingest.NewService(opts)
	if err != nil {
		return fmt.Errorf("creating ingestion service: %w", err)
	}
	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting ingestion service: %w", startErr)
	}

	// HTTP surface
	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log.Component("api"),
		Devices:     devices,
		Commands:    commands,
		History:     history,
		Schedules:   schedules,
		Scheduler:   runner,
		Alerts:      alerts,
		Observers:   registry,
		Bridge:      svc,
		DB:          db,
		Mirror:      mirror,
		MetricsPath: cfg.Metrics.Path,
		Version:     version,
	}
	if promMetrics != nil {
		deps.Metrics = promMetrics.Handler()
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}

	// The subscription is tracked before the connection exists, so a slow
	// broker only delays telemetry.
	startCtx, cancelStart := context.WithTimeout(ctx, brokerStartTimeout)
	if startErr := mqttClient.Start(startCtx); startErr != nil {
		log.Warn("MQTT broker not reachable yet, retrying in background",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", startErr,
		)
	} else {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	}
	cancelStart()

	// Scheduled commands go through the same path as API commands.
	if startErr := runner.Start(ctx, server); startErr != nil {
		server.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("starting schedule runner: %w", startErr)
	}

	var g errgroup.Group
	if redisRelay != nil {
		g.Go(func() error {
			return listenRelay(ctx, redisRelay, func(data []byte) {
				registry.Broadcast(data)
			}, log.Component("relay"))
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"namespace", cfg.MQTT.Namespace,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	var errs []error

	runner.Stop()

	if closeErr := server.Close(); closeErr != nil {
		errs = append(errs, closeErr)
	}

	// Stop inbound telemetry, then drain the queue to observers. The broker
	// is closed afterwards by the deferred Close above.
	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), cfg.GetDrainTimeout()+time.Second)
	if stopErr := svc.Stop(stopCtx); stopErr != nil {
		errs = append(errs, fmt.Errorf("stopping ingestion service: %w", stopErr))
	}
	cancelStop()

	if waitErr := g.Wait(); waitErr != nil {
		errs = append(errs, waitErr)
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("shutdown completed with errors", "error", err)
		return err
	}
	log.Info("IoT bridge stopped")
	return nil
}

// relayListener receives events published by other bridge instances.
type relayListener interface {
	Listen(ctx context.Context, ready chan<- struct{}, deliver func(data []byte)) error
}

// listenRelay forwards peer events to local observers until ctx ends. The
// relay is optional, so a failed subscription is logged and the bridge
// keeps serving its own events.
func listenRelay(ctx context.Context, l relayListener, deliver func([]byte), log *logging.Logger) error {
	if err := l.Listen(ctx, nil, deliver); err != nil && ctx.Err() == nil {
		log.Error("relay listener stopped, events from other instances will not be delivered", "error", err)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Checks IOTBRIDGE_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("IOTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
