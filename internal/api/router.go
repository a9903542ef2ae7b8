package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/metrics", s.handleSystemMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/readings", s.handleListDeviceReadings)
				r.Get("/commands", s.handleListDeviceCommands)
			})
		})

		r.Get("/readings", s.handleListReadings)

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/", s.handleCreateCommand)
			r.Get("/{id}", s.handleGetCommand)
			r.Put("/{id}", s.handleUpdateCommand)
			r.Delete("/{id}", s.handleDeleteCommand)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{id}", s.handleGetSchedule)
			r.Put("/{id}", s.handleUpdateSchedule)
			r.Delete("/{id}", s.handleDeleteSchedule)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/", s.handleCreateAlert)
			r.Get("/{id}", s.handleGetAlert)
			r.Delete("/{id}", s.handleDeleteAlert)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Get("/{id}", s.handleGetHistoryEntry)
			r.Delete("/{id}", s.handleDeleteHistoryEntry)
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)
	if wsPath != legacyWSPath {
		r.Get(legacyWSPath, s.handleWebSocket)
	}

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics)
	}

	return r
}

// handleHealth reports liveness plus database and broker connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	dbStatus := "unknown"
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			dbStatus = "error"
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			dbStatus = "ok"
		}
	}

	mqttConnected := false
	if s.bridge != nil {
		mqttConnected = s.bridge.Stats().BrokerConnected
	}
	if !mqttConnected && status == "ok" {
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"database":       dbStatus,
		"mqtt_connected": mqttConnected,
		"observers":      s.observers.Count(),
	})
}
