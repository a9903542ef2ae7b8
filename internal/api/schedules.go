package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-bridge/internal/audit"
	"github.com/nerrad567/iot-bridge/internal/schedule"
)

// Scheduler keeps cron entries in step with stored schedules.
type Scheduler interface {
	Sync(ctx context.Context) error
	NextRun(id string) (time.Time, bool)
}

// createScheduleRequest is the body of POST /schedules. Active defaults to true.
type createScheduleRequest struct {
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params"`
	Cron     string         `json:"cron"`
	Active   *bool          `json:"active"`
}

// updateScheduleRequest is the body of PUT /schedules/{id}. Absent fields
// are left unchanged.
type updateScheduleRequest struct {
	Action *string         `json:"action"`
	Params *map[string]any `json:"params"`
	Cron   *string         `json:"cron"`
	Active *bool           `json:"active"`
}

// scheduleResponse adds the next firing time when the runner knows it.
type scheduleResponse struct {
	schedule.Schedule
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (s *Server) toScheduleResponse(sched schedule.Schedule) scheduleResponse {
	resp := scheduleResponse{Schedule: sched}
	if s.scheduler != nil {
		if next, ok := s.scheduler.NextRun(sched.ID); ok {
			resp.NextRun = &next
		}
	}
	return resp
}

// handleListSchedules returns schedules, optionally for one device
// (?device_id=) or only active ones (?active=true).
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeUnavailable(w, "schedules not configured")
		return
	}

	q := r.URL.Query()
	filter := schedule.Filter{
		DeviceID:   q.Get("device_id"),
		ActiveOnly: q.Get("active") == "true",
	}
	schedules, err := s.schedules.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list schedules", "error", err)
		writeInternalError(w, "failed to list schedules")
		return
	}

	resp := make([]scheduleResponse, len(schedules))
	for i, sched := range schedules {
		resp[i] = s.toScheduleResponse(sched)
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": resp, "count": len(resp)})
}

// handleGetSchedule returns one schedule.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeUnavailable(w, "schedules not configured")
		return
	}
	sched, err := s.schedules.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeScheduleError(w, err, "failed to get schedule")
		return
	}
	writeJSON(w, http.StatusOK, s.toScheduleResponse(*sched))
}

// handleCreateSchedule stores a schedule, records it in the history and
// registers it with the runner.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeUnavailable(w, "schedules not configured")
		return
	}

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sched := &schedule.Schedule{
		DeviceID: req.DeviceID,
		Action:   req.Action,
		Params:   req.Params,
		Cron:     req.Cron,
		Active:   req.Active == nil || *req.Active,
	}
	if err := s.schedules.Create(r.Context(), sched); err != nil {
		s.writeScheduleError(w, err, "failed to create schedule")
		return
	}

	s.logger.Info("schedule created", "schedule_id", sched.ID, "device_id", sched.DeviceID, "cron", sched.Cron)
	s.auditLog(&audit.Entry{
		DeviceID:    sched.DeviceID,
		EventType:   audit.EventScheduleCreated,
		Description: fmt.Sprintf("Schedule %q created for device %s with cron %q", sched.Action, sched.DeviceID, sched.Cron),
		RelatedID:   sched.ID,
	})
	s.syncSchedules(r.Context())
	writeJSON(w, http.StatusCreated, s.toScheduleResponse(*sched))
}

// handleUpdateSchedule changes a schedule's command, cron or active flag.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeUnavailable(w, "schedules not configured")
		return
	}
	ctx := r.Context()

	var req updateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sched, err := s.schedules.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeScheduleError(w, err, "failed to get schedule")
		return
	}
	if req.Action != nil {
		sched.Action = *req.Action
	}
	if req.Params != nil {
		sched.Params = *req.Params
	}
	if req.Cron != nil {
		sched.Cron = *req.Cron
	}
	if req.Active != nil {
		sched.Active = *req.Active
	}

	if err := s.schedules.Update(ctx, sched); err != nil {
		s.writeScheduleError(w, err, "failed to update schedule")
		return
	}
	s.logger.Info("schedule updated", "schedule_id", sched.ID, "cron", sched.Cron, "active", sched.Active)
	s.syncSchedules(ctx)
	writeJSON(w, http.StatusOK, s.toScheduleResponse(*sched))
}

// handleDeleteSchedule removes a schedule and its cron entry.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeUnavailable(w, "schedules not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.schedules.Delete(r.Context(), id); err != nil {
		s.writeScheduleError(w, err, "failed to delete schedule")
		return
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	s.syncSchedules(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// syncSchedules refreshes the runner after a change. The stored row stays
// authoritative when this fails; the next successful sync picks it up.
func (s *Server) syncSchedules(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Sync(ctx); err != nil {
		s.logger.Warn("schedule sync failed", "error", err)
	}
}

func (s *Server) writeScheduleError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		writeNotFound(w, "schedule not found")
	case errors.Is(err, schedule.ErrInvalid):
		writeValidationError(w, err.Error())
	default:
		s.writeDeviceError(w, err, fallback)
	}
}
