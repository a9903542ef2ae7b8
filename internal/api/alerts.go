package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-bridge/internal/alert"
)

// createAlertRequest is the body of POST /alerts.
type createAlertRequest struct {
	DeviceID   string `json:"device_id"`
	SensorType string `json:"sensor_type"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

// handleListAlerts returns paginated alerts, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - type: filter by alert type
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alerts not configured")
		return
	}

	q := r.URL.Query()
	filter := alert.Filter{
		DeviceID: q.Get("device_id"),
		Type:     q.Get("type"),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = n
	}

	result, err := s.alerts.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list alerts", "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetAlert returns one alert.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alerts not configured")
		return
	}
	a, err := s.alerts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAlertError(w, err, "failed to get alert")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleCreateAlert records an alert raised outside the bridge.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alerts not configured")
		return
	}

	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	a := &alert.Alert{
		DeviceID:   req.DeviceID,
		SensorType: req.SensorType,
		Type:       req.Type,
		Message:    req.Message,
	}
	if err := s.alerts.Create(r.Context(), a); err != nil {
		s.writeAlertError(w, err, "failed to create alert")
		return
	}
	s.logger.Info("alert raised", "alert_id", a.ID, "device_id", a.DeviceID, "type", a.Type)
	writeJSON(w, http.StatusCreated, a)
}

// handleDeleteAlert removes an alert, which is how alerts are acknowledged.
func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alerts not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.alerts.Delete(r.Context(), id); err != nil {
		s.writeAlertError(w, err, "failed to delete alert")
		return
	}
	s.logger.Info("alert deleted", "alert_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeAlertError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, alert.ErrNotFound):
		writeNotFound(w, "alert not found")
	case errors.Is(err, alert.ErrInvalid):
		writeValidationError(w, err.Error())
	default:
		s.writeDeviceError(w, err, fallback)
	}
}
