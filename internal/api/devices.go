package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-bridge/internal/audit"
	"github.com/nerrad567/iot-bridge/internal/device"
)

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// updateDeviceRequest is the body of PATCH /devices/{id}.
type updateDeviceRequest struct {
	Name *string `json:"name"`
	Type *string `json:"type"`
}

// readingResponse adds the decoded value alongside the stored columns.
type readingResponse struct {
	device.Reading
	Value any `json:"value"`
}

func toReadingResponses(readings []device.Reading) []readingResponse {
	out := make([]readingResponse, 0, len(readings))
	for _, r := range readings {
		out = append(out, readingResponse{Reading: r, Value: r.Value().Interface()})
	}
	return out
}

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a device. Telemetry from unregistered ids is
// dropped by the bridge, so this is the only way a device comes to exist.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{ID: req.ID, Name: req.Name, Type: req.Type}
	if err := s.devices.Create(r.Context(), dev); err != nil {
		s.writeDeviceError(w, err, "failed to create device")
		return
	}

	s.logger.Info("device registered", "device_id", dev.ID, "name", dev.Name)
	s.auditLog(&audit.Entry{
		DeviceID:    dev.ID,
		EventType:   audit.EventDeviceCreated,
		Description: fmt.Sprintf("Device %q registered", dev.Name),
		RelatedID:   dev.ID,
	})
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice changes a device's name or type.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	existing, err := s.devices.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to get device")
		return
	}
	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Type != nil {
		existing.Type = *req.Type
	}

	if err := s.devices.Update(ctx, existing); err != nil {
		s.writeDeviceError(w, err, "failed to update device")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice removes a device with its readings and commands.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Delete(r.Context(), id); err != nil {
		s.writeDeviceError(w, err, "failed to delete device")
		return
	}

	s.logger.Info("device deleted", "device_id", id)
	s.auditLog(&audit.Entry{
		DeviceID:    id,
		EventType:   audit.EventDeviceDeleted,
		Description: fmt.Sprintf("Device %s deleted", id),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleListDeviceReadings returns the latest reading of each sensor type.
func (s *Server) handleListDeviceReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	readings, err := s.devices.ListReadings(r.Context(), id)
	if err != nil {
		s.writeDeviceError(w, err, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"readings":  toReadingResponses(readings),
		"count":     len(readings),
	})
}

// handleListReadings returns every stored reading.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := s.devices.ListAllReadings(r.Context())
	if err != nil {
		s.logger.Error("failed to list readings", "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": toReadingResponses(readings),
		"count":    len(readings),
	})
}

// writeDeviceError maps device package errors onto HTTP responses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrCommandNotFound):
		writeNotFound(w, "command not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "device already exists")
	case isValidationError(err):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}

// isValidationError reports whether err came from input validation.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidStatus) ||
		errors.Is(err, device.ErrInvalidCommand)
}
