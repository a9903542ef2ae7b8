package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-bridge/internal/audit"
	"github.com/nerrad567/iot-bridge/internal/device"
)

// createCommandRequest is the body of POST /commands.
type createCommandRequest struct {
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params"`
}

// handleListCommands returns all commands, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := s.commands.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// handleListDeviceCommands returns the commands sent to one device.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := s.devices.GetByID(ctx, id); err != nil {
		s.writeDeviceError(w, err, "failed to get device")
		return
	}
	commands, err := s.commands.ListByDevice(ctx, id)
	if err != nil {
		s.logger.Error("failed to list commands", "device_id", id, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "commands": commands, "count": len(commands)})
}

// handleGetCommand returns a single command by ID.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.commands.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to get command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

var (
	// errCommandsUnavailable is returned by DispatchCommand without a bridge.
	errCommandsUnavailable = errors.New("command publishing not available")

	// errNotPublished wraps a broker failure after the command was stored.
	errNotPublished = errors.New("command stored but not published")
)

// DispatchCommand stores cmd as pending, records it in the history and
// publishes it to the device's command topic. The HTTP handler and the
// schedule runner both send commands through here.
//
// The command is stored before publishing. A publish failure returns an
// error wrapping errNotPublished with cmd.ID set; the stored command stays
// pending since commands are never acknowledged.
func (s *Server) DispatchCommand(ctx context.Context, cmd *device.Command) error {
	if s.bridge == nil {
		return errCommandsUnavailable
	}
	if err := s.commands.Create(ctx, cmd); err != nil {
		return err
	}

	s.auditLog(&audit.Entry{
		DeviceID:    cmd.DeviceID,
		EventType:   audit.EventCommandCreated,
		Description: fmt.Sprintf("Command %q created for device %s", cmd.Action, cmd.DeviceID),
		RelatedID:   cmd.ID,
	})

	if err := s.bridge.PublishCommand(ctx, cmd.DeviceID, commandPayload(cmd)); err != nil {
		s.logger.Error("command publish failed",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"error", err,
		)
		s.auditLog(&audit.Entry{
			DeviceID:    cmd.DeviceID,
			EventType:   audit.EventCommandFailed,
			Description: fmt.Sprintf("Command %q could not be published", cmd.Action),
			RelatedID:   cmd.ID,
		})
		return fmt.Errorf("%w: %w", errNotPublished, err)
	}

	s.logger.Info("command published", "command_id", cmd.ID, "device_id", cmd.DeviceID, "action", cmd.Action)
	return nil
}

// handleCreateCommand sends a command through DispatchCommand. A publish
// failure returns 502 with the stored command.
func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "command publishing not available")
		return
	}

	var req createCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd := &device.Command{
		DeviceID: req.DeviceID,
		Action:   req.Action,
		Params:   req.Params,
	}
	err := s.DispatchCommand(r.Context(), cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, cmd)
	case errors.Is(err, errCommandsUnavailable):
		writeUnavailable(w, err.Error())
	case errors.Is(err, errNotPublished):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":  http.StatusBadGateway,
			"code":    ErrCodeBadGateway,
			"message": "command stored but could not be published",
			"command": cmd,
		})
	default:
		s.writeDeviceError(w, err, "failed to create command")
	}
}

// updateCommandRequest is the body of PUT /commands/{id}. Absent fields
// are left unchanged.
type updateCommandRequest struct {
	Action     *string               `json:"action"`
	Params     *map[string]any       `json:"params"`
	Status     *device.CommandStatus `json:"status"`
	ExecutedAt *time.Time            `json:"executed_at"`
}

// handleUpdateCommand lets an operator correct a command or record its
// outcome. Nothing is republished.
func (s *Server) handleUpdateCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := s.commands.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to get command")
		return
	}
	if req.Action != nil {
		cmd.Action = *req.Action
	}
	if req.Params != nil {
		cmd.Params = *req.Params
	}
	if req.Status != nil {
		cmd.Status = *req.Status
	}
	if req.ExecutedAt != nil {
		at := req.ExecutedAt.UTC()
		cmd.ExecutedAt = &at
	}

	if err := s.commands.Update(ctx, cmd); err != nil {
		s.writeDeviceError(w, err, "failed to update command")
		return
	}
	s.logger.Info("command updated", "command_id", cmd.ID, "status", cmd.Status)
	writeJSON(w, http.StatusOK, cmd)
}

// handleDeleteCommand removes a stored command.
func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.commands.Delete(r.Context(), id); err != nil {
		s.writeDeviceError(w, err, "failed to delete command")
		return
	}
	s.logger.Info("command deleted", "command_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// commandPayload is the JSON object sent to the device: the params with the
// action added under "action" unless params already set it.
func commandPayload(cmd *device.Command) map[string]any {
	payload := make(map[string]any, len(cmd.Params)+1)
	maps.Copy(payload, cmd.Params)
	if _, ok := payload["action"]; !ok {
		payload["action"] = cmd.Action
	}
	return payload
}
