package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-bridge/internal/audit"
)

// auditChanSize is the buffer size for the async history channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues a history entry for asynchronous write (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(entry *audit.Entry) {
	if s.auditCh == nil {
		return
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("history channel full, dropping entry",
			"event_type", entry.EventType,
			"device_id", entry.DeviceID,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled, then
// drains what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	write := func(entry *audit.Entry) {
		if err := s.history.Create(context.Background(), entry); err != nil {
			s.logger.Error("history write failed",
				"event_type", entry.EventType,
				"device_id", entry.DeviceID,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// handleListHistory returns paginated history entries.
//
// Query parameters:
//   - device_id: filter by device
//   - event_type: filter by event type (device_created, command_created, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID:  q.Get("device_id"),
		EventType: q.Get("event_type"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		writeInternalError(w, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetHistoryEntry returns one history entry.
func (s *Server) handleGetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history not configured")
		return
	}
	entry, err := s.history.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeHistoryError(w, err, "failed to get history entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteHistoryEntry removes one history entry.
func (s *Server) handleDeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.history.Delete(r.Context(), id); err != nil {
		s.writeHistoryError(w, err, "failed to delete history entry")
		return
	}
	s.logger.Info("history entry deleted", "history_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeHistoryError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, audit.ErrNotFound) {
		writeNotFound(w, "history entry not found")
		return
	}
	s.logger.Error(fallback, "error", err)
	writeInternalError(w, fallback)
}
