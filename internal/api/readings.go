package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pzem016-mqtt/internal/collector"
	"github.com/nerrad567/pzem016-mqtt/internal/history"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
)

// ReadingsResponse is returned by /readings/{addr}.
type ReadingsResponse struct {
	Addr    uint8                  `json:"addr"`
	Latest  *collector.Reading     `json:"latest,omitempty"`
	History []history.ReadingEntry `json:"history,omitempty"`
}

// handleListReadings returns the latest reading of every meter that has answered.
func (s *Server) handleListReadings(w http.ResponseWriter, _ *http.Request) {
	latest := s.collector.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": latest,
		"count":    len(latest),
	})
}

// handleGetReadings returns the cached reading for one unit plus, when
// history is enabled, the most recent stored rows (?limit=N).
func (s *Server) handleGetReadings(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.Atoi(chi.URLParam(r, "addr"))
	if err != nil || addr < 1 || addr > config.MaxUnitAddr {
		writeBadRequest(w, fmt.Sprintf("addr must be a unit address between 1 and %d", config.MaxUnitAddr))
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	resp := ReadingsResponse{Addr: uint8(addr)}
	if latest, found := s.collector.LatestFor(resp.Addr); found {
		resp.Latest = &latest
	}

	if s.history != nil {
		entries, err := s.history.Readings(r.Context(), resp.Addr, limit)
		if err != nil {
			s.logger.Error("reading history query failed", "addr", addr, "error", err)
			writeInternalError(w, "failed to load reading history")
			return
		}
		resp.History = entries
	}

	if resp.Latest == nil && len(resp.History) == 0 {
		writeNotFound(w, "no readings for unit "+strconv.Itoa(addr))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTaskEvents returns the newest supervisor task events (?limit=N).
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	events, err := s.history.TaskEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("task event query failed", "error", err)
		writeInternalError(w, "failed to load task events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// parseLimit reads ?limit. Absent means 0, which the store replaces with
// its default.
func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
