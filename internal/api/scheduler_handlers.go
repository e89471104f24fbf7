package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/scheduler"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

// runCheck triggers a ranking check and waits for it to finish. A check that
// collides with one already running is reported as 409.
func (s *Server) runCheck(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	report, err := s.scheduler.RunImmediateCheck(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrCheckInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("manual ranking check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.storeError(w, "get_settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var update tracker.SettingsUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if update.IntervalMinutes == nil {
		writeError(w, http.StatusBadRequest, "intervalMinutes is required")
		return
	}
	if *update.IntervalMinutes <= 0 {
		writeError(w, http.StatusBadRequest, tracker.ErrInvalidSettings.Error())
		return
	}
	settings, err := s.store.UpdateSettings(r.Context(), update)
	if err != nil {
		s.storeError(w, "update_settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
