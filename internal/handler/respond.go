package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/tracker"
)

// maxBodyBytes caps JSON request bodies, snapshot uploads included.
const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON")
		return false
	}
	return true
}

// owner builds the tracker owner from the authenticated request.
func owner(r *http.Request) tracker.Owner {
	return tracker.Owner{ID: auth.UserID(r.Context()), Plan: auth.Plan(r.Context())}
}

// writeTrackerError maps tracker errors onto HTTP statuses.
func writeTrackerError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, tracker.ErrQuotaExceeded):
		writeError(w, http.StatusForbidden, "quota_exceeded", err.Error())
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, tracker.ErrInvalidFormat):
		writeError(w, http.StatusUnprocessableEntity, "invalid_format", err.Error())
	case errors.Is(err, tracker.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, tracker.ErrPersistence):
		logger.Error(op, "error", err)
		writeError(w, http.StatusServiceUnavailable, "persistence_failure", "storage unavailable, try again")
	default:
		logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
