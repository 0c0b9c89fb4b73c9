package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/backup"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/websocket"
)

const minPassphraseLen = 8

type ArchiveHandler struct {
	manager *backup.Manager
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewArchiveHandler(m *backup.Manager, hub *websocket.Hub, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{manager: m, hub: hub, logger: logger.With("component", "archive")}
}

func (h *ArchiveHandler) writeArchiveError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "archives_disabled", err.Error())
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, backup.ErrNotReady):
		writeError(w, http.StatusConflict, "archive_not_ready", err.Error())
	case errors.Is(err, backup.ErrDecrypt):
		writeError(w, http.StatusUnauthorized, "wrong_passphrase", err.Error())
	default:
		writeTrackerError(w, h.logger, op, err)
	}
}

// List handles GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}

	archives, err := h.manager.List(auth.UserID(r.Context()), limit)
	if err != nil {
		h.logger.Error("list archives", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list archives")
		return
	}
	if archives == nil {
		archives = []model.Archive{}
	}
	writeJSON(w, http.StatusOK, archives)
}

// Status handles GET /api/archives/status
func (h *ArchiveHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase"`
}

// Create handles POST /api/archives
func (h *ArchiveHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req passphraseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Passphrase) < minPassphraseLen {
		writeError(w, http.StatusBadRequest, "invalid_input", "passphrase must be at least 8 characters")
		return
	}

	userID := auth.UserID(r.Context())
	a, err := h.manager.Create(r.Context(), userID, req.Passphrase)
	if err != nil {
		h.writeArchiveError(w, "create archive", err)
		return
	}

	if h.hub != nil {
		h.hub.Send(userID, websocket.NewMessage("archive", "created", strconv.FormatInt(a.ID, 10), nil))
	}
	writeJSON(w, http.StatusCreated, a)
}

// Restore handles POST /api/archives/{id}/restore
func (h *ArchiveHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid id")
		return
	}
	var req passphraseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o := owner(r)
	n, err := h.manager.Restore(r.Context(), o, id, req.Passphrase)
	if err != nil {
		h.writeArchiveError(w, "restore archive", err)
		return
	}

	if h.hub != nil {
		h.hub.Send(o.ID, websocket.NewMessage("collection", "imported", "", map[string]any{"count": n}))
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// Download handles GET /api/archives/{id}/download
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid id")
		return
	}

	body, a, err := h.manager.Download(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeArchiveError(w, "download archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, a.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream archive", "archive_id", id, "error", err)
	}
}
