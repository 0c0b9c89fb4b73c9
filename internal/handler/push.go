package handler

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/push"
	"github.com/dukerupert/stride/internal/store"
)

type PushHandler struct {
	pushStore  *store.PushStore
	service    *push.Service
	dispatcher *push.Dispatcher
	logger     *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, d *push.Dispatcher, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, service: svc, dispatcher: d, logger: logger.With("component", "push")}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "endpoint, p256dh, and auth are required")
		return
	}

	sub, err := h.pushStore.CreateSubscription(auth.UserID(r.Context()), req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid id")
		return
	}

	if err := h.pushStore.DeleteSubscription(id, auth.UserID(r.Context())); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !h.service.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push_disabled", "push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

type preferenceItem struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// GetPreferences handles GET /api/push/preferences. Types without a stored
// row are reported enabled.
func (h *PushHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.preferences(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get push preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *PushHandler) preferences(userID int64) ([]preferenceItem, error) {
	stored, err := h.pushStore.GetPreferences(userID)
	if err != nil {
		return nil, err
	}
	out := make([]preferenceItem, 0, len(model.NotificationTypes))
	for _, t := range model.NotificationTypes {
		item := preferenceItem{Type: t, Enabled: true}
		for _, p := range stored {
			if p.NotificationType == t {
				item.Enabled = p.Enabled
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// UpdatePreferences handles PUT /api/push/preferences
func (h *PushHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preferences []preferenceItem `json:"preferences"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	for _, p := range req.Preferences {
		if !slices.Contains(model.NotificationTypes, p.Type) {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown notification type "+p.Type)
			return
		}
	}

	userID := auth.UserID(r.Context())
	for _, p := range req.Preferences {
		if err := h.pushStore.SetPreference(userID, p.Type, p.Enabled); err != nil {
			h.logger.Error("set push preference", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to update preferences")
			return
		}
	}

	h.GetPreferences(w, r)
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.dispatcher.SendTest(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "no_subscriptions", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}
