package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/streak"
	"github.com/dukerupert/stride/internal/tracker"
	"github.com/dukerupert/stride/internal/websocket"
)

// ItemHandler serves one item kind. A handler with an empty kind serves the
// whole collection (export, import and metrics only).
type ItemHandler struct {
	kind    model.Kind
	tracker *tracker.Store
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewItemHandler(kind model.Kind, tr *tracker.Store, hub *websocket.Hub, logger *slog.Logger) *ItemHandler {
	name := string(kind)
	if name == "" {
		name = model.FeatureAll
	}
	return &ItemHandler{
		kind:    kind,
		tracker: tr,
		hub:     hub,
		logger:  logger.With("component", "items", "kind", name),
	}
}

func (h *ItemHandler) entity() string {
	if h.kind == "" {
		return "collection"
	}
	return string(h.kind)
}

func (h *ItemHandler) broadcast(ownerID int64, action, id string, extra map[string]any) {
	if h.hub != nil {
		h.hub.Send(ownerID, websocket.NewMessage(h.entity(), action, id, extra))
	}
}

type itemRequest struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Category     string           `json:"category"`
	Goal         int              `json:"goal"`
	ReminderTime string           `json:"reminder_time"`
	Priority     model.Priority   `json:"priority"`
	Status       model.TaskStatus `json:"status"`
	DueDate      string           `json:"due_date"`
}

type patchRequest struct {
	Name         *string           `json:"name"`
	Description  *string           `json:"description"`
	Category     *string           `json:"category"`
	Goal         *int              `json:"goal"`
	ReminderTime *string           `json:"reminder_time"`
	Priority     *model.Priority   `json:"priority"`
	Status       *model.TaskStatus `json:"status"`
	DueDate      *string           `json:"due_date"`
}

// itemView is an item as served over the API, with read-time values.
type itemView struct {
	model.Item
	CompletionRate float64 `json:"completion_rate"`
}

func (h *ItemHandler) view(it model.Item, today string) itemView {
	return itemView{Item: it, CompletionRate: streak.CompletionRate(it, today)}
}

func (h *ItemHandler) writeItem(w http.ResponseWriter, status int, it *model.Item) {
	writeJSON(w, status, h.view(*it, h.tracker.Today()))
}

// item loads the path item and checks that it belongs to this handler's kind.
func (h *ItemHandler) item(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	it, err := h.tracker.Get(r.Context(), owner(r).ID, r.PathValue("id"))
	if err != nil {
		writeTrackerError(w, h.logger, "get item", err)
		return nil, false
	}
	if it.Kind != h.kind {
		writeTrackerError(w, h.logger, "get item", tracker.ErrNotFound)
		return nil, false
	}
	return it, true
}

func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	archived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
	items, err := h.tracker.List(r.Context(), owner(r).ID, h.kind, tracker.ListOptions{IncludeArchived: archived})
	if err != nil {
		writeTrackerError(w, h.logger, "list items", err)
		return
	}
	today := h.tracker.Today()
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, h.view(it, today))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o := owner(r)
	it, err := h.tracker.Create(r.Context(), o, h.kind, tracker.Fields{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Goal:         req.Goal,
		ReminderTime: req.ReminderTime,
		Priority:     req.Priority,
		Status:       req.Status,
		DueDate:      req.DueDate,
	})
	if err != nil {
		writeTrackerError(w, h.logger, "create item", err)
		return
	}

	h.broadcast(o.ID, "created", it.ID, nil)
	h.writeItem(w, http.StatusCreated, it)
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	it, ok := h.item(w, r)
	if !ok {
		return
	}
	h.writeItem(w, http.StatusOK, it)
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	var req patchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o := owner(r)
	it, err := h.tracker.Update(r.Context(), o.ID, existing.ID, tracker.Patch{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Goal:         req.Goal,
		ReminderTime: req.ReminderTime,
		Priority:     req.Priority,
		Status:       req.Status,
		DueDate:      req.DueDate,
	})
	if err != nil {
		writeTrackerError(w, h.logger, "update item", err)
		return
	}

	h.broadcast(o.ID, "updated", it.ID, nil)
	h.writeItem(w, http.StatusOK, it)
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	o := owner(r)
	if err := h.tracker.Delete(r.Context(), o.ID, existing.ID); err != nil {
		writeTrackerError(w, h.logger, "delete item", err)
		return
	}

	h.broadcast(o.ID, "deleted", existing.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Toggle flips completion for the day in the optional body ({"day": "YYYY-MM-DD"}),
// defaulting to today.
func (h *ItemHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	var req struct {
		Day string `json:"day"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON")
		return
	}

	o := owner(r)
	it, err := h.tracker.ToggleCompletion(r.Context(), o.ID, existing.ID, req.Day)
	if err != nil {
		writeTrackerError(w, h.logger, "toggle item", err)
		return
	}

	h.broadcast(o.ID, "toggled", it.ID, nil)
	h.writeItem(w, http.StatusOK, it)
}

func (h *ItemHandler) Archive(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	o := owner(r)
	it, err := h.tracker.Archive(r.Context(), o.ID, existing.ID)
	if err != nil {
		writeTrackerError(w, h.logger, "archive item", err)
		return
	}

	h.broadcast(o.ID, "archived", it.ID, nil)
	h.writeItem(w, http.StatusOK, it)
}

func (h *ItemHandler) Restore(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	o := owner(r)
	it, err := h.tracker.Restore(r.Context(), o, existing.ID)
	if err != nil {
		writeTrackerError(w, h.logger, "restore item", err)
		return
	}

	h.broadcast(o.ID, "restored", it.ID, nil)
	h.writeItem(w, http.StatusOK, it)
}

func (h *ItemHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	o := owner(r)
	it, err := h.tracker.Duplicate(r.Context(), o, existing.ID)
	if err != nil {
		writeTrackerError(w, h.logger, "duplicate item", err)
		return
	}

	h.broadcast(o.ID, "created", it.ID, map[string]any{"source_id": existing.ID})
	h.writeItem(w, http.StatusCreated, it)
}

func (h *ItemHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	o := owner(r)
	note, err := h.tracker.AddNote(r.Context(), o.ID, existing.ID, req.Body)
	if err != nil {
		writeTrackerError(w, h.logger, "add note", err)
		return
	}

	h.broadcast(o.ID, "updated", existing.ID, nil)
	writeJSON(w, http.StatusCreated, note)
}

func (h *ItemHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	o := owner(r)
	if err := h.tracker.DeleteNote(r.Context(), o.ID, existing.ID, r.PathValue("note_id")); err != nil {
		writeTrackerError(w, h.logger, "delete note", err)
		return
	}

	h.broadcast(o.ID, "updated", existing.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// LogTime adds {"seconds": n} to a task's time spent.
func (h *ItemHandler) LogTime(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.item(w, r)
	if !ok {
		return
	}

	var req struct {
		Seconds int64 `json:"seconds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	o := owner(r)
	it, err := h.tracker.LogTime(r.Context(), o.ID, existing.ID, req.Seconds)
	if err != nil {
		writeTrackerError(w, h.logger, "log time", err)
		return
	}

	h.broadcast(o.ID, "updated", it.ID, nil)
	h.writeItem(w, http.StatusOK, it)
}

func (h *ItemHandler) Clear(w http.ResponseWriter, r *http.Request) {
	o := owner(r)
	n, err := h.tracker.BulkClear(r.Context(), o.ID, h.kind)
	if err != nil {
		writeTrackerError(w, h.logger, "clear items", err)
		return
	}

	h.broadcast(o.ID, "cleared", "", map[string]any{"count": n})
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *ItemHandler) Restart(w http.ResponseWriter, r *http.Request) {
	o := owner(r)
	n, err := h.tracker.BulkRestart(r.Context(), o.ID, h.kind)
	if err != nil {
		writeTrackerError(w, h.logger, "restart items", err)
		return
	}

	h.broadcast(o.ID, "restarted", "", map[string]any{"count": n})
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (h *ItemHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	agg, err := h.tracker.Metrics(r.Context(), owner(r).ID, h.kind)
	if err != nil {
		writeTrackerError(w, h.logger, "metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// Export downloads the snapshot document as a file.
func (h *ItemHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := h.tracker.ExportSnapshot(r.Context(), owner(r).ID, h.kind)
	if err != nil {
		writeTrackerError(w, h.logger, "export snapshot", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, h.tracker.SnapshotFilename(h.kind)))
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// Import replaces the collection (or this kind) from a snapshot in the
// request body. Per-kind endpoints only accept snapshots of their kind.
func (h *ItemHandler) Import(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "snapshot too large")
		return
	}

	if h.kind != "" {
		var peek struct {
			Feature string `json:"feature"`
		}
		if json.Unmarshal(blob, &peek) == nil && peek.Feature != string(h.kind) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_format",
				fmt.Sprintf("expected a %s snapshot, got %q", h.kind, peek.Feature))
			return
		}
	}

	o := owner(r)
	n, err := h.tracker.ImportSnapshot(r.Context(), o, blob)
	if err != nil {
		writeTrackerError(w, h.logger, "import snapshot", err)
		return
	}

	h.broadcast(o.ID, "imported", "", map[string]any{"count": n})
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
