package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/tracker"
	"github.com/dukerupert/stride/internal/websocket"
)

var testNow = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type switchablePersistence struct {
	*tracker.MemoryPersistence
	fail bool
}

func (p *switchablePersistence) Save(ctx context.Context, ownerID, expected int64, doc []byte) (int64, error) {
	if p.fail {
		return 0, errors.New("disk full")
	}
	return p.MemoryPersistence.Save(ctx, ownerID, expected, doc)
}

type itemEnv struct {
	mux     *http.ServeMux
	tracker *tracker.Store
	persist *switchablePersistence
	hub     *websocket.Hub
}

func newItemEnv(t *testing.T) *itemEnv {
	t.Helper()
	p := &switchablePersistence{MemoryPersistence: tracker.NewMemoryPersistence()}
	tr := tracker.New(p,
		tracker.WithClock(func() time.Time { return testNow }),
		tracker.WithLocation(time.UTC),
	)
	hub := websocket.NewHub(discardLogger())
	mux := http.NewServeMux()

	for _, k := range []struct {
		path string
		kind model.Kind
	}{{"habits", model.KindHabit}, {"tasks", model.KindTask}} {
		h := NewItemHandler(k.kind, tr, hub, discardLogger())
		base := "/api/" + k.path
		mux.HandleFunc("GET "+base, h.List)
		mux.HandleFunc("POST "+base, h.Create)
		mux.HandleFunc("GET "+base+"/metrics", h.Metrics)
		mux.HandleFunc("GET "+base+"/export", h.Export)
		mux.HandleFunc("POST "+base+"/import", h.Import)
		mux.HandleFunc("POST "+base+"/clear", h.Clear)
		mux.HandleFunc("POST "+base+"/restart", h.Restart)
		mux.HandleFunc("GET "+base+"/{id}", h.Get)
		mux.HandleFunc("PATCH "+base+"/{id}", h.Update)
		mux.HandleFunc("DELETE "+base+"/{id}", h.Delete)
		mux.HandleFunc("POST "+base+"/{id}/toggle", h.Toggle)
		mux.HandleFunc("POST "+base+"/{id}/archive", h.Archive)
		mux.HandleFunc("POST "+base+"/{id}/restore", h.Restore)
		mux.HandleFunc("POST "+base+"/{id}/duplicate", h.Duplicate)
		mux.HandleFunc("POST "+base+"/{id}/notes", h.AddNote)
		mux.HandleFunc("DELETE "+base+"/{id}/notes/{note_id}", h.DeleteNote)
		if k.kind == model.KindTask {
			mux.HandleFunc("POST "+base+"/{id}/time", h.LogTime)
		}
	}
	all := NewItemHandler("", tr, hub, discardLogger())
	mux.HandleFunc("GET /api/export", all.Export)
	mux.HandleFunc("POST /api/import", all.Import)

	return &itemEnv{mux: mux, tracker: tr, persist: p, hub: hub}
}

func (e *itemEnv) do(t *testing.T, plan model.Plan, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: 1, Plan: plan}))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["code"]
}
