package handler

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stride/internal/model"
)

func TestCreateAndListHabits(t *testing.T) {
	e := newItemEnv(t)

	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"Read","goal":2,"reminder_time":"07:30"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Item](t, rec)
	assert.Equal(t, model.KindHabit, created.Kind)
	assert.Equal(t, 2, created.Habit.Goal)

	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/habits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Item](t, rec), 1)

	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestCreateValidation(t *testing.T) {
	e := newItemEnv(t)

	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorCode(t, rec))

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/tasks", `{"name":"x","due_date":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaExceededIsForbidden(t *testing.T) {
	e := newItemEnv(t)

	for i := range 5 {
		rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits", fmt.Sprintf(`{"name":"h%d"}`, i))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"one too many"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "quota_exceeded", errorCode(t, rec))

	rec = e.do(t, model.PlanPremium, http.MethodPost, "/api/habits", `{"name":"premium has room"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestWrongKindPathIsNotFound(t *testing.T) {
	e := newItemEnv(t)

	task := decode[model.Item](t, e.do(t, model.PlanFree, http.MethodPost, "/api/tasks", `{"name":"t"}`))

	rec := e.do(t, model.PlanFree, http.MethodGet, "/api/habits/"+task.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/tasks/"+task.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToggleHabit(t *testing.T) {
	e := newItemEnv(t)
	h := decode[model.Item](t, e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"Run"}`))

	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.Item](t, rec)
	assert.True(t, got.Habit.CompletedToday)
	assert.Equal(t, 1, got.Habit.CurrentStreak)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/toggle", `{"day":"2026-03-03"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[model.Item](t, rec).Habit.CurrentStreak)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/toggle", `{"day":"2026-03-05"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "future days are rejected")
}

func TestUpdateTaskStatus(t *testing.T) {
	e := newItemEnv(t)
	task := decode[model.Item](t, e.do(t, model.PlanFree, http.MethodPost, "/api/tasks", `{"name":"Ship","priority":"high"}`))

	rec := e.do(t, model.PlanFree, http.MethodPatch, "/api/tasks/"+task.ID, `{"status":"done"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.Item](t, rec)
	assert.True(t, got.Task.Completed)
	assert.Equal(t, model.PriorityHigh, got.Task.Priority)

	rec = e.do(t, model.PlanFree, http.MethodPatch, "/api/tasks/"+task.ID, `{"goal":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "habit fields on a task")
}

func TestArchiveRestoreDuplicateDelete(t *testing.T) {
	e := newItemEnv(t)
	h := decode[model.Item](t, e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"Yoga"}`))

	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/archive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Item](t, rec).Archived)

	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/habits", "")
	assert.Empty(t, decode[[]model.Item](t, rec))
	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/habits?archived=true", "")
	assert.Len(t, decode[[]model.Item](t, rec), 1)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/restore", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/duplicate", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Yoga (Copy)", decode[model.Item](t, rec).Name)

	rec = e.do(t, model.PlanFree, http.MethodDelete, "/api/habits/"+h.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/habits/"+h.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotesAndTime(t *testing.T) {
	e := newItemEnv(t)
	task := decode[model.Item](t, e.do(t, model.PlanFree, http.MethodPost, "/api/tasks", `{"name":"Write"}`))

	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/tasks/"+task.ID+"/notes", `{"body":"first draft"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	note := decode[model.Note](t, rec)

	rec = e.do(t, model.PlanFree, http.MethodDelete, "/api/tasks/"+task.ID+"/notes/"+note.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, model.PlanFree, http.MethodDelete, "/api/tasks/"+task.ID+"/notes/"+note.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/tasks/"+task.ID+"/time", `{"seconds":1500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1500), decode[model.Item](t, rec).Task.TimeSpentSeconds)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/tasks/"+task.ID+"/time", `{"seconds":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkAndMetrics(t *testing.T) {
	e := newItemEnv(t)
	h := decode[model.Item](t, e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"a"}`))
	e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"b"}`)
	e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+h.ID+"/toggle", "")

	rec := e.do(t, model.PlanFree, http.MethodGet, "/api/habits/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	agg := decode[model.Aggregate](t, rec)
	assert.Equal(t, 2, agg.TotalCount)
	assert.Equal(t, 1, agg.TodayCount)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"reset": 2}, decode[map[string]int](t, rec))

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"removed": 2}, decode[map[string]int](t, rec))
}

func TestExportImport(t *testing.T) {
	e := newItemEnv(t)
	e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"Meditate"}`)
	e.do(t, model.PlanFree, http.MethodPost, "/api/tasks", `{"name":"Taxes"}`)

	rec := e.do(t, model.PlanFree, http.MethodGet, "/api/habits/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="stride-habit-2026-03-04.json"`, rec.Header().Get("Content-Disposition"))
	habitDoc := rec.Body.String()

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/tasks/import", habitDoc)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/import", habitDoc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]int{"imported": 1}, decode[map[string]int](t, rec))

	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "stride-all-")
	assert.Contains(t, rec.Body.String(), `"feature":"all"`)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/import", `{"version":1,"feature":"all","data":{}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_format", errorCode(t, rec))

	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/tasks", "")
	assert.Len(t, decode[[]model.Item](t, rec), 1, "failed import leaves data intact")
}

func TestPersistenceFailureIsServiceUnavailable(t *testing.T) {
	e := newItemEnv(t)
	e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"kept"}`)

	e.persist.fail = true
	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"lost"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "persistence_failure", errorCode(t, rec))

	e.persist.fail = false
	rec = e.do(t, model.PlanFree, http.MethodGet, "/api/habits", "")
	items := decode[[]model.Item](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "kept", items[0].Name)
}

func TestImportTooLarge(t *testing.T) {
	e := newItemEnv(t)
	body := `{"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/import", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestItemsCarryCompletionRate(t *testing.T) {
	e := newItemEnv(t)
	type withRate struct {
		model.Item
		CompletionRate *float64 `json:"completion_rate"`
	}

	rec := e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"Stretch"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	fresh := decode[withRate](t, rec)
	require.NotNil(t, fresh.CompletionRate)
	assert.Zero(t, *fresh.CompletionRate)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/"+fresh.ID+"/toggle", `{"day":"2026-03-02"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	toggled := decode[withRate](t, rec)
	require.NotNil(t, toggled.CompletionRate)
	assert.InDelta(t, 1.0/3, *toggled.CompletionRate, 1e-9)

	e.do(t, model.PlanFree, http.MethodPost, "/api/tasks", `{"name":"Laundry"}`)
	for _, path := range []string{"/api/habits", "/api/tasks"} {
		rec = e.do(t, model.PlanFree, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		for _, it := range decode[[]withRate](t, rec) {
			require.NotNil(t, it.CompletionRate, it.Name)
			assert.GreaterOrEqual(t, *it.CompletionRate, 0.0)
			assert.LessOrEqual(t, *it.CompletionRate, 1.0)
		}
	}
}

func TestKindImportRequiresExactFeature(t *testing.T) {
	e := newItemEnv(t)
	e.do(t, model.PlanFree, http.MethodPost, "/api/habits", `{"name":"Meditate"}`)

	rec := e.do(t, model.PlanFree, http.MethodGet, "/api/habits/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := strings.Replace(rec.Body.String(), `"feature":"habit"`, `"feature":"HABIT"`, 1)
	require.Contains(t, doc, `"feature":"HABIT"`)

	rec = e.do(t, model.PlanFree, http.MethodPost, "/api/habits/import", doc)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_format", errorCode(t, rec))
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "expected a habit snapshot")
}
