package tracker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stride/internal/model"
)

func seedCollection(t *testing.T, s *Store, owner Owner) {
	t.Helper()
	ctx := context.Background()

	h, err := s.Create(ctx, owner, model.KindHabit, Fields{Name: "meditate", Category: "mind", ReminderTime: "07:00"})
	require.NoError(t, err)
	for _, day := range []string{"2026-03-01", "2026-03-02", "2026-03-04"} {
		_, err := s.ToggleCompletion(ctx, owner.ID, h.ID, day)
		require.NoError(t, err)
	}
	_, err = s.AddNote(ctx, owner.ID, h.ID, "ten minutes")
	require.NoError(t, err)

	old, err := s.Create(ctx, owner, model.KindHabit, Fields{Name: "journal"})
	require.NoError(t, err)
	_, err = s.Archive(ctx, owner.ID, old.ID)
	require.NoError(t, err)

	task, err := s.Create(ctx, owner, model.KindTask, Fields{Name: "taxes", Priority: model.PriorityUrgent, DueDate: "2026-04-15"})
	require.NoError(t, err)
	_, err = s.LogTime(ctx, owner.ID, task.ID, 900)
	require.NoError(t, err)
	_, err = s.ToggleCompletion(ctx, owner.ID, task.ID, "")
	require.NoError(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t)
	seedCollection(t, src, free)

	blob, err := src.ExportSnapshot(ctx, free.ID, "")
	require.NoError(t, err)

	dst, _ := newTestStore(t)
	n, err := dst.ImportSnapshot(ctx, free, blob)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want, err := src.List(ctx, free.ID, "", ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	got, err := dst.List(ctx, free.ID, "", ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExportDocumentShape(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedCollection(t, s, free)

	blob, err := s.ExportSnapshot(ctx, free.ID, model.KindHabit)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(blob, &doc))
	assert.Equal(t, float64(model.SnapshotVersion), doc["version"])
	assert.Equal(t, "habit", doc["feature"])
	assert.Equal(t, "2026-03-04T09:30:00Z", doc["exportDate"])

	data := doc["data"].(map[string]any)
	assert.Len(t, data["items"], 2)
	agg := data["aggregate"].(map[string]any)
	assert.Equal(t, float64(2), agg["totalCount"])
	assert.Equal(t, float64(1), agg["archivedCount"])
	assert.Equal(t, float64(1), agg["todayCount"])

	assert.Equal(t, "stride-habit-2026-03-04.json", s.SnapshotFilename(model.KindHabit))
	assert.Equal(t, "stride-all-2026-03-04.json", s.SnapshotFilename(""))
}

func TestImportMissingItemsLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedCollection(t, s, free)

	before, err := s.List(ctx, free.ID, "", ListOptions{IncludeArchived: true})
	require.NoError(t, err)

	for _, blob := range []string{
		`{"data":{}}`,
		`{"data":{"items":null}}`,
		`{"items":[]}`,
		`[]`,
		`not json`,
		`{"version":2,"data":{"items":[]}}`,
		`{"feature":"journal","data":{"items":[]}}`,
		`{"data":{"items":[{"id":"x","kind":"habit","name":"no payload"}]}}`,
		`{"data":{"items":[{"id":"x","kind":"task","name":"t","task":{"status":"blocked"}}]}}`,
		`{"data":{"items":[{"id":"x","kind":"habit","name":"h","habit":{"history":["yesterday"]}}]}}`,
		`{"data":{"items":[{"id":"x","kind":"task","name":"a","task":{}},{"id":"x","kind":"task","name":"b","task":{}}]}}`,
		`{"feature":"task","data":{"items":[{"id":"x","kind":"habit","name":"h","habit":{}}]}}`,
	} {
		_, err := s.ImportSnapshot(ctx, free, []byte(blob))
		assert.ErrorIs(t, err, ErrInvalidFormat, blob)
	}

	after, err := s.List(ctx, free.ID, "", ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestImportRecomputesCounters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	blob := `{"data":{"items":[{"id":"h1","kind":"habit","name":"run","habit":{
		"history":["2026-03-04","2026-03-01","2026-03-02","2026-03-02"],
		"current_streak":99,"best_streak":99,"total_completions":99}}]}}`
	n, err := s.ImportSnapshot(ctx, free, []byte(blob))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, free.ID, "h1")
	require.NoError(t, err)
	assert.Equal(t, free.ID, got.OwnerID)
	assert.Equal(t, []string{"2026-03-01", "2026-03-02", "2026-03-04"}, got.Habit.History)
	assert.Equal(t, 1, got.Habit.CurrentStreak)
	assert.Equal(t, 2, got.Habit.BestStreak)
	assert.Equal(t, 3, got.Habit.TotalCompletions)
	assert.True(t, got.Habit.CompletedToday)
	assert.Equal(t, 1, got.Habit.Goal)
}

func TestImportScopedToKind(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedCollection(t, s, free)

	blob := `{"feature":"task","data":{"items":[{"id":"t-new","kind":"task","name":"fresh","task":{"priority":"low"}}]}}`
	_, err := s.ImportSnapshot(ctx, free, []byte(blob))
	require.NoError(t, err)

	tasks, err := s.List(ctx, free.ID, model.KindTask, ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "fresh", tasks[0].Name)
	assert.Equal(t, model.TaskStatusTodo, tasks[0].Task.Status)

	habits, err := s.List(ctx, free.ID, model.KindHabit, ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, habits, 2, "a task snapshot leaves habits alone")
}

func TestImportRespectsQuota(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t)
	for i := range 6 {
		mustCreate(t, src, pro, model.KindHabit, string(rune('a'+i)))
	}
	blob, err := src.ExportSnapshot(ctx, pro.ID, "")
	require.NoError(t, err)

	dst, _ := newTestStore(t)
	mustCreate(t, dst, free, model.KindTask, "existing")
	_, err = dst.ImportSnapshot(ctx, free, blob)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	items, err := dst.List(ctx, free.ID, "", ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "existing", items[0].Name)

	_, err = dst.ImportSnapshot(ctx, pro, blob)
	assert.NoError(t, err)
}

func TestImportPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t)
	seedCollection(t, src, free)
	blob, err := src.ExportSnapshot(ctx, free.ID, "")
	require.NoError(t, err)

	dst, p := newTestStore(t)
	p.failSaves = true
	_, err = dst.ImportSnapshot(ctx, free, blob)
	assert.ErrorIs(t, err, ErrPersistence)

	p.failSaves = false
	items, err := dst.List(ctx, free.ID, "", ListOptions{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, items)
}
