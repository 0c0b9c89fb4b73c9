package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/stride/internal/entitlement"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/streak"
)

// ExportSnapshot serializes the owner's items of kind, archived ones
// included, with aggregate counters. An empty kind exports everything.
func (s *Store) ExportSnapshot(ctx context.Context, ownerID int64, kind model.Kind) ([]byte, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	items, err := s.List(ctx, ownerID, kind, ListOptions{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	feature := model.FeatureAll
	if kind != "" {
		feature = string(kind)
	}
	doc, err := s.encode(items, feature)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return doc, nil
}

// SnapshotFilename is the download name for an export taken today.
func (s *Store) SnapshotFilename(kind model.Kind) string {
	feature := model.FeatureAll
	if kind != "" {
		feature = string(kind)
	}
	return fmt.Sprintf("stride-%s-%s.json", feature, s.Today())
}

type snapshotEnvelope struct {
	Version *int          `json:"version"`
	Feature string        `json:"feature"`
	Data    *envelopeData `json:"data"`
}

type envelopeData struct {
	Items *[]json.RawMessage `json:"items"`
}

// ImportSnapshot replaces the owner's items with the snapshot's. A snapshot
// tagged with a single kind replaces only that kind. Nothing is applied
// unless the whole document is valid and fits the owner's quotas. It
// returns the number of imported items.
func (s *Store) ImportSnapshot(ctx context.Context, owner Owner, blob []byte) (int, error) {
	imported, scope, err := s.decodeSnapshot(owner.ID, blob)
	if err != nil {
		return 0, err
	}

	err = s.mutate(ctx, owner.ID, func(items []model.Item) ([]model.Item, error) {
		next := make([]model.Item, 0, len(items)+len(imported))
		for _, it := range items {
			if scope != "" && it.Kind != scope {
				next = append(next, it)
			}
		}
		for _, it := range imported {
			if indexOf(next, it.ID) >= 0 {
				return nil, fmt.Errorf("%w: item %s already exists", ErrInvalidFormat, it.ID)
			}
		}
		next = append(next, imported...)

		ent := entitlement.Resolve(owner.Plan)
		for _, kind := range model.Kinds {
			if q := ent.Quota(kind); q >= 0 && activeCount(next, kind) > q {
				return nil, fmt.Errorf("%w: the snapshot holds more active %ss than the %s plan allows (%d)", ErrQuotaExceeded, kind, ent.Plan, q)
			}
		}
		return next, nil
	})
	if err != nil {
		return 0, err
	}

	s.notify(ctx, owner.ID, "Import finished", fmt.Sprintf("%d items imported", len(imported)))
	return len(imported), nil
}

// decodeSnapshot validates blob and returns its items normalized for
// ownerID, plus the kind the import is limited to ("" for all kinds).
func (s *Store) decodeSnapshot(ownerID int64, blob []byte) ([]model.Item, model.Kind, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if env.Data == nil || env.Data.Items == nil {
		return nil, "", fmt.Errorf("%w: data.items is missing", ErrInvalidFormat)
	}
	if env.Version != nil && (*env.Version < 1 || *env.Version > model.SnapshotVersion) {
		return nil, "", fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, *env.Version)
	}

	var scope model.Kind
	switch env.Feature {
	case "", model.FeatureAll:
	default:
		scope = model.Kind(env.Feature)
		if !scope.Valid() {
			return nil, "", fmt.Errorf("%w: unknown feature %q", ErrInvalidFormat, env.Feature)
		}
	}

	today := s.Today()
	seen := make(map[string]bool, len(*env.Data.Items))
	items := make([]model.Item, 0, len(*env.Data.Items))
	for i, raw := range *env.Data.Items {
		var it model.Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, "", fmt.Errorf("%w: item %d: %v", ErrInvalidFormat, i, err)
		}
		if err := s.normalizeImported(&it, ownerID, today); err != nil {
			return nil, "", fmt.Errorf("%w: item %d: %v", ErrInvalidFormat, i, err)
		}
		if scope != "" && it.Kind != scope {
			return nil, "", fmt.Errorf("%w: item %d is a %s in a %s snapshot", ErrInvalidFormat, i, it.Kind, scope)
		}
		if seen[it.ID] {
			return nil, "", fmt.Errorf("%w: duplicate item id %s", ErrInvalidFormat, it.ID)
		}
		seen[it.ID] = true
		items = append(items, it)
	}
	return items, scope, nil
}

// normalizeImported checks one imported item and rebuilds everything that
// is derived, so a snapshot can never carry counters its history does not
// support.
func (s *Store) normalizeImported(it *model.Item, ownerID int64, today string) error {
	if err := it.CheckShape(); err != nil {
		return err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if _, err := validateName(it.Name); err != nil {
		return err
	}
	it.OwnerID = ownerID
	if it.CreatedAt.IsZero() {
		it.CreatedAt = s.timestamp()
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	if !it.Archived {
		it.ArchivedAt = nil
	}
	if len(it.Notes) == 0 {
		it.Notes = nil
	}

	switch it.Kind {
	case model.KindHabit:
		h := it.Habit
		for _, day := range h.History {
			if _, err := streak.ParseDay(day); err != nil {
				return err
			}
		}
		if err := validateReminder(h.ReminderTime); err != nil {
			return err
		}
		if h.Goal < 1 {
			h.Goal = 1
		}
		h.History = streak.Normalize(h.History)
		streak.Recompute(h, today)
	case model.KindTask:
		t := it.Task
		if t.Priority == "" {
			t.Priority = model.PriorityMedium
		}
		if !t.Priority.Valid() {
			return fmt.Errorf("unknown priority %q", t.Priority)
		}
		if t.Status == "" {
			t.Status = model.TaskStatusTodo
			if t.Completed {
				t.Status = model.TaskStatusDone
			}
		}
		if !t.Status.Valid() {
			return fmt.Errorf("unknown status %q", t.Status)
		}
		if t.ReopenStatus != "" && (!t.ReopenStatus.Valid() || t.ReopenStatus == model.TaskStatusDone) {
			return fmt.Errorf("unknown reopen status %q", t.ReopenStatus)
		}
		if err := validateDay(t.DueDate); err != nil {
			return err
		}
		if err := validateDay(t.CompletedOn); err != nil {
			return err
		}
		if t.TimeSpentSeconds < 0 {
			return fmt.Errorf("negative time spent")
		}
		t.Completed = t.Status == model.TaskStatusDone
		if !t.Completed {
			t.CompletedOn = ""
			t.ReopenStatus = ""
		}
	}
	return nil
}
