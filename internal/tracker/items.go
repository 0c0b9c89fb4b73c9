package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/stride/internal/entitlement"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/streak"
)

// Fields are the user-supplied values of a new item. Habit-only and
// task-only fields are ignored for the other kind.
type Fields struct {
	Name        string
	Description string
	Category    string

	Goal         int
	ReminderTime string

	Priority model.Priority
	Status   model.TaskStatus
	DueDate  string
}

// Patch changes the fields that are set.
type Patch struct {
	Name        *string
	Description *string
	Category    *string

	Goal         *int
	ReminderTime *string

	Priority *model.Priority
	Status   *model.TaskStatus
	DueDate  *string
}

// ListOptions filters List.
type ListOptions struct {
	IncludeArchived bool
}

const copySuffix = " (Copy)"

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return name, nil
}

func validateReminder(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("%w: reminder time %q must be HH:MM", ErrInvalidInput, s)
	}
	return nil
}

func validateDay(s string) error {
	if s == "" {
		return nil
	}
	if _, err := streak.ParseDay(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func checkQuota(owner Owner, items []model.Item, kind model.Kind) error {
	ent := entitlement.Resolve(owner.Plan)
	if !ent.Allows(kind, activeCount(items, kind)) {
		return fmt.Errorf("%w: the %s plan allows %d active %ss", ErrQuotaExceeded, ent.Plan, ent.Quota(kind), kind)
	}
	return nil
}

func (s *Store) newItem(ownerID int64, kind model.Kind, f Fields) (model.Item, error) {
	name, err := validateName(f.Name)
	if err != nil {
		return model.Item{}, err
	}
	now := s.timestamp()
	it := model.Item{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Kind:        kind,
		Name:        name,
		Description: strings.TrimSpace(f.Description),
		Category:    strings.TrimSpace(f.Category),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch kind {
	case model.KindHabit:
		if f.Goal < 0 {
			return model.Item{}, fmt.Errorf("%w: goal must not be negative", ErrInvalidInput)
		}
		if err := validateReminder(f.ReminderTime); err != nil {
			return model.Item{}, err
		}
		goal := f.Goal
		if goal == 0 {
			goal = 1
		}
		it.Habit = &model.Habit{Goal: goal, ReminderTime: f.ReminderTime}
		streak.Recompute(it.Habit, s.Today())
	case model.KindTask:
		priority := f.Priority
		if priority == "" {
			priority = model.PriorityMedium
		}
		if !priority.Valid() {
			return model.Item{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, priority)
		}
		status := f.Status
		if status == "" {
			status = model.TaskStatusTodo
		}
		if !status.Valid() || status == model.TaskStatusDone {
			return model.Item{}, fmt.Errorf("%w: a new task cannot start with status %q", ErrInvalidInput, status)
		}
		if err := validateDay(f.DueDate); err != nil {
			return model.Item{}, err
		}
		it.Task = &model.Task{Priority: priority, Status: status, DueDate: f.DueDate}
	default:
		return model.Item{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	return it, nil
}

// Create adds a new item with zero progress.
func (s *Store) Create(ctx context.Context, owner Owner, kind model.Kind, f Fields) (*model.Item, error) {
	it, err := s.newItem(owner.ID, kind, f)
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, owner.ID, func(items []model.Item) ([]model.Item, error) {
		if err := checkQuota(owner, items, kind); err != nil {
			return nil, err
		}
		return append(items, it), nil
	})
	if err != nil {
		return nil, err
	}
	out := it.Clone()
	return &out, nil
}

// Get returns one item, archived or not.
func (s *Store) Get(ctx context.Context, ownerID int64, itemID string) (*model.Item, error) {
	var out model.Item
	err := s.read(ctx, ownerID, func(items []model.Item) error {
		i := indexOf(items, itemID)
		if i < 0 {
			return ErrNotFound
		}
		out = items[i].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the owner's items of kind in creation order. An empty kind
// lists every kind. Archived items are left out unless asked for.
func (s *Store) List(ctx context.Context, ownerID int64, kind model.Kind, opts ListOptions) ([]model.Item, error) {
	out := []model.Item{}
	err := s.read(ctx, ownerID, func(items []model.Item) error {
		for _, it := range items {
			if kind != "" && it.Kind != kind {
				continue
			}
			if it.Archived && !opts.IncludeArchived {
				continue
			}
			out = append(out, it.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// update applies fn to one item and persists the result.
func (s *Store) update(ctx context.Context, ownerID int64, itemID string, fn func(it *model.Item, items []model.Item) error) (*model.Item, error) {
	var out model.Item
	err := s.mutate(ctx, ownerID, func(items []model.Item) ([]model.Item, error) {
		i := indexOf(items, itemID)
		if i < 0 {
			return nil, ErrNotFound
		}
		if err := fn(&items[i], items); err != nil {
			return nil, err
		}
		items[i].UpdatedAt = s.timestamp()
		out = items[i].Clone()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update merges p into the item. Moving a task into or out of the done
// status completes or reopens it.
func (s *Store) Update(ctx context.Context, ownerID int64, itemID string, p Patch) (*model.Item, error) {
	today := s.Today()
	return s.update(ctx, ownerID, itemID, func(it *model.Item, _ []model.Item) error {
		if p.Name != nil {
			name, err := validateName(*p.Name)
			if err != nil {
				return err
			}
			it.Name = name
		}
		if p.Description != nil {
			it.Description = strings.TrimSpace(*p.Description)
		}
		if p.Category != nil {
			it.Category = strings.TrimSpace(*p.Category)
		}

		switch it.Kind {
		case model.KindHabit:
			if p.Priority != nil || p.Status != nil || p.DueDate != nil {
				return fmt.Errorf("%w: priority, status and due date apply to tasks only", ErrInvalidInput)
			}
			if p.Goal != nil {
				if *p.Goal < 1 {
					return fmt.Errorf("%w: goal must be at least 1", ErrInvalidInput)
				}
				it.Habit.Goal = *p.Goal
			}
			if p.ReminderTime != nil {
				if err := validateReminder(*p.ReminderTime); err != nil {
					return err
				}
				it.Habit.ReminderTime = *p.ReminderTime
			}
		case model.KindTask:
			if p.Goal != nil || p.ReminderTime != nil {
				return fmt.Errorf("%w: goal and reminder time apply to habits only", ErrInvalidInput)
			}
			t := it.Task
			if p.Priority != nil {
				if !p.Priority.Valid() {
					return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *p.Priority)
				}
				t.Priority = *p.Priority
			}
			if p.DueDate != nil {
				if err := validateDay(*p.DueDate); err != nil {
					return err
				}
				t.DueDate = *p.DueDate
			}
			if p.Status != nil && *p.Status != t.Status {
				if !p.Status.Valid() {
					return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *p.Status)
				}
				switch {
				case *p.Status == model.TaskStatusDone:
					completeTask(t, today)
				case t.Status == model.TaskStatusDone:
					t.Completed = false
					t.CompletedOn = ""
					t.ReopenStatus = ""
				}
				t.Status = *p.Status
			}
		}
		return nil
	})
}

func completeTask(t *model.Task, day string) {
	t.ReopenStatus = t.Status
	t.Status = model.TaskStatusDone
	t.Completed = true
	t.CompletedOn = day
}

func reopenTask(t *model.Task) {
	status := t.ReopenStatus
	if status == "" {
		status = model.TaskStatusTodo
	}
	t.Status = status
	t.ReopenStatus = ""
	t.Completed = false
	t.CompletedOn = ""
}

// ToggleCompletion flips completion for day (today when empty). Toggling
// the same day twice restores the item exactly. Habit counters are always
// recomputed from the whole history.
func (s *Store) ToggleCompletion(ctx context.Context, ownerID int64, itemID, day string) (*model.Item, error) {
	today := s.Today()
	if day == "" {
		day = today
	}
	if err := validateDay(day); err != nil {
		return nil, err
	}
	if day > today {
		return nil, fmt.Errorf("%w: cannot complete %s before it happens", ErrInvalidInput, day)
	}

	var completed bool
	it, err := s.update(ctx, ownerID, itemID, func(it *model.Item, _ []model.Item) error {
		switch it.Kind {
		case model.KindHabit:
			it.Habit.History, completed = streak.Toggle(it.Habit.History, day)
			streak.Recompute(it.Habit, today)
		case model.KindTask:
			if it.Task.Completed {
				reopenTask(it.Task)
			} else {
				completeTask(it.Task, day)
				completed = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed {
		switch it.Kind {
		case model.KindHabit:
			s.notify(ctx, ownerID, "Habit completed", fmt.Sprintf("%s: %d day streak", it.Name, it.Habit.CurrentStreak))
		case model.KindTask:
			s.notify(ctx, ownerID, "Task completed", it.Name)
		}
	}
	return it, nil
}

// Archive hides an item from default listings and quota counting.
func (s *Store) Archive(ctx context.Context, ownerID int64, itemID string) (*model.Item, error) {
	return s.update(ctx, ownerID, itemID, func(it *model.Item, _ []model.Item) error {
		if it.Archived {
			return nil
		}
		now := s.timestamp()
		it.Archived = true
		it.ArchivedAt = &now
		return nil
	})
}

// Restore brings an archived item back. The item counts against the quota
// again, so restoring fails when the plan is already at its limit.
func (s *Store) Restore(ctx context.Context, owner Owner, itemID string) (*model.Item, error) {
	return s.update(ctx, owner.ID, itemID, func(it *model.Item, items []model.Item) error {
		if !it.Archived {
			return nil
		}
		if err := checkQuota(owner, items, it.Kind); err != nil {
			return err
		}
		it.Archived = false
		it.ArchivedAt = nil
		return nil
	})
}

// Duplicate copies an item's static fields into a new active item with no
// progress and no notes.
func (s *Store) Duplicate(ctx context.Context, owner Owner, itemID string) (*model.Item, error) {
	var out model.Item
	err := s.mutate(ctx, owner.ID, func(items []model.Item) ([]model.Item, error) {
		i := indexOf(items, itemID)
		if i < 0 {
			return nil, ErrNotFound
		}
		src := items[i]
		if err := checkQuota(owner, items, src.Kind); err != nil {
			return nil, err
		}

		now := s.timestamp()
		dup := src.Clone()
		dup.ID = uuid.NewString()
		dup.Name = src.Name + copySuffix
		dup.Archived = false
		dup.ArchivedAt = nil
		dup.Notes = nil
		dup.CreatedAt = now
		dup.UpdatedAt = now
		if dup.Kind == model.KindTask {
			dup.Task.Status = model.TaskStatusTodo
		}
		streak.Reset(&dup, s.Today())

		out = dup.Clone()
		return append(items, dup), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an item with its notes and history.
func (s *Store) Delete(ctx context.Context, ownerID int64, itemID string) error {
	return s.mutate(ctx, ownerID, func(items []model.Item) ([]model.Item, error) {
		i := indexOf(items, itemID)
		if i < 0 {
			return nil, ErrNotFound
		}
		return append(items[:i], items[i+1:]...), nil
	})
}

// AddNote attaches a note to an item.
func (s *Store) AddNote(ctx context.Context, ownerID int64, itemID, body string) (*model.Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: note body is required", ErrInvalidInput)
	}
	note := model.Note{ID: uuid.NewString(), Body: body, CreatedAt: s.timestamp()}
	_, err := s.update(ctx, ownerID, itemID, func(it *model.Item, _ []model.Item) error {
		it.Notes = append(it.Notes, note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Store) DeleteNote(ctx context.Context, ownerID int64, itemID, noteID string) error {
	_, err := s.update(ctx, ownerID, itemID, func(it *model.Item, _ []model.Item) error {
		for i, n := range it.Notes {
			if n.ID == noteID {
				it.Notes = append(it.Notes[:i], it.Notes[i+1:]...)
				if len(it.Notes) == 0 {
					it.Notes = nil
				}
				return nil
			}
		}
		return fmt.Errorf("%w: note %s", ErrNotFound, noteID)
	})
	return err
}

// maxLogSeconds caps a single time entry at one day.
const maxLogSeconds = 24 * 60 * 60

// LogTime adds time spent to a task.
func (s *Store) LogTime(ctx context.Context, ownerID int64, itemID string, seconds int64) (*model.Item, error) {
	if seconds <= 0 || seconds > maxLogSeconds {
		return nil, fmt.Errorf("%w: seconds must be between 1 and %d", ErrInvalidInput, maxLogSeconds)
	}
	return s.update(ctx, ownerID, itemID, func(it *model.Item, _ []model.Item) error {
		if it.Kind != model.KindTask {
			return fmt.Errorf("%w: time can only be logged on tasks", ErrInvalidInput)
		}
		it.Task.TimeSpentSeconds += seconds
		return nil
	})
}

// BulkClear deletes every item of kind, archived or not, and returns how
// many were removed.
func (s *Store) BulkClear(ctx context.Context, ownerID int64, kind model.Kind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	var removed int
	err := s.mutate(ctx, ownerID, func(items []model.Item) ([]model.Item, error) {
		kept := items[:0]
		for _, it := range items {
			if it.Kind == kind {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// BulkRestart zeroes the progress of every item of kind and returns how many
// were reset.
func (s *Store) BulkRestart(ctx context.Context, ownerID int64, kind model.Kind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	today := s.Today()
	var reset int
	err := s.mutate(ctx, ownerID, func(items []model.Item) ([]model.Item, error) {
		now := s.timestamp()
		for i := range items {
			if items[i].Kind != kind {
				continue
			}
			streak.Reset(&items[i], today)
			items[i].UpdatedAt = now
			reset++
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// Metrics summarizes the owner's items of kind, or all items when kind is
// empty. Archived items are included.
func (s *Store) Metrics(ctx context.Context, ownerID int64, kind model.Kind) (model.Aggregate, error) {
	items, err := s.List(ctx, ownerID, kind, ListOptions{IncludeArchived: true})
	if err != nil {
		return model.Aggregate{}, err
	}
	return streak.Summarize(items, s.Today()), nil
}
