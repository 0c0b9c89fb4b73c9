package model

import (
	"fmt"
	"time"
)

// Kind tags which payload an Item carries.
type Kind string

const (
	KindHabit Kind = "habit"
	KindTask  Kind = "task"
)

// Kinds lists every item kind.
var Kinds = []Kind{KindHabit, KindTask}

func (k Kind) Valid() bool {
	return k == KindHabit || k == KindTask
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return true
	}
	return false
}

// Note is free text attached to an item. Notes are deleted with their item.
type Note struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is a habit or a task owned by one user. Exactly one of Habit or Task
// is set, matching Kind.
type Item struct {
	ID          string     `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Kind        Kind       `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Archived    bool       `json:"archived"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	Notes       []Note     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Habit *Habit `json:"habit,omitempty"`
	Task  *Task  `json:"task,omitempty"`
}

// Habit holds the habit payload. History is the sorted set of completed day
// keys; every counter is derived from it.
type Habit struct {
	Goal         int      `json:"goal"`
	ReminderTime string   `json:"reminder_time,omitempty"`
	History      []string `json:"history"`

	CurrentStreak    int    `json:"current_streak"`
	BestStreak       int    `json:"best_streak"`
	TotalCompletions int    `json:"total_completions"`
	LastCompleted    string `json:"last_completed,omitempty"`
	CompletedToday   bool   `json:"completed_today"`
}

// Task holds the task payload.
type Task struct {
	Completed        bool       `json:"completed"`
	CompletedOn      string     `json:"completed_on,omitempty"`
	Priority         Priority   `json:"priority"`
	Status           TaskStatus `json:"status"`
	ReopenStatus     TaskStatus `json:"reopen_status,omitempty"`
	DueDate          string     `json:"due_date,omitempty"`
	TimeSpentSeconds int64      `json:"time_spent_seconds"`
}

// CheckShape reports an error when the payload does not match Kind.
func (it *Item) CheckShape() error {
	switch it.Kind {
	case KindHabit:
		if it.Habit == nil || it.Task != nil {
			return fmt.Errorf("item %s: habit must carry only a habit payload", it.ID)
		}
	case KindTask:
		if it.Task == nil || it.Habit != nil {
			return fmt.Errorf("item %s: task must carry only a task payload", it.ID)
		}
	default:
		return fmt.Errorf("item %s: unknown kind %q", it.ID, it.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (it Item) Clone() Item {
	out := it
	if it.ArchivedAt != nil {
		t := *it.ArchivedAt
		out.ArchivedAt = &t
	}
	if it.Notes != nil {
		out.Notes = make([]Note, len(it.Notes))
		copy(out.Notes, it.Notes)
	}
	if it.Habit != nil {
		h := *it.Habit
		if it.Habit.History != nil {
			h.History = make([]string, len(it.Habit.History))
			copy(h.History, it.Habit.History)
		}
		out.Habit = &h
	}
	if it.Task != nil {
		t := *it.Task
		out.Task = &t
	}
	return out
}
