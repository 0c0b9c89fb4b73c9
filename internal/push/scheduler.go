package push

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
	"github.com/dukerupert/stride/internal/tracker"
)

// ItemSource is the read side of the tracker the scheduler needs.
type ItemSource interface {
	List(ctx context.Context, ownerID int64, kind model.Kind, opts tracker.ListOptions) ([]model.Item, error)
	Location() *time.Location
}

// SummaryHour is the local hour after which the daily due-task summary goes out.
const SummaryHour = 8

// sentRetention bounds how long dedup records are kept.
const sentRetention = 7 * 24 * time.Hour

// Scheduler periodically sends habit reminders and due-task summaries.
type Scheduler struct {
	mu         sync.RWMutex
	dispatcher *Dispatcher
	push       *store.PushStore
	items      ItemSource
	logger     *slog.Logger
	now        func() time.Time
	interval   time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewScheduler creates a notification scheduler.
func NewScheduler(d *Dispatcher, pushStore *store.PushStore, items ItemSource, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		push:       pushStore,
		items:      items,
		logger:     logger.With("component", "push_scheduler"),
		now:        time.Now,
		interval:   60 * time.Second,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one scheduling pass over every user with a push subscription.
func (s *Scheduler) Tick(ctx context.Context) {
	userIDs, err := s.push.ListUserIDs()
	if err != nil {
		s.logger.Error("list push users", "error", err)
		return
	}

	now := s.now().In(s.items.Location())
	for _, uid := range userIDs {
		if ctx.Err() != nil {
			return
		}
		s.checkHabitReminders(ctx, uid, now)
		s.checkTasksDue(ctx, uid, now)
	}

	if err := s.push.CleanupSent(now.Add(-sentRetention)); err != nil {
		s.logger.Error("cleanup sent notifications", "error", err)
	}
}

func (s *Scheduler) checkHabitReminders(ctx context.Context, userID int64, now time.Time) {
	habits, err := s.items.List(ctx, userID, model.KindHabit, tracker.ListOptions{})
	if err != nil {
		s.logger.Error("list habits", "user_id", userID, "error", err)
		return
	}

	today := now.Format(time.DateOnly)
	clock := now.Format("15:04")
	for _, h := range habits {
		if h.Habit.ReminderTime == "" || clock < h.Habit.ReminderTime {
			continue
		}
		if slices.Contains(h.Habit.History, today) {
			continue
		}

		refID := h.ID + ":" + today
		sent, err := s.push.WasSent(userID, model.NotifTypeHabitReminder, refID)
		if err != nil {
			s.logger.Error("check sent", "user_id", userID, "error", err)
			continue
		}
		if sent {
			continue
		}

		s.dispatcher.Deliver(ctx, userID, model.NotifTypeHabitReminder, Payload{
			Title: "Habit Reminder",
			Body:  fmt.Sprintf("Time for %s", h.Name),
			URL:   "/habits",
			Tag:   "habit-" + h.ID,
		})
		if err := s.push.RecordSent(userID, model.NotifTypeHabitReminder, refID); err != nil {
			s.logger.Error("record sent", "user_id", userID, "error", err)
		}
	}
}

func (s *Scheduler) checkTasksDue(ctx context.Context, userID int64, now time.Time) {
	if now.Hour() < SummaryHour {
		return
	}

	today := now.Format(time.DateOnly)
	sent, err := s.push.WasSent(userID, model.NotifTypeTaskDue, today)
	if err != nil || sent {
		return
	}

	tasks, err := s.items.List(ctx, userID, model.KindTask, tracker.ListOptions{})
	if err != nil {
		s.logger.Error("list tasks", "user_id", userID, "error", err)
		return
	}

	var due []string
	for _, t := range tasks {
		if t.Task.Completed || t.Task.DueDate == "" || t.Task.DueDate > today {
			continue
		}
		due = append(due, t.Name)
	}
	if len(due) == 0 {
		return
	}

	body := fmt.Sprintf("You have %d tasks due", len(due))
	if len(due) == 1 {
		body = fmt.Sprintf("Task due: %s", due[0])
	}

	s.dispatcher.Deliver(ctx, userID, model.NotifTypeTaskDue, Payload{
		Title: "Tasks Due",
		Body:  body,
		URL:   "/tasks",
		Tag:   "tasks-due",
	})
	if err := s.push.RecordSent(userID, model.NotifTypeTaskDue, today); err != nil {
		s.logger.Error("record sent", "user_id", userID, "error", err)
	}
}
