package streak

import (
	"fmt"
	"slices"
	"time"

	"github.com/dukerupert/stride/internal/model"
)

// DayLayout is the calendar-day key format.
const DayLayout = "2006-01-02"

// DayKey returns the calendar-day key of t in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay validates a day key and returns midnight UTC of that day.
func ParseDay(key string) (time.Time, error) {
	d, err := time.Parse(DayLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", key, err)
	}
	return d, nil
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b string) (int, error) {
	da, err := ParseDay(a)
	if err != nil {
		return 0, err
	}
	db, err := ParseDay(b)
	if err != nil {
		return 0, err
	}
	return int(db.Sub(da).Hours() / 24), nil
}

// Stats are the counters derived from a completion history.
type Stats struct {
	Current int
	Best    int
	Total   int
	Last    string
}

// Compute derives streak counters from a sorted, duplicate-free history.
// Current is the run of consecutive days ending at the most recent completed
// day; Best is the longest run anywhere in the history.
func Compute(history []string) Stats {
	var s Stats
	if len(history) == 0 {
		return s
	}

	run := 0
	var prev time.Time
	for i, key := range history {
		day, err := ParseDay(key)
		if err != nil {
			continue
		}
		if i > 0 && !prev.IsZero() && day.Sub(prev) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		prev = day
		s.Best = max(s.Best, run)
		s.Total++
		s.Last = key
	}
	s.Current = run
	return s
}

// Toggle adds day to history when absent and removes it when present,
// keeping the history sorted. It reports whether day is now completed.
func Toggle(history []string, day string) ([]string, bool) {
	i, found := slices.BinarySearch(history, day)
	out := slices.Clone(history)
	if out == nil {
		out = []string{}
	}
	if found {
		return slices.Delete(out, i, i+1), false
	}
	return slices.Insert(out, i, day), true
}

// Normalize sorts history and drops duplicates and malformed keys.
func Normalize(history []string) []string {
	out := make([]string, 0, len(history))
	for _, key := range history {
		if _, err := ParseDay(key); err == nil {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Recompute rewrites every derived habit counter from its history.
func Recompute(h *model.Habit, today string) {
	if h.History == nil {
		h.History = []string{}
	}
	s := Compute(h.History)
	h.CurrentStreak = s.Current
	h.BestStreak = s.Best
	h.TotalCompletions = s.Total
	h.LastCompleted = s.Last
	_, h.CompletedToday = slices.BinarySearch(h.History, today)
}

// Reset zeroes the progress of an item, leaving its static fields.
func Reset(it *model.Item, today string) {
	switch it.Kind {
	case model.KindHabit:
		it.Habit.History = []string{}
		Recompute(it.Habit, today)
	case model.KindTask:
		it.Task.Completed = false
		it.Task.CompletedOn = ""
		it.Task.Status = model.TaskStatusTodo
		it.Task.ReopenStatus = ""
		it.Task.TimeSpentSeconds = 0
	}
}
