package streak

import (
	"slices"

	"github.com/dukerupert/stride/internal/model"
)

// CompletionRate returns the share of tracked days an item was completed,
// in [0,1]. Tasks are either 0 or 1.
func CompletionRate(it model.Item, today string) float64 {
	switch it.Kind {
	case model.KindHabit:
		h := it.Habit
		if h == nil || len(h.History) == 0 {
			return 0
		}
		first := min(DayKey(it.CreatedAt), h.History[0])
		last := max(today, h.History[len(h.History)-1])
		days, err := DaysBetween(first, last)
		if err != nil || days < 0 {
			return 0
		}
		return ratio(len(h.History), days+1)
	case model.KindTask:
		if it.Task != nil && it.Task.Completed {
			return 1
		}
	}
	return 0
}

// Summarize computes the aggregate counters over items.
func Summarize(items []model.Item, today string) model.Aggregate {
	var agg model.Aggregate
	var habits, streakSum int

	for _, it := range items {
		agg.TotalCount++
		if it.Archived {
			agg.ArchivedCount++
		} else {
			agg.ActiveCount++
		}

		switch it.Kind {
		case model.KindHabit:
			h := it.Habit
			if h == nil {
				continue
			}
			habits++
			streakSum += h.CurrentStreak
			agg.BestStreak = max(agg.BestStreak, h.BestStreak)
			agg.TotalCompletions += h.TotalCompletions
			if _, done := slices.BinarySearch(h.History, today); done {
				agg.TodayCount++
				agg.CompletedCount++
			}
		case model.KindTask:
			t := it.Task
			if t == nil {
				continue
			}
			agg.TimeSpentSeconds += t.TimeSpentSeconds
			if t.Completed {
				agg.CompletedCount++
				agg.TotalCompletions++
				if t.CompletedOn == today {
					agg.TodayCount++
				}
			}
		}
	}

	agg.CompletionRate = ratio(agg.CompletedCount, agg.TotalCount)
	if habits > 0 {
		agg.AverageStreak = float64(streakSum) / float64(habits)
	}
	return agg
}

func ratio(n, d int) float64 {
	if d <= 0 || n <= 0 {
		return 0
	}
	r := float64(n) / float64(d)
	if r > 1 {
		return 1
	}
	return r
}
