package model

import "time"

// SnapshotVersion is the document version written by this build.
const SnapshotVersion = 1

// FeatureAll tags a snapshot that carries every item kind.
const FeatureAll = "all"

// Snapshot is the per-owner JSON document used both for persistence and for
// export/import.
type Snapshot struct {
	Version    int          `json:"version"`
	ExportDate time.Time    `json:"exportDate"`
	Feature    string       `json:"feature"`
	Data       SnapshotData `json:"data"`
}

type SnapshotData struct {
	Items     []Item    `json:"items"`
	Aggregate Aggregate `json:"aggregate"`
}

// Aggregate holds collection-level counters. All values are derived from the
// items they summarize.
type Aggregate struct {
	TotalCount       int     `json:"totalCount"`
	ActiveCount      int     `json:"activeCount"`
	ArchivedCount    int     `json:"archivedCount"`
	TodayCount       int     `json:"todayCount"`
	CompletedCount   int     `json:"completedCount"`
	CompletionRate   float64 `json:"completionRate"`
	AverageStreak    float64 `json:"averageStreak"`
	BestStreak       int     `json:"bestStreak"`
	TotalCompletions int     `json:"totalCompletions"`
	TimeSpentSeconds int64   `json:"timeSpentSeconds"`
}
