package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/streak"
	"github.com/dukerupert/stride/internal/tracker"
)

type CalendarHandler struct {
	tracker *tracker.Store
	logger  *slog.Logger
}

func NewCalendarHandler(tr *tracker.Store, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{tracker: tr, logger: logger.With("component", "calendar")}
}

// Feed handles GET /api/calendar.ics: an all-day event per open task with a
// due date.
func (h *CalendarHandler) Feed(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tracker.List(r.Context(), owner(r).ID, model.KindTask, tracker.ListOptions{})
	if err != nil {
		writeTrackerError(w, h.logger, "calendar feed", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="stride.ics"`)
	writeICS(w, tasks, time.Now().UTC())
}

var icsPriority = map[model.Priority]int{
	model.PriorityUrgent: 1,
	model.PriorityHigh:   3,
	model.PriorityMedium: 5,
	model.PriorityLow:    9,
}

func writeICS(w io.Writer, tasks []model.Item, now time.Time) {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Stride//Tasks//EN",
		"CALSCALE:GREGORIAN",
		"X-WR-CALNAME:Stride tasks",
	}
	for _, t := range tasks {
		if t.Task.Completed || t.Task.DueDate == "" {
			continue
		}
		day, err := streak.ParseDay(t.Task.DueDate)
		if err != nil {
			continue
		}
		lines = append(lines,
			"BEGIN:VEVENT",
			"UID:"+t.ID+"@stride",
			"DTSTAMP:"+now.Format("20060102T150405Z"),
			"DTSTART;VALUE=DATE:"+day.Format("20060102"),
			"DTEND;VALUE=DATE:"+day.AddDate(0, 0, 1).Format("20060102"),
			"SUMMARY:"+icsEscape(t.Name),
		)
		if t.Description != "" {
			lines = append(lines, "DESCRIPTION:"+icsEscape(t.Description))
		}
		if t.Category != "" {
			lines = append(lines, "CATEGORIES:"+icsEscape(t.Category))
		}
		if p, ok := icsPriority[t.Task.Priority]; ok {
			lines = append(lines, fmt.Sprintf("PRIORITY:%d", p))
		}
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR")

	for _, l := range lines {
		io.WriteString(w, icsFold(l)+"\r\n")
	}
}

var icsReplacer = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

func icsEscape(s string) string {
	return icsReplacer.Replace(s)
}

// icsFold splits lines longer than 75 octets without breaking UTF-8 runes.
func icsFold(line string) string {
	const limit = 75
	if len(line) <= limit {
		return line
	}
	var b strings.Builder
	width := 0
	for _, r := range line {
		n := len(string(r))
		if width+n > limit {
			b.WriteString("\r\n ")
			width = 1
		}
		b.WriteRune(r)
		width += n
	}
	return b.String()
}
