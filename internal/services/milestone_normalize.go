package services

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/compasshq/compass-backend/internal/types"
)

const dateLayout = "2006-01-02"

// NormalizeMilestones is the structural repair pass applied to every
// assistant-produced milestone list. Prompt instructions ask for ordered,
// non-overlapping ranges, but a malformed response must not persist invalid
// ordering, so the guarantees are enforced here: every milestone gets an ID,
// dates land inside [windowStart, targetDate], start <= due, and the list is
// chronological. Consecutive ranges do not overlap as long as the window has
// a day per milestone; when the list outnumbers the days, the window bound
// wins and trailing milestones collapse onto the target date.
func NormalizeMilestones(milestones []types.Milestone, windowStart, targetDate time.Time) []types.Milestone {
	if len(milestones) == 0 {
		return milestones
	}
	windowStart = truncateDay(windowStart)
	targetDate = truncateDay(targetDate)
	if targetDate.Before(windowStart) {
		targetDate = windowStart
	}

	out := make([]types.Milestone, 0, len(milestones))
	for _, m := range milestones {
		if m.Title == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return out
	}

	// Seed missing dates from an even split of the window.
	span := targetDate.Sub(windowStart)
	slice := span / time.Duration(len(out))
	if slice < 24*time.Hour {
		slice = 24 * time.Hour
	}
	parsed := make([]struct{ start, due time.Time }, len(out))
	for i := range out {
		start, startOK := parseDay(out[i].StartDate)
		due, dueOK := parseDay(out[i].DueDate)
		if !startOK {
			start = windowStart.Add(time.Duration(i) * slice)
		}
		if !dueOK {
			due = start.Add(slice - 24*time.Hour)
		}
		parsed[i] = struct{ start, due time.Time }{clampDay(start, windowStart, targetDate), clampDay(due, windowStart, targetDate)}
		if parsed[i].due.Before(parsed[i].start) {
			parsed[i].due = parsed[i].start
		}
		if out[i].ID == "" {
			out[i].ID = uuid.New().String()
		}
	}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return parsed[order[a]].start.Before(parsed[order[b]].start)
	})

	sorted := make([]types.Milestone, 0, len(out))
	prevDue := windowStart.Add(-24 * time.Hour)
	for _, idx := range order {
		m := out[idx]
		start, due := parsed[idx].start, parsed[idx].due
		if !start.After(prevDue) {
			start = prevDue.Add(24 * time.Hour)
		}
		if start.After(targetDate) {
			start = targetDate
		}
		if due.Before(start) {
			due = start
		}
		if due.After(targetDate) {
			due = targetDate
		}
		m.StartDate = start.Format(dateLayout)
		m.DueDate = due.Format(dateLayout)
		prevDue = due
		sorted = append(sorted, m)
	}
	return sorted
}

func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampDay(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}
