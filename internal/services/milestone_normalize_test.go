package services

import (
	"testing"
	"time"

	"github.com/compasshq/compass-backend/internal/types"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNormalizeMilestones_DropsEmptyTitles(t *testing.T) {
	in := []types.Milestone{
		{Title: "", StartDate: "2026-03-01", DueDate: "2026-03-05"},
		{Title: "Real one", StartDate: "2026-03-06", DueDate: "2026-03-10"},
	}
	out := NormalizeMilestones(in, day("2026-03-01"), day("2026-04-01"))
	if len(out) != 1 {
		t.Fatalf("expected 1 milestone, got %d", len(out))
	}
	if out[0].Title != "Real one" {
		t.Fatalf("unexpected milestone kept: %q", out[0].Title)
	}
}

func TestNormalizeMilestones_AssignsMissingIDs(t *testing.T) {
	in := []types.Milestone{
		{ID: "keep-me", Title: "a", StartDate: "2026-03-01", DueDate: "2026-03-05"},
		{Title: "b", StartDate: "2026-03-06", DueDate: "2026-03-10"},
	}
	out := NormalizeMilestones(in, day("2026-03-01"), day("2026-04-01"))
	if out[0].ID != "keep-me" {
		t.Fatalf("existing id overwritten: %q", out[0].ID)
	}
	if out[1].ID == "" {
		t.Fatalf("missing id not assigned")
	}
}

func TestNormalizeMilestones_SeedsMissingDatesInsideWindow(t *testing.T) {
	in := []types.Milestone{
		{Title: "a"},
		{Title: "b"},
		{Title: "c"},
	}
	start, target := day("2026-03-01"), day("2026-03-31")
	out := NormalizeMilestones(in, start, target)
	for i, m := range out {
		s, ok := parseDay(m.StartDate)
		if !ok {
			t.Fatalf("milestone %d start unparseable: %q", i, m.StartDate)
		}
		d, ok := parseDay(m.DueDate)
		if !ok {
			t.Fatalf("milestone %d due unparseable: %q", i, m.DueDate)
		}
		if s.Before(start) || d.After(target) {
			t.Fatalf("milestone %d outside window: %s..%s", i, m.StartDate, m.DueDate)
		}
		if d.Before(s) {
			t.Fatalf("milestone %d due before start: %s..%s", i, m.StartDate, m.DueDate)
		}
	}
}

func TestNormalizeMilestones_SortsAndResolvesOverlaps(t *testing.T) {
	in := []types.Milestone{
		{Title: "second", StartDate: "2026-03-10", DueDate: "2026-03-20"},
		{Title: "first", StartDate: "2026-03-01", DueDate: "2026-03-15"},
	}
	out := NormalizeMilestones(in, day("2026-03-01"), day("2026-04-01"))
	if out[0].Title != "first" || out[1].Title != "second" {
		t.Fatalf("not sorted by start: %q, %q", out[0].Title, out[1].Title)
	}
	firstDue, _ := parseDay(out[0].DueDate)
	secondStart, _ := parseDay(out[1].StartDate)
	if !secondStart.After(firstDue) {
		t.Fatalf("overlap survived: first due %s, second start %s", out[0].DueDate, out[1].StartDate)
	}
}

func TestNormalizeMilestones_ClampsToTargetDate(t *testing.T) {
	in := []types.Milestone{
		{Title: "late", StartDate: "2026-05-01", DueDate: "2026-06-01"},
	}
	target := day("2026-04-01")
	out := NormalizeMilestones(in, day("2026-03-01"), target)
	d, _ := parseDay(out[0].DueDate)
	if d.After(target) {
		t.Fatalf("due date beyond target: %s", out[0].DueDate)
	}
	s, _ := parseDay(out[0].StartDate)
	if s.After(target) {
		t.Fatalf("start date beyond target: %s", out[0].StartDate)
	}
}

func TestNormalizeMilestones_FixesInvertedRange(t *testing.T) {
	in := []types.Milestone{
		{Title: "inverted", StartDate: "2026-03-20", DueDate: "2026-03-10"},
	}
	out := NormalizeMilestones(in, day("2026-03-01"), day("2026-04-01"))
	s, _ := parseDay(out[0].StartDate)
	d, _ := parseDay(out[0].DueDate)
	if d.Before(s) {
		t.Fatalf("range still inverted: %s..%s", out[0].StartDate, out[0].DueDate)
	}
}

func TestNormalizeMilestones_WindowShorterThanList(t *testing.T) {
	in := []types.Milestone{
		{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: "d"}, {Title: "e"},
	}
	start := day("2026-03-01")
	target := day("2026-03-03")
	out := NormalizeMilestones(in, start, target)
	if len(out) != 5 {
		t.Fatalf("expected all 5 milestones kept, got %d", len(out))
	}
	prevStart := start.Add(-24 * time.Hour)
	for i, m := range out {
		s, ok := parseDay(m.StartDate)
		if !ok {
			t.Fatalf("milestone %d: unparseable start %q", i, m.StartDate)
		}
		d, ok := parseDay(m.DueDate)
		if !ok {
			t.Fatalf("milestone %d: unparseable due %q", i, m.DueDate)
		}
		if s.Before(start) || d.After(target) {
			t.Fatalf("milestone %d outside window: %s..%s", i, m.StartDate, m.DueDate)
		}
		if d.Before(s) {
			t.Fatalf("milestone %d inverted: %s..%s", i, m.StartDate, m.DueDate)
		}
		if s.Before(prevStart) {
			t.Fatalf("milestone %d out of order: start %s before previous %s", i, m.StartDate, prevStart.Format(dateLayout))
		}
		prevStart = s
	}
	// One milestone per day until the window runs out, then the rest pin
	// to the target date.
	if out[0].StartDate != "2026-03-01" || out[1].StartDate != "2026-03-02" || out[2].StartDate != "2026-03-03" {
		t.Fatalf("leading milestones not day-stepped: %s, %s, %s", out[0].StartDate, out[1].StartDate, out[2].StartDate)
	}
	for i := 3; i < 5; i++ {
		if out[i].StartDate != "2026-03-03" || out[i].DueDate != "2026-03-03" {
			t.Fatalf("trailing milestone %d not pinned to target: %s..%s", i, out[i].StartDate, out[i].DueDate)
		}
	}
}

func TestNormalizeMilestones_EmptyInput(t *testing.T) {
	out := NormalizeMilestones(nil, day("2026-03-01"), day("2026-04-01"))
	if len(out) != 0 {
		t.Fatalf("expected empty output")
	}
}
