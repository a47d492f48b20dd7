package projector

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"courserator/internal/model"
)

var (
	t1 = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
)

func testSections() model.Sections {
	return model.Sections{
		"A": {
			Name:        "CS1",
			Section:     "A",
			Instructors: model.InstructorList{"X", "Y"},
			Blocks:      []model.TimeBlock{{Start: t1, End: t2}},
		},
		"B": {
			Name:    "CS2",
			Section: "081",
			Blocks: []model.TimeBlock{
				{Start: t1.AddDate(0, 0, 1), End: t2.AddDate(0, 0, 1)},
				{Start: t1.AddDate(0, 0, 8), End: t2.AddDate(0, 0, 8)},
			},
		},
		"ONLINE": {
			Name:        "PSYCH101",
			Section:     "ONL 001",
			Instructors: model.InstructorList{"Z"},
		},
	}
}

func TestEventsIncludesBlockInsideWindow(t *testing.T) {
	evs, err := Events(testSections(), model.Schedule{"A"}, t1, t2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Title != "CS1 A\nX, Y" {
		t.Fatalf("title = %q", ev.Title)
	}
	if !ev.Start.Equal(t1) || ev.End == nil || !ev.End.Equal(t2) || ev.AllDay {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ClassName != EventClass {
		t.Fatalf("class = %q", ev.ClassName)
	}
}

func TestEventsHalfOpenRightEdge(t *testing.T) {
	evs, err := Events(testSections(), model.Schedule{"A"}, t2, t2.Add(time.Nanosecond))
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("block ending at window start must be excluded, got %+v", evs)
	}
}

func TestEventsOnlineSectionIsAllDay(t *testing.T) {
	windows := [][2]time.Time{
		{t1, t2},
		{t1.AddDate(-1, 0, 0), t1.AddDate(-1, 0, 7)},
	}
	for _, w := range windows {
		evs, err := Events(testSections(), model.Schedule{"ONLINE"}, w[0], w[1])
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(evs) != 1 {
			t.Fatalf("expected one all-day event, got %d", len(evs))
		}
		if !evs[0].AllDay || evs[0].End != nil || !evs[0].Start.Equal(w[0]) {
			t.Fatalf("unexpected all-day event: %+v", evs[0])
		}
		if evs[0].Title != "PSYCH101 ONL 001\nZ" {
			t.Fatalf("title = %q", evs[0].Title)
		}
	}
}

func TestEventsOrderAndWindowFilter(t *testing.T) {
	weekStart := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	evs, err := Events(testSections(), model.Schedule{"B", "ONLINE", "A"}, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var got []string
	for _, ev := range evs {
		got = append(got, ev.SectionID)
	}
	want := []string{"B", "ONLINE", "A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestEventsIsPure(t *testing.T) {
	secs := testSections()
	sched := model.Schedule{"A", "B", "ONLINE"}
	start, end := t1.AddDate(0, 0, -1), t1.AddDate(0, 0, 14)
	a, err := Events(secs, sched, start, end)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	b, _ := Events(secs, sched, start, end)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeated projection differs:\n%+v\n%+v", a, b)
	}
}

func TestEventsUnknownSection(t *testing.T) {
	_, err := Events(testSections(), model.Schedule{"A", "NOPE"}, t1, t2)
	if !errors.Is(err, model.ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
}

func TestEarliest(t *testing.T) {
	secs := testSections()
	got, ok := Earliest(secs, model.Schedule{"B", "A"})
	if !ok || !got.Equal(t1) {
		t.Fatalf("earliest = %v, %v", got, ok)
	}
	if _, ok := Earliest(secs, model.Schedule{"ONLINE"}); ok {
		t.Fatalf("online-only schedule has no earliest block")
	}
	if _, ok := Earliest(secs, nil); ok {
		t.Fatalf("empty schedule has no earliest block")
	}
}

func TestRows(t *testing.T) {
	rows := Rows([]model.ScheduleStat{
		{Earliest: "08:30", Latest: "16:20", Instructors: model.InstructorList{"Alice", "Bob"}},
		{Earliest: "-", Latest: "-"},
	})
	want := []Row{
		{Earliest: "08:30", Latest: "16:20", Instructors: "Alice, Bob"},
		{Earliest: "-", Latest: "-", Instructors: ""},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v", rows)
	}
	if len(Rows(nil)) != 0 {
		t.Fatalf("expected no rows")
	}
}
