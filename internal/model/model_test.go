package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const sampleResult = `{
  "sections": {
    "A": {"name": "CS1", "section": "A", "instructors": ["X"],
          "blocks": [["2024-01-08T09:00", "2024-01-08T10:00"]]},
    "B": {"name": "CS2", "section": "LEC 001", "instructors": [], "blocks": []}
  },
  "schedules": [["A", "B"]],
  "schedule_stats": [{"earliest": "09:00", "latest": "10:00", "instructors": "X"}]
}`

func TestSearchResultDecode(t *testing.T) {
	var r SearchResult
	if err := json.Unmarshal([]byte(sampleResult), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	a := r.Sections["A"]
	if len(a.Blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(a.Blocks))
	}
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if !a.Blocks[0].Start.Equal(want) || a.Blocks[0].Start.Location() != time.UTC {
		t.Fatalf("block start = %v, want %v", a.Blocks[0].Start, want)
	}
	if got := r.ScheduleStats[0].Instructors.String(); got != "X" {
		t.Fatalf("string instructors = %q", got)
	}
	if len(r.Sections["B"].Blocks) != 0 {
		t.Fatalf("online section should have no blocks")
	}
}

func TestValidateRejectsUnknownSection(t *testing.T) {
	r := SearchResult{
		Sections:      Sections{"A": {Name: "CS1"}},
		Schedules:     []Schedule{{"A", "Z"}},
		ScheduleStats: []ScheduleStat{{}},
	}
	if err := r.Validate(); !errors.Is(err, ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
}

func TestValidateRejectsStatsMismatch(t *testing.T) {
	r := SearchResult{
		Sections:  Sections{"A": {}},
		Schedules: []Schedule{{"A"}},
	}
	if err := r.Validate(); !errors.Is(err, ErrStatsMismatch) {
		t.Fatalf("expected ErrStatsMismatch, got %v", err)
	}
}

func TestParseWallClockDropsOffset(t *testing.T) {
	got, err := ParseWallClock("2015-01-05T14:30:00-05:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2015, 1, 5, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := ParseWallClock("next tuesday"); err == nil {
		t.Fatalf("expected error for garbage timestamp")
	}
}

func TestTimeBlockRejectsWrongArity(t *testing.T) {
	var b TimeBlock
	if err := json.Unmarshal([]byte(`["2024-01-08T09:00"]`), &b); err == nil {
		t.Fatalf("expected arity error")
	}
}

func TestTimeBlockOverlapsIsHalfOpen(t *testing.T) {
	t1 := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	b := TimeBlock{Start: t1, End: t2}
	if !b.Overlaps(t1, t2) {
		t.Fatalf("block should overlap its own window")
	}
	if b.Overlaps(t2, t2.Add(time.Second)) {
		t.Fatalf("block ending at window start must not overlap")
	}
	if b.Overlaps(t1.Add(-time.Hour), t1) {
		t.Fatalf("block starting at window end must not overlap")
	}
}

func TestCalendarEventJSONKeys(t *testing.T) {
	ev := CalendarEvent{
		ID:        "A#0",
		Title:     "CS1 A\nX",
		Start:     time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		AllDay:    true,
		ClassName: "classBlock",
		SectionID: "A",
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "title", "start", "allDay", "className", "sectionId"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
	if _, ok := got["end"]; ok {
		t.Fatalf("all-day event should omit end: %s", data)
	}
}
