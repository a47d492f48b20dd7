package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownSection is returned when a schedule references a section id
	// missing from the sections dictionary.
	ErrUnknownSection = errors.New("unknown section")
	// ErrStatsMismatch is returned when schedules and schedule_stats differ in length.
	ErrStatsMismatch = errors.New("schedules and schedule_stats length mismatch")
)

// WallClockLayout is the backend's timestamp format: no zone offset.
const WallClockLayout = "2006-01-02T15:04:05"

// TimeBlock is one meeting interval. On the wire it is a two-element
// array [start, end] of offset-less timestamps, read as UTC wall-clock.
type TimeBlock struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the block intersects the half-open window
// [start, end).
func (b TimeBlock) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

func (b TimeBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{
		b.Start.UTC().Format(WallClockLayout),
		b.End.UTC().Format(WallClockLayout),
	})
}

func (b *TimeBlock) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("time block: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("time block: expected [start, end], got %d elements", len(raw))
	}
	start, err := ParseWallClock(raw[0])
	if err != nil {
		return err
	}
	end, err := ParseWallClock(raw[1])
	if err != nil {
		return err
	}
	b.Start = start
	b.End = end
	return nil
}

var wallClockLayouts = []string{
	WallClockLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseWallClock parses a timestamp and returns its wall-clock reading in
// UTC. Offsets, if present, are dropped rather than applied.
func ParseWallClock(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range wallClockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// InstructorList accepts either a JSON string or a list of strings.
type InstructorList []string

func (l *InstructorList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = InstructorList{}
			return nil
		}
		*l = InstructorList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("instructors: %w", err)
	}
	*l = list
	return nil
}

func (l InstructorList) String() string {
	return strings.Join(l, ", ")
}

// Section is one offered meeting pattern of a course.
type Section struct {
	Name        string         `json:"name" yaml:"name"`
	Section     string         `json:"section" yaml:"section"`
	Instructors InstructorList `json:"instructors" yaml:"instructors"`
	// Blocks is empty for online / no-meeting sections.
	Blocks []TimeBlock `json:"blocks" yaml:"-"`

	Title             string `json:"title,omitempty" yaml:"title,omitempty"`
	Campus            string `json:"campus,omitempty" yaml:"campus,omitempty"`
	Note              string `json:"note,omitempty" yaml:"note,omitempty"`
	ClassNumber       int    `json:"class_number,omitempty" yaml:"class_number,omitempty"`
	CurrentlyEnrolled int    `json:"currently_enrolled,omitempty" yaml:"currently_enrolled,omitempty"`
	MaxEnrolled       int    `json:"max_enrolled,omitempty" yaml:"max_enrolled,omitempty"`
	Earliest          string `json:"earliest,omitempty" yaml:"-"`
	Latest            string `json:"latest,omitempty" yaml:"-"`
}

// Label is the "{name} {section}" heading used on calendar entries.
func (s Section) Label() string {
	return s.Name + " " + s.Section
}

// Sections maps a section identifier to its Section.
type Sections map[string]Section

// Schedule is an ordered list of section identifiers.
type Schedule []string

// ScheduleStat is the precomputed summary row for one schedule.
type ScheduleStat struct {
	Earliest    string         `json:"earliest"`
	Latest      string         `json:"latest"`
	Instructors InstructorList `json:"instructors"`
}

// SearchResult is the backend response for one search.
type SearchResult struct {
	Sections      Sections       `json:"sections"`
	Schedules     []Schedule     `json:"schedules"`
	ScheduleStats []ScheduleStat `json:"schedule_stats"`
}

// Validate checks the result's shape invariants.
func (r SearchResult) Validate() error {
	if len(r.Schedules) != len(r.ScheduleStats) {
		return fmt.Errorf("%w: %d schedules, %d stats", ErrStatsMismatch, len(r.Schedules), len(r.ScheduleStats))
	}
	for i, sched := range r.Schedules {
		for _, id := range sched {
			if _, ok := r.Sections[id]; !ok {
				return fmt.Errorf("%w: schedule %d references %q", ErrUnknownSection, i, id)
			}
		}
	}
	return nil
}

// CalendarEvent is one entry handed to the calendar view. End is nil for
// all-day events.
type CalendarEvent struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	AllDay    bool       `json:"allDay"`
	ClassName string     `json:"className"`
	// SectionID is the source section for this event.
	SectionID string `json:"sectionId"`
}
