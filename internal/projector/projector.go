// Package projector turns search results into the data the calendar and
// the schedule table display. Everything here is pure.
package projector

import (
	"fmt"
	"strconv"
	"time"

	"courserator/internal/model"
)

// EventClass is the CSS class attached to every calendar entry.
const EventClass = "classBlock"

// EmptyTableMessage is shown by the table when there are no rows.
const EmptyTableMessage = "No schedules available - make a new search!"

// Events projects schedule onto calendar events visible in the half-open
// window [windowStart, windowEnd).
//
//   - A section without blocks yields one all-day event at windowStart.
//   - Every block overlapping the window yields one timed event.
//
// Output order follows schedule order, then block order. Overlapping
// sections are not merged.
func Events(sections model.Sections, schedule model.Schedule, windowStart, windowEnd time.Time) ([]model.CalendarEvent, error) {
	events := make([]model.CalendarEvent, 0)
	for _, id := range schedule {
		sec, ok := sections[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", model.ErrUnknownSection, id)
		}
		title := sec.Label() + "\n" + sec.Instructors.String()

		if len(sec.Blocks) == 0 {
			events = append(events, model.CalendarEvent{
				ID:        id,
				Title:     title,
				Start:     windowStart,
				AllDay:    true,
				ClassName: EventClass,
				SectionID: id,
			})
			continue
		}

		for i, b := range sec.Blocks {
			if !b.Overlaps(windowStart, windowEnd) {
				continue
			}
			end := b.End
			events = append(events, model.CalendarEvent{
				ID:        id + "#" + strconv.Itoa(i),
				Title:     title,
				Start:     b.Start,
				End:       &end,
				ClassName: EventClass,
				SectionID: id,
			})
		}
	}
	return events, nil
}

// Earliest returns the earliest block start in schedule. ok is false when
// no section in the schedule has a block.
func Earliest(sections model.Sections, schedule model.Schedule) (earliest time.Time, ok bool) {
	for _, id := range schedule {
		for _, b := range sections[id].Blocks {
			if !ok || b.Start.Before(earliest) {
				earliest = b.Start
				ok = true
			}
		}
	}
	return earliest, ok
}

// Row is one line of the schedule list table.
type Row struct {
	Earliest    string `json:"earliest"`
	Latest      string `json:"latest"`
	Instructors string `json:"instructors"`
}

// Columns are the table headers, in Row field order.
var Columns = []string{"Earliest", "Latest", "Instructors"}

// Rows converts schedule stats into table rows, one per stat, same order.
func Rows(stats []model.ScheduleStat) []Row {
	rows := make([]Row, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, Row{
			Earliest:    s.Earliest,
			Latest:      s.Latest,
			Instructors: s.Instructors.String(),
		})
	}
	return rows
}
