// Package export writes a chosen schedule as an iCalendar document so it
// can be imported into an ordinary calendar app.
package export

import (
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"courserator/internal/model"
)

const (
	productID = "-//courserator//schedule export//EN"
	uidDomain = "courserator"

	floatingLayout = "20060102T150405"
	utcLayout      = "20060102T150405Z"
)

// Options controls the export.
type Options struct {
	// Name is written as the calendar name (X-WR-CALNAME).
	Name string
	// TermStart anchors all-day entries for sections without meetings.
	// Zero means the earliest block of the schedule, or Now.
	TermStart time.Time
	// TimeZone, if set, is the zone the backend's wall-clock times are
	// read in; timed entries are then written in UTC. Otherwise they are
	// written floating.
	TimeZone string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Schedule renders schedule as an iCalendar string: one VEVENT per block,
// one all-day VEVENT per section without blocks.
func Schedule(sections model.Sections, schedule model.Schedule, opts Options) (string, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	anchor := opts.TermStart
	if anchor.IsZero() {
		anchor = now
		for _, id := range schedule {
			for _, b := range sections[id].Blocks {
				if anchor.Equal(now) || b.Start.Before(anchor) {
					anchor = b.Start
				}
			}
		}
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetName(opts.Name)
	}

	stamp := func(t time.Time) string { return t.UTC().Format(floatingLayout) }
	if opts.TimeZone != "" {
		loc, err := time.LoadLocation(opts.TimeZone)
		if err != nil {
			return "", fmt.Errorf("export: %w", err)
		}
		// No VTIMEZONE is emitted, so zoned times go out as UTC.
		stamp = func(t time.Time) string {
			local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
			return local.UTC().Format(utcLayout)
		}
	}

	for _, id := range schedule {
		sec, ok := sections[id]
		if !ok {
			return "", fmt.Errorf("export: %w: %q", model.ErrUnknownSection, id)
		}

		if len(sec.Blocks) == 0 {
			ev := cal.AddEvent(id + "@" + uidDomain)
			describe(ev, sec, now)
			day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
			ev.SetAllDayStartAt(day)
			ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}

		for i, b := range sec.Blocks {
			ev := cal.AddEvent(id + "-" + strconv.Itoa(i) + "@" + uidDomain)
			describe(ev, sec, now)
			ev.SetProperty(ical.ComponentPropertyDtStart, stamp(b.Start))
			ev.SetProperty(ical.ComponentPropertyDtEnd, stamp(b.End))
		}
	}

	return cal.Serialize(), nil
}

func describe(ev *ical.VEvent, sec model.Section, now time.Time) {
	ev.SetDtStampTime(now)
	ev.SetSummary(sec.Label())
	if len(sec.Instructors) > 0 {
		ev.SetDescription(sec.Instructors.String())
	}
	if sec.Campus != "" {
		ev.SetLocation(sec.Campus)
	}
}
