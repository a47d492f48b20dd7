package picker

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "courserator/internal/log"
	"courserator/internal/model"
	"courserator/internal/projector"
)

// Calendar keeps exactly one event source installed on its view.
type Calendar struct {
	view CalendarView

	mu      sync.Mutex
	current EventSource
}

func NewCalendar(view CalendarView) *Calendar {
	return &Calendar{view: view}
}

// Show replaces the installed event source with one that projects
// schedule, then moves the view to the schedule's earliest block. A
// schedule with no timed blocks leaves the view where it is.
func (c *Calendar) Show(sections model.Sections, schedule model.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.view.RemoveEventSource(c.current.ID())
		c.current = nil
	}

	src := &scheduleSource{
		id:       uuid.NewString(),
		sections: sections,
		schedule: slices.Clone(schedule),
	}
	c.view.AddEventSource(src)
	c.current = src

	earliest, ok := projector.Earliest(sections, schedule)
	if !ok {
		appLog.Debug("calendar: schedule has no timed blocks; not navigating", "source", src.id)
		return
	}
	c.view.GotoDate(earliest)
}

// Current returns the installed source, or nil before the first Show.
func (c *Calendar) Current() EventSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

type scheduleSource struct {
	id       string
	sections model.Sections
	schedule model.Schedule
}

func (s *scheduleSource) ID() string { return s.id }

func (s *scheduleSource) Events(start, end time.Time) ([]model.CalendarEvent, error) {
	return projector.Events(s.sections, s.schedule, start, end)
}
