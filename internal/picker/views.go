// Package picker holds the two controllers of the schedule picker: the
// search controller, which owns the current search result, and the
// calendar controller, which owns the calendar's single event source.
//
// Controllers talk to the outside world only through the view interfaces
// below, so they run the same against the web UI state and test fakes.
package picker

import (
	"context"
	"time"

	"courserator/internal/model"
	"courserator/internal/projector"
	"courserator/internal/query"
)

// Fetcher retrieves candidate schedules for a term and course query.
type Fetcher interface {
	Fetch(ctx context.Context, term, courses string) (model.SearchResult, error)
}

// EventSource is the calendar's pluggable data hook: the calendar asks it
// for events whenever its visible window changes.
type EventSource interface {
	ID() string
	Events(start, end time.Time) ([]model.CalendarEvent, error)
}

// CalendarView is the calendar widget.
type CalendarView interface {
	AddEventSource(src EventSource)
	RemoveEventSource(id string)
	GotoDate(t time.Time)
}

// TableView is the schedule list widget. Render replaces the whole model.
type TableView interface {
	Render(rows []projector.Row)
	Select(index int)
}

// Progress is the busy indicator shown while a search is in flight.
type Progress interface {
	Show()
	Hide()
}

// ErrorView surfaces search failures to the user.
type ErrorView interface {
	ShowError(err error)
	ClearError()
}

// Views bundles the widgets a Search drives. Field, Progress and Errors
// are optional.
type Views struct {
	Table    TableView
	Calendar CalendarView
	Field    query.Field
	Progress Progress
	Errors   ErrorView
}
