package picker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	appLog "courserator/internal/log"
	"courserator/internal/model"
	"courserator/internal/projector"
	"courserator/internal/query"
)

var (
	ErrInvalidQuery   = errors.New("invalid course query")
	ErrUnknownTerm    = errors.New("unknown term")
	ErrNoSuchSchedule = errors.New("no such schedule")
)

// Search runs submitted queries against the backend and pushes the result
// into the table and calendar. It owns the current result: one slot,
// replaced wholesale by each successful search.
//
// Overlapping submissions are neither cancelled nor sequenced; each one
// applies its result when its response arrives.
type Search struct {
	fetcher  Fetcher
	views    Views
	calendar *Calendar
	terms    map[string]bool

	mu          sync.Mutex
	current     *model.SearchResult
	currentTerm string
	selected    int
}

// NewSearch builds a search controller. When terms is non-empty, Submit
// rejects any term not in it before contacting the backend.
func NewSearch(fetcher Fetcher, views Views, terms []string) *Search {
	s := &Search{
		fetcher:  fetcher,
		views:    views,
		calendar: NewCalendar(views.Calendar),
		selected: -1,
	}
	if len(terms) > 0 {
		s.terms = make(map[string]bool, len(terms))
		for _, t := range terms {
			s.terms[t] = true
		}
	}
	return s
}

// Init runs the initial validation and renders the empty table.
func (s *Search) Init() {
	if s.views.Field != nil {
		query.Check(s.views.Field)
	}
	s.views.Table.Render(nil)
}

// Calendar exposes the calendar controller, mostly so row selection from
// other surfaces goes through the same single-source logic.
func (s *Search) Calendar() *Calendar {
	return s.calendar
}

// Submit validates rawQuery, fetches schedules for term and renders them,
// selecting the first schedule. On failure the previous result and views
// are left untouched.
func (s *Search) Submit(ctx context.Context, term, rawQuery string) error {
	msg := query.Message(rawQuery)
	if s.views.Field != nil {
		s.views.Field.SetCustomValidity("")
		s.views.Field.SetCustomValidity(msg)
	}
	if msg != "" {
		return fmt.Errorf("%w: %q", ErrInvalidQuery, rawQuery)
	}
	if term == "" || (s.terms != nil && !s.terms[term]) {
		return fmt.Errorf("%w: %q", ErrUnknownTerm, term)
	}

	reqID := uuid.NewString()
	appLog.Info("search submitted", "request_id", reqID, "term", term, "query", rawQuery)

	if s.views.Progress != nil {
		s.views.Progress.Show()
		defer s.views.Progress.Hide()
	}

	res, err := s.fetcher.Fetch(ctx, term, rawQuery)
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		appLog.Error("search failed", err, "request_id", reqID, "term", term)
		if s.views.Errors != nil {
			s.views.Errors.ShowError(err)
		}
		return fmt.Errorf("search %s/%s: %w", term, rawQuery, err)
	}

	s.apply(term, res)
	appLog.Info("search applied",
		"request_id", reqID,
		"schedules", len(res.Schedules),
		"sections", len(res.Sections),
	)
	return nil
}

func (s *Search) apply(term string, res model.SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = &res
	s.currentTerm = term
	if s.views.Errors != nil {
		s.views.Errors.ClearError()
	}
	s.views.Table.Render(projector.Rows(res.ScheduleStats))

	if len(res.Schedules) == 0 {
		s.selected = -1
		s.calendar.Show(res.Sections, nil)
		return
	}
	s.selected = 0
	s.views.Table.Select(0)
	s.calendar.Show(res.Sections, res.Schedules[0])
}

// Select shows the schedule at index, as a click on that table row does.
func (s *Search) Select(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || index < 0 || index >= len(s.current.Schedules) {
		return fmt.Errorf("%w: %d", ErrNoSuchSchedule, index)
	}
	s.selected = index
	s.views.Table.Select(index)
	s.calendar.Show(s.current.Sections, s.current.Schedules[index])
	return nil
}

// Current returns the current result, if any search has succeeded.
func (s *Search) Current() (model.SearchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.SearchResult{}, false
	}
	return *s.current, true
}

// Selection is the selected schedule together with the result and term it
// came from.
type Selection struct {
	Index    int
	Term     string
	Schedule model.Schedule
	Sections model.Sections
}

// Selected returns the current selection, read under one lock so its
// fields always belong to the same search.
func (s *Search) Selected() (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.selected < 0 {
		return Selection{Index: -1}, false
	}
	return Selection{
		Index:    s.selected,
		Term:     s.currentTerm,
		Schedule: s.current.Schedules[s.selected],
		Sections: s.current.Sections,
	}, true
}
