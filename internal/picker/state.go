package picker

import (
	"slices"
	"sync"
	"time"

	"courserator/internal/model"
	"courserator/internal/projector"
)

// TableScrollHeight is the fixed height, in pixels, of the table viewport.
const TableScrollHeight = 400

// TableState is an in-memory TableView. The web UI reads it back through
// Snapshot.
type TableState struct {
	mu       sync.RWMutex
	rows     []projector.Row
	selected int
	renders  int
}

func NewTableState() *TableState {
	return &TableState{selected: -1}
}

func (t *TableState) Render(rows []projector.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Destroy then rebuild: the previous model and selection are dropped.
	t.rows = slices.Clone(rows)
	t.selected = -1
	t.renders++
}

func (t *TableState) Select(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.rows) {
		return
	}
	t.selected = index
}

// TableSnapshot is the JSON shape of the table for the web UI.
type TableSnapshot struct {
	Columns    []string        `json:"columns"`
	Rows       []projector.Row `json:"rows"`
	Selected   int             `json:"selected"`
	EmptyText  string          `json:"empty_text,omitempty"`
	Paging     bool            `json:"paging"`
	ScrollY    int             `json:"scroll_y"`
	Generation int             `json:"generation"`
}

func (t *TableState) Snapshot() TableSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := TableSnapshot{
		Columns:    projector.Columns,
		Rows:       slices.Clone(t.rows),
		Selected:   t.selected,
		Paging:     false,
		ScrollY:    TableScrollHeight,
		Generation: t.renders,
	}
	if snap.Rows == nil {
		snap.Rows = []projector.Row{}
	}
	if len(snap.Rows) == 0 {
		snap.EmptyText = projector.EmptyTableMessage
	}
	return snap
}

// CalendarState is an in-memory CalendarView. Like a real calendar widget
// it accepts any number of sources; the Calendar controller is what keeps
// it at one.
type CalendarState struct {
	mu      sync.RWMutex
	sources []EventSource
	focus   *time.Time
}

func NewCalendarState() *CalendarState {
	return &CalendarState{}
}

func (c *CalendarState) AddEventSource(src EventSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, src)
}

func (c *CalendarState) RemoveEventSource(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = slices.DeleteFunc(c.sources, func(s EventSource) bool {
		return s.ID() == id
	})
}

func (c *CalendarState) GotoDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focus = &t
}

// SourceIDs lists installed sources in installation order.
func (c *CalendarState) SourceIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		ids = append(ids, s.ID())
	}
	return ids
}

// Focus is the date the view was last navigated to.
func (c *CalendarState) Focus() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.focus == nil {
		return time.Time{}, false
	}
	return *c.focus, true
}

// Events collects events for [start, end) from every installed source.
func (c *CalendarState) Events(start, end time.Time) ([]model.CalendarEvent, error) {
	c.mu.RLock()
	sources := slices.Clone(c.sources)
	c.mu.RUnlock()

	out := make([]model.CalendarEvent, 0)
	for _, s := range sources {
		evs, err := s.Events(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

// FieldState is an in-memory query field.
type FieldState struct {
	mu      sync.RWMutex
	value   string
	message string
}

func (f *FieldState) SetValue(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

func (f *FieldState) Value() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

func (f *FieldState) SetCustomValidity(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
}

func (f *FieldState) Message() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.message
}

// StatusState tracks in-flight searches and the last surfaced error. It
// implements both Progress and ErrorView.
type StatusState struct {
	mu       sync.RWMutex
	inFlight int
	lastErr  string
}

func (s *StatusState) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
}

func (s *StatusState) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

func (s *StatusState) ShowError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}

func (s *StatusState) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = ""
}

// Busy reports whether any search is in flight.
func (s *StatusState) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

func (s *StatusState) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
