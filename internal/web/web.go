package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courserator/internal/backend"
	"courserator/internal/config"
	"courserator/internal/export"
	appLog "courserator/internal/log"
	"courserator/internal/model"
	"courserator/internal/picker"
	"courserator/internal/query"
)

// Server exposes the schedule picker over HTTP. It holds one picker
// session: the in-memory table, calendar, query field and status the
// controllers drive, which the embedded page reads back through the API.
type Server struct {
	cfg   *config.Config
	debug bool
	mux   *http.ServeMux

	search *picker.Search
	table  *picker.TableState
	cal    *picker.CalendarState
	field  *picker.FieldState
	status *picker.StatusState
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server whose searches go to fetcher.
func NewServer(cfg *config.Config, fetcher picker.Fetcher, debug bool) *Server {
	s := &Server{
		cfg:    cfg,
		debug:  debug,
		mux:    http.NewServeMux(),
		table:  picker.NewTableState(),
		cal:    picker.NewCalendarState(),
		field:  &picker.FieldState{},
		status: &picker.StatusState{},
	}
	s.search = picker.NewSearch(fetcher, picker.Views{
		Table:    s.table,
		Calendar: s.cal,
		Field:    s.field,
		Progress: s.status,
		Errors:   s.status,
	}, cfg.TermIDs())
	s.search.Init()
	s.registerRoutes()
	return s
}

// Search exposes the picker's search controller.
func (s *Server) Search() *picker.Search {
	return s.search
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Courserator", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/terms", s.handleTerms)
	s.mux.HandleFunc("/api/validate", s.handleValidate)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/table", s.handleTable)
	s.mux.HandleFunc("/api/select", s.handleSelect)
	s.mux.HandleFunc("/api/calendar", s.handleCalendar)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/calendar.ics", s.handleICS)
	s.mux.HandleFunc("/debug/result", s.handleDebugResult)

	// Embedded picker page; every other path falls back here.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded page from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		// Unknown /api/* paths are 404s, never HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

type termsResponse struct {
	Terms   []config.TermConfig `json:"terms"`
	Default string              `json:"default"`
}

func (s *Server) handleTerms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, termsResponse{
		Terms:   s.cfg.Terms,
		Default: s.cfg.DefaultTerm,
	})
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// handleValidate runs the validator for the current field text, the way
// the form does on every input event.
//
// GET /api/validate?q=CS240,MATH135
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.field.SetValue(r.URL.Query().Get("q"))
	valid := query.Check(s.field)
	writeJSON(w, http.StatusOK, validateResponse{Valid: valid, Message: s.field.Message()})
}

type searchResponse struct {
	Term     string               `json:"term"`
	Table    picker.TableSnapshot `json:"table"`
	Calendar calendarResponse     `json:"calendar"`
}

// handleSearch submits a search.
//
// GET|POST /api/search?term=2015W&q=CS240,MATH135
//   - term defaults to config default_term
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			q = r.Form
		}
	}
	term := q.Get("term")
	if term == "" {
		term = s.cfg.DefaultTerm
	}
	raw := q.Get("q")
	s.field.SetValue(raw)

	if err := s.search.Submit(r.Context(), term, raw); err != nil {
		status, msg := searchErrorStatus(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Term:     term,
		Table:    s.table.Snapshot(),
		Calendar: s.calendarState(),
	})
}

// searchErrorStatus maps a Submit error to an HTTP status and message.
func searchErrorStatus(err error) (int, string) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, picker.ErrInvalidQuery):
		return http.StatusUnprocessableEntity, query.InvalidMessage
	case errors.Is(err, picker.ErrUnknownTerm):
		return http.StatusUnprocessableEntity, "unknown term"
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound, "no such course or term"
	case errors.Is(err, backend.ErrBadRequest):
		return http.StatusBadRequest, "scheduler rejected the query"
	case errors.Is(err, model.ErrUnknownSection), errors.Is(err, model.ErrStatsMismatch):
		return http.StatusBadGateway, "malformed scheduler response"
	case errors.As(err, &se):
		return http.StatusBadGateway, "scheduler unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "scheduler timed out"
	default:
		return http.StatusBadGateway, "search failed"
	}
}

func (s *Server) handleTable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

// handleSelect is the row click.
//
// POST /api/select?index=3
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idx, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if err := s.search.Select(idx); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.calendarState())
}

type calendarResponse struct {
	SourceID string                `json:"source_id,omitempty"`
	Focus    *time.Time            `json:"focus,omitempty"`
	Selected int                   `json:"selected"`
	Busy     bool                  `json:"busy"`
	Error    string                `json:"error,omitempty"`
	Options  config.CalendarConfig `json:"options"`
}

func (s *Server) calendarState() calendarResponse {
	resp := calendarResponse{
		Selected: -1,
		Busy:     s.status.Busy(),
		Error:    s.status.LastError(),
		Options:  s.cfg.Calendar,
	}
	if src := s.search.Calendar().Current(); src != nil {
		resp.SourceID = src.ID()
	}
	if f, ok := s.cal.Focus(); ok {
		resp.Focus = &f
	}
	if sel, ok := s.search.Selected(); ok {
		resp.Selected = sel.Index
	}
	return resp
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.calendarState())
}

// handleEvents is the calendar's event feed: events of the installed
// source within [start, end).
//
// GET /api/events?start=2015-01-05&end=2015-01-12
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := model.ParseWallClock(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := model.ParseWallClock(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	events, err := s.cal.Events(start, end)
	if err != nil {
		appLog.Error("api events: projection failed", err)
		writeError(w, http.StatusInternalServerError, "failed to project events")
		return
	}
	appLog.Debug("api events request",
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
		"count", len(events),
	)
	writeJSON(w, http.StatusOK, events)
}

// handleICS downloads the selected schedule as an iCalendar file.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	sel, ok := s.search.Selected()
	if !ok {
		writeError(w, http.StatusNotFound, "no schedule selected")
		return
	}
	idx := sel.Index

	opts := export.Options{Name: "Schedule " + strconv.Itoa(idx+1)}
	if term, ok := s.cfg.Term(sel.Term); ok {
		opts.Name = term.Name + " - " + opts.Name
		opts.TermStart = term.StartDate()
	}

	body, err := export.Schedule(sel.Sections, sel.Schedule, opts)
	if err != nil {
		appLog.Error("api ics: export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export schedule")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule-`+strconv.Itoa(idx+1)+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handleDebugResult shows the current result as escaped, indented JSON
// for operators.
func (s *Server) handleDebugResult(w http.ResponseWriter, _ *http.Request) {
	var v any
	if res, ok := s.search.Current(); ok {
		v = res
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "failed to encode result", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>current result</title><pre>" + html.EscapeString(string(data)) + "</pre>"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
