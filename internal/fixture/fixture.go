// Package fixture serves search results from a local YAML file instead of
// the scheduling service, for demos and offline development.
//
// Sections are described by weekly meeting patterns ("TTh 11:30-12:50")
// and expanded into concrete blocks over the term's lecture dates. The
// file also lists the schedules to return; nothing here generates
// schedules.
package fixture

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	"courserator/internal/backend"
	"courserator/internal/config"
	appLog "courserator/internal/log"
	"courserator/internal/model"
	"courserator/internal/query"
)

// File is the fixture document.
type File struct {
	Terms map[string]TermFixture `yaml:"terms"`
}

// TermFixture holds one term's courses and candidate schedules.
type TermFixture struct {
	// Courses maps a course code ("CS240") to its sections.
	Courses map[string][]SectionFixture `yaml:"courses"`
	// Schedules lists schedules as "COURSE|SECTION" ids.
	Schedules [][]string `yaml:"schedules"`
}

type SectionFixture struct {
	Section     string    `yaml:"section"`
	Title       string    `yaml:"title"`
	Campus      string    `yaml:"campus"`
	Note        string    `yaml:"note"`
	ClassNumber int       `yaml:"class_number"`
	Enrolled    int       `yaml:"enrolled"`
	Capacity    int       `yaml:"capacity"`
	Instructors []string  `yaml:"instructors"`
	Meetings    []Meeting `yaml:"meetings"`
}

// Meeting is a weekly recurring class time. Weekdays uses the registrar
// notation: M T W Th F S Su, e.g. "MWF" or "TTh".
type Meeting struct {
	Weekdays  string `yaml:"weekdays"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	StartDate string `yaml:"start_date,omitempty"`
	EndDate   string `yaml:"end_date,omitempty"`
}

// Backend implements picker.Fetcher over a loaded fixture.
type Backend struct {
	terms map[string]*termData
}

type termData struct {
	sections  model.Sections
	courses   map[string][]string // course code -> section ids
	schedules []model.Schedule
}

// Load reads and expands the fixture at path. Every fixture term must be
// one of terms, which supply the lecture date range.
func Load(path string, terms []config.TermConfig) (*Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fixture: parse %s: %w", path, err)
	}
	return New(f, terms)
}

// New expands an in-memory fixture.
func New(f File, terms []config.TermConfig) (*Backend, error) {
	b := &Backend{terms: make(map[string]*termData, len(f.Terms))}
	for id, tf := range f.Terms {
		var term *config.TermConfig
		for i := range terms {
			if terms[i].ID == id {
				term = &terms[i]
				break
			}
		}
		if term == nil {
			return nil, fmt.Errorf("fixture: term %q is not configured", id)
		}
		td, err := expandTerm(tf, term.StartDate(), term.EndDate())
		if err != nil {
			return nil, fmt.Errorf("fixture: term %s: %w", id, err)
		}
		b.terms[id] = td
		appLog.Info("fixture term loaded", "term", id, "sections", len(td.sections), "schedules", len(td.schedules))
	}
	return b, nil
}

func normalizeCourse(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

func expandTerm(tf TermFixture, termStart, termEnd time.Time) (*termData, error) {
	td := &termData{
		sections: make(model.Sections),
		courses:  make(map[string][]string),
	}
	for code, sections := range tf.Courses {
		course := normalizeCourse(code)
		for _, sf := range sections {
			blocks, err := expandMeetings(sf.Meetings, termStart, termEnd)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", course, sf.Section, err)
			}
			id := course + "|" + sf.Section
			sec := model.Section{
				Name:              course,
				Section:           sf.Section,
				Instructors:       model.InstructorList(slices.Clone(sf.Instructors)),
				Blocks:            blocks,
				Title:             sf.Title,
				Campus:            sf.Campus,
				Note:              sf.Note,
				ClassNumber:       sf.ClassNumber,
				CurrentlyEnrolled: sf.Enrolled,
				MaxEnrolled:       sf.Capacity,
			}
			if sec.Instructors == nil {
				sec.Instructors = model.InstructorList{}
			}
			sec.Earliest, sec.Latest = timeOfDayRange(blocks)
			td.sections[id] = sec
			td.courses[course] = append(td.courses[course], id)
		}
	}

	for i, raw := range tf.Schedules {
		sched := make(model.Schedule, 0, len(raw))
		for _, id := range raw {
			if _, ok := td.sections[id]; !ok {
				return nil, fmt.Errorf("schedule %d: %w: %q", i, model.ErrUnknownSection, id)
			}
			sched = append(sched, id)
		}
		td.schedules = append(td.schedules, sched)
	}
	return td, nil
}

var weekdayPattern = regexp.MustCompile(`Th|Su|M|T|W|F|S`)

var weekdays = map[string]rrule.Weekday{
	"M":  rrule.MO,
	"T":  rrule.TU,
	"W":  rrule.WE,
	"Th": rrule.TH,
	"F":  rrule.FR,
	"S":  rrule.SA,
	"Su": rrule.SU,
}

// ParseWeekdays turns "TThF" into rrule weekdays.
func ParseWeekdays(s string) ([]rrule.Weekday, error) {
	matches := weekdayPattern.FindAllString(s, -1)
	if len(matches) == 0 || len(strings.Join(matches, "")) != len(strings.TrimSpace(s)) {
		return nil, fmt.Errorf("invalid weekdays %q", s)
	}
	out := make([]rrule.Weekday, 0, len(matches))
	for _, m := range matches {
		out = append(out, weekdays[m])
	}
	return out, nil
}

func parseClock(s string) (time.Duration, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// parseDate accepts MM/DD (in the default date's year), YY/MM/DD or
// YYYY-MM-DD. Empty input yields def.
func parseDate(s string, def time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	parts := strings.Split(s, "/")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q", s)
		}
		nums = append(nums, n)
	}
	switch len(nums) {
	case 2:
		return time.Date(def.Year(), time.Month(nums[0]), nums[1], 0, 0, 0, 0, time.UTC), nil
	case 3:
		year := nums[0]
		if year < 100 {
			year += 2000
		}
		return time.Date(year, time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// expandMeetings turns weekly meetings into sorted concrete blocks. A
// meeting with no weekdays or times (online) yields nothing.
func expandMeetings(meetings []Meeting, termStart, termEnd time.Time) ([]model.TimeBlock, error) {
	blocks := make([]model.TimeBlock, 0)
	for _, m := range meetings {
		if m.Weekdays == "" || m.Start == "" || m.End == "" {
			continue
		}
		days, err := ParseWeekdays(m.Weekdays)
		if err != nil {
			return nil, err
		}
		startOff, err := parseClock(m.Start)
		if err != nil {
			return nil, err
		}
		endOff, err := parseClock(m.End)
		if err != nil {
			return nil, err
		}
		if endOff <= startOff {
			return nil, fmt.Errorf("meeting ends before it starts: %s-%s", m.Start, m.End)
		}
		from, err := parseDate(m.StartDate, termStart)
		if err != nil {
			return nil, err
		}
		to, err := parseDate(m.EndDate, termEnd)
		if err != nil {
			return nil, err
		}

		r, err := rrule.NewRRule(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: days,
			Dtstart:   from.Add(startOff),
			// Inclusive of the last day.
			Until: to.AddDate(0, 0, 1).Add(-time.Second),
		})
		if err != nil {
			return nil, err
		}
		for _, start := range r.All() {
			blocks = append(blocks, model.TimeBlock{
				Start: start,
				End:   start.Add(endOff - startOff),
			})
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })
	return blocks, nil
}

// timeOfDayRange returns the earliest start and latest end time of day as
// HH:MM, or empty strings without blocks.
func timeOfDayRange(blocks []model.TimeBlock) (string, string) {
	earliest, latest := "", ""
	for _, b := range blocks {
		s, e := b.Start.Format("15:04"), b.End.Format("15:04")
		if earliest == "" || s < earliest {
			earliest = s
		}
		if latest == "" || e > latest {
			latest = e
		}
	}
	return earliest, latest
}

// Fetch implements picker.Fetcher: it returns the fixture schedules that
// cover exactly the requested courses.
func (b *Backend) Fetch(_ context.Context, term, courses string) (model.SearchResult, error) {
	td, ok := b.terms[term]
	if !ok {
		return model.SearchResult{}, fmt.Errorf("%w: term %q", backend.ErrNotFound, term)
	}
	parsed, err := query.Parse(courses)
	if err != nil {
		return model.SearchResult{}, fmt.Errorf("%w: %v", backend.ErrBadRequest, err)
	}

	want := make(map[string]bool, len(parsed))
	for _, c := range parsed {
		code := c.String()
		if _, ok := td.courses[code]; !ok {
			return model.SearchResult{}, fmt.Errorf("%w: course %s", backend.ErrNotFound, code)
		}
		want[code] = true
	}

	res := model.SearchResult{
		Sections:      make(model.Sections),
		Schedules:     make([]model.Schedule, 0),
		ScheduleStats: make([]model.ScheduleStat, 0),
	}
	for _, sched := range td.schedules {
		if !coversExactly(td, sched, want) {
			continue
		}
		for _, id := range sched {
			res.Sections[id] = td.sections[id]
		}
		res.Schedules = append(res.Schedules, slices.Clone(sched))
		res.ScheduleStats = append(res.ScheduleStats, Stats(td.sections, sched))
	}
	return res, nil
}

func coversExactly(td *termData, sched model.Schedule, want map[string]bool) bool {
	seen := make(map[string]bool, len(want))
	for _, id := range sched {
		course := td.sections[id].Name
		if !want[course] {
			return false
		}
		seen[course] = true
	}
	return len(seen) == len(want)
}

// Stats summarizes a schedule: earliest start, latest end and the sorted
// set of instructors. Missing times are reported as "-".
func Stats(sections model.Sections, sched model.Schedule) model.ScheduleStat {
	earliest, latest := "", ""
	instructors := make(map[string]bool)
	for _, id := range sched {
		sec := sections[id]
		for _, name := range sec.Instructors {
			instructors[name] = true
		}
		if sec.Earliest != "" && (earliest == "" || sec.Earliest < earliest) {
			earliest = sec.Earliest
		}
		if sec.Latest != "" && sec.Latest > latest {
			latest = sec.Latest
		}
	}
	if earliest == "" {
		earliest = "-"
	}
	if latest == "" {
		latest = "-"
	}
	names := make(model.InstructorList, 0, len(instructors))
	for name := range instructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return model.ScheduleStat{Earliest: earliest, Latest: latest, Instructors: names}
}
