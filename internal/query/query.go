// Package query validates and parses the free-text course list typed into
// the search form.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// InvalidMessage is the validity text shown while the field is invalid.
const InvalidMessage = "Enter a comma-separated list of courses"

var (
	listPattern   = regexp.MustCompile(`^(\s*[A-Za-z]+\s*\d\w*\s*)(,\s*[A-Za-z]+\s*\d\w*\s*)*$`)
	coursePattern = regexp.MustCompile(`^\s*([a-zA-Z]+)\s*(\d\w*)\s*$`)

	ErrInvalidCourse = errors.New("invalid course")
)

// Valid reports whether raw is a comma-separated list of course tokens
// such as "CS240, math135".
func Valid(raw string) bool {
	joined := strings.Join(strings.Split(raw, ","), ",")
	return listPattern.MatchString(joined)
}

// Message returns the validity message for raw: empty when valid.
func Message(raw string) string {
	if Valid(raw) {
		return ""
	}
	return InvalidMessage
}

// Course is one parsed token of the query.
type Course struct {
	Subject string `json:"subject"`
	Catalog string `json:"catalog"`
}

func (c Course) String() string {
	return c.Subject + c.Catalog
}

// Parse splits raw into courses. Subjects are upper-cased.
func Parse(raw string) ([]Course, error) {
	parts := strings.Split(raw, ",")
	out := make([]Course, 0, len(parts))
	for _, p := range parts {
		m := coursePattern.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCourse, strings.TrimSpace(p))
		}
		out = append(out, Course{
			Subject: strings.ToUpper(m[1]),
			Catalog: strings.ToUpper(m[2]),
		})
	}
	return out, nil
}

// Field is the form input the validator reports to.
type Field interface {
	Value() string
	SetCustomValidity(msg string)
}

// Check validates the field's current value, updates its validity message
// and returns the result. Call it on every input change and once at start.
func Check(f Field) bool {
	v := f.Value()
	f.SetCustomValidity("")
	msg := Message(v)
	f.SetCustomValidity(msg)
	return msg == ""
}
