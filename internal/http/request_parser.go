// Package http serves the server-rendered administration UI.
//
// This file holds the helpers that turn form and query values into domain
// types. Parse failures are reported as core.ValidationError so handlers can
// show them in the same itemized banner as backend validation messages.

package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"zev/internal/core"
)

// sanitizeInput removes control characters except tab, newline and carriage return and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// formParser collects the problems of one form so that every invalid field
// is reported at once.
type formParser struct {
	values url.Values
	msgs   []string
}

func newFormParser(values url.Values) *formParser {
	return &formParser{values: values}
}

func (p *formParser) String(key string) string {
	return sanitizeInput(p.values.Get(key))
}

// Int64 parses an optional integer; empty input yields 0.
func (p *formParser) Int64(key string) int64 {
	v := p.String(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.msgs = append(p.msgs, key+": keine gültige Zahl")
		return 0
	}
	return n
}

// Date parses a required date.
func (p *formParser) Date(key string) core.Date {
	v := p.String(key)
	if v == "" {
		p.msgs = append(p.msgs, key+": Pflichtfeld")
		return core.Date{}
	}
	return p.parseDate(key, v)
}

// OptionalDate returns nil for empty input.
func (p *formParser) OptionalDate(key string) *core.Date {
	v := p.String(key)
	if v == "" {
		return nil
	}
	d := p.parseDate(key, v)
	if d.IsZero() {
		return nil
	}
	return &d
}

func (p *formParser) parseDate(key, v string) core.Date {
	d, err := core.ParseDate(v)
	if err != nil {
		p.msgs = append(p.msgs, key+": ungültiges Datum")
		return core.Date{}
	}
	return d
}

// IDs parses every value of a multi-value field, skipping blanks.
func (p *formParser) IDs(key string) []int64 {
	var ids []int64
	for _, v := range p.values[key] {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			p.msgs = append(p.msgs, key+": ungültige Auswahl")
			continue
		}
		ids = append(ids, n)
	}
	return lo.Uniq(ids)
}

// Err returns the collected problems as one validation error, or nil.
func (p *formParser) Err() error {
	if len(p.msgs) == 0 {
		return nil
	}
	return core.NewValidationError(p.msgs...)
}

// parseDateRange reads von/bis. ok is false when neither is given, which
// screens treat as "nothing selected yet".
func parseDateRange(values url.Values) (r core.DateRange, ok bool, err error) {
	if strings.TrimSpace(values.Get("von")) == "" && strings.TrimSpace(values.Get("bis")) == "" {
		return core.DateRange{}, false, nil
	}
	p := newFormParser(values)
	r = core.DateRange{Von: p.Date("von"), Bis: p.Date("bis")}
	if err := p.Err(); err != nil {
		return r, true, err
	}
	return r, true, r.Validate()
}

// parseSort reads sort/dir from the query, falling back to def.
func parseSort(query url.Values, def core.SortState) core.SortState {
	col := strings.TrimSpace(query.Get("sort"))
	if col == "" {
		return def
	}
	return core.SortState{Column: col, Asc: query.Get("dir") != "desc"}
}

// sortQuery is the query string of the header link for column: clicking the
// sorted column flips the direction.
func sortQuery(state core.SortState, column string) string {
	next := state.Toggle(column)
	dir := "asc"
	if !next.Asc {
		dir = "desc"
	}
	return "sort=" + url.QueryEscape(column) + "&dir=" + dir
}

// pathID parses a positive numeric path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewValidationError(name + ": ungültige ID")
	}
	return id, nil
}

// isHTMX reports whether the request came from htmx and expects a fragment.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// sameHostPath reduces an absolute URL on host to its path and query.
func sameHostPath(raw, host string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host != host {
		return "/"
	}
	return u.RequestURI()
}

// localPath accepts only same-site absolute paths, for redirects built from
// user-controlled input.
func localPath(s string) string {
	if u, err := url.Parse(s); err == nil && u.Host == "" && u.Scheme == "" {
		s = u.RequestURI()
	}
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/\\") {
		return "/"
	}
	return s
}
