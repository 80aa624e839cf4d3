package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	isoDateLayout   = "2006-01-02"
	localTimeLayout = "2006-01-02T15:04:05"
	swissDateLayout = "02.01.2006"

	// DefaultQuarterCount is how many quarters the quarter selector offers.
	DefaultQuarterCount = 5
)

// Date is a calendar day without time of day, serialized as "2006-01-02".
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate accepts ISO (2006-01-02), Swiss (02.01.2006), RFC3339 and
// zone-less timestamps; the time of day is dropped.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{isoDateLayout, swissDateLayout, time.RFC3339, localTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("parse date %q: unsupported format", s)
}

// ISO returns the wire form, empty for the zero date.
func (d Date) ISO() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(isoDateLayout)
}

// Swiss returns dd.MM.yyyy, empty for the zero date.
func (d Date) Swiss() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(swissDateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.ISO())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FormatSwissDate renders an ISO or RFC3339 date string as dd.MM.yyyy.
// Empty input yields "", unparsable input is returned unchanged.
func FormatSwissDate(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	d, err := ParseDate(s)
	if err != nil {
		return s
	}
	return d.Swiss()
}

// Quarter is one calendar quarter as offered by the quarter selector.
type Quarter struct {
	Year   int
	Number int // 1-4
}

func QuarterOf(d time.Time) Quarter {
	return Quarter{Year: d.Year(), Number: (int(d.Month())-1)/3 + 1}
}

func (q Quarter) Label() string {
	return fmt.Sprintf("Q%d/%d", q.Number, q.Year)
}

func (q Quarter) Start() Date {
	return NewDate(q.Year, (q.Number-1)*3+1, 1)
}

// End is the last day of the quarter.
func (q Quarter) End() Date {
	return Date{Time: q.Start().AddDate(0, 3, -1)}
}

func (q Quarter) Previous() Quarter {
	if q.Number == 1 {
		return Quarter{Year: q.Year - 1, Number: 4}
	}
	return Quarter{Year: q.Year, Number: q.Number - 1}
}

// LastQuarters returns n quarters ending with the one containing now, most recent first.
func LastQuarters(now time.Time, n int) []Quarter {
	if n <= 0 {
		return nil
	}
	out := make([]Quarter, 0, n)
	q := QuarterOf(now)
	for i := 0; i < n; i++ {
		out = append(out, q)
		q = q.Previous()
	}
	return out
}

// DateRange is an inclusive period used by statistics, charts and invoicing.
type DateRange struct {
	Von Date
	Bis Date
}

func (r DateRange) Validate() error {
	if r.Von.IsZero() || r.Bis.IsZero() {
		return NewValidationError("zeitraum: Von und Bis sind Pflichtfelder")
	}
	if r.Bis.Before(r.Von.Time) {
		return NewValidationError("zeitraum: " + ErrInvalidDateRange.Error())
	}
	return nil
}

func (q Quarter) Range() DateRange {
	return DateRange{Von: q.Start(), Bis: q.End()}
}
