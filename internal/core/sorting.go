package core

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SortState is the column/direction a list screen is sorted by.
type SortState struct {
	Column string
	Asc    bool
}

// Toggle returns the state after a click on column: same column flips the
// direction, a new column starts ascending.
func (s SortState) Toggle(column string) SortState {
	if s.Column == column {
		return SortState{Column: column, Asc: !s.Asc}
	}
	return SortState{Column: column, Asc: true}
}

// Indicator is the arrow shown next to a column header.
func (s SortState) Indicator(column string) string {
	if s.Column != column {
		return ""
	}
	if s.Asc {
		return "▲"
	}
	return "▼"
}

// SortKey extracts the comparable value of a column. A nil result, an empty
// string or a zero Date/time marks a missing value.
type SortKey[T any] func(T) any

// SortBy sorts items in place by key. Missing values always come last,
// regardless of direction; strings compare case-insensitively.
func SortBy[T any](items []T, key SortKey[T], asc bool) {
	slices.SortStableFunc(items, func(a, b T) int {
		va, vb := key(a), key(b)
		ma, mb := missing(va), missing(vb)
		switch {
		case ma && mb:
			return 0
		case ma:
			return 1
		case mb:
			return -1
		}
		c := compareValues(va, vb)
		if !asc {
			c = -c
		}
		return c
	})
}

// Sort applies state using the key registered for its column; unknown
// columns leave the order untouched.
func Sort[T any](items []T, keys map[string]SortKey[T], state SortState) {
	key, ok := keys[state.Column]
	if !ok {
		return
	}
	SortBy(items, key, state.Asc)
}

func missing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case Date:
		return x.IsZero()
	case *Date:
		return x == nil || x.IsZero()
	case time.Time:
		return x.IsZero()
	default:
		return false
	}
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		return cmp.Compare(strings.ToLower(x), strings.ToLower(y))
	case int:
		y, _ := b.(int)
		return cmp.Compare(x, y)
	case int64:
		y, _ := b.(int64)
		return cmp.Compare(x, y)
	case float64:
		y, _ := b.(float64)
		return cmp.Compare(x, y)
	case decimal.Decimal:
		y, _ := b.(decimal.Decimal)
		return x.Cmp(y)
	case Date:
		return compareTimes(x.Time, dateValue(b))
	case *Date:
		return compareTimes(x.Time, dateValue(b))
	case time.Time:
		y, _ := b.(time.Time)
		return compareTimes(x, y)
	default:
		return 0
	}
}

func dateValue(v any) time.Time {
	switch x := v.(type) {
	case Date:
		return x.Time
	case *Date:
		return x.Time
	}
	return time.Time{}
}

func compareTimes(a, b time.Time) int {
	return a.Compare(b)
}
