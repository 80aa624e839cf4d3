package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mieterNames(ms []Mieter) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortStateToggle(t *testing.T) {
	s := SortState{}
	s = s.Toggle("name")
	if s != (SortState{Column: "name", Asc: true}) {
		t.Fatalf("first click should sort ascending, got %+v", s)
	}
	s = s.Toggle("name")
	if s.Asc {
		t.Fatal("second click on same column should flip direction")
	}
	if s.Indicator("name") != "▼" || s.Indicator("plz") != "" {
		t.Fatalf("unexpected indicators %q %q", s.Indicator("name"), s.Indicator("plz"))
	}
	s = s.Toggle("plz")
	if s != (SortState{Column: "plz", Asc: true}) {
		t.Fatalf("new column should start ascending, got %+v", s)
	}
}

func TestSortByStringsCaseInsensitiveMissingLast(t *testing.T) {
	items := []Mieter{{Name: "beta"}, {Name: ""}, {Name: "Alpha"}, {Name: "gamma"}}
	key := func(m Mieter) any { return m.Name }

	SortBy(items, key, true)
	if got := mieterNames(items); !equalStrings(got, []string{"Alpha", "beta", "gamma", ""}) {
		t.Fatalf("asc order wrong: %q", got)
	}
	SortBy(items, key, false)
	if got := mieterNames(items); !equalStrings(got, []string{"gamma", "beta", "Alpha", ""}) {
		t.Fatalf("desc order wrong: %q", got)
	}
}

func TestSortByOptionalDate(t *testing.T) {
	d1 := NewDate(2025, 6, 30)
	d2 := NewDate(2024, 12, 31)
	items := []Mieter{
		{Name: "open", Mietende: nil},
		{Name: "late", Mietende: &d1},
		{Name: "early", Mietende: &d2},
	}
	key := func(m Mieter) any { return m.Mietende }

	SortBy(items, key, true)
	if got := mieterNames(items); !equalStrings(got, []string{"early", "late", "open"}) {
		t.Fatalf("asc order wrong: %q", got)
	}
	SortBy(items, key, false)
	if got := mieterNames(items); !equalStrings(got, []string{"late", "early", "open"}) {
		t.Fatalf("desc order wrong: %q", got)
	}
}

func TestSortWithKeyMap(t *testing.T) {
	tarife := []Tarif{
		{Bezeichnung: "B", Preis: decimal.RequireFromString("0.30")},
		{Bezeichnung: "A", Preis: decimal.RequireFromString("0.10")},
		{Bezeichnung: "C", Preis: decimal.RequireFromString("0.20")},
	}
	keys := map[string]SortKey[Tarif]{
		"preis": func(t Tarif) any { return t.Preis },
	}
	Sort(tarife, keys, SortState{Column: "preis", Asc: true})
	if tarife[0].Bezeichnung != "A" || tarife[2].Bezeichnung != "B" {
		t.Fatalf("unexpected order: %+v", tarife)
	}
	Sort(tarife, keys, SortState{Column: "unknown", Asc: false})
	if tarife[0].Bezeichnung != "A" {
		t.Fatal("unknown column must not reorder")
	}
}
