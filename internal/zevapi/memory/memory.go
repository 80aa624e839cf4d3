// Package memory is an in-process implementation of the billing backend.
//
// It keeps one data set per tenant (taken from the request context) and
// mirrors the backend's validation and error semantics closely enough for
// local development with BACKEND_MODE=memory and for handler tests.
package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"zev/internal/core"
	"zev/internal/zevapi"
)

const defaultTenant = "default"

type Store struct {
	mu      sync.Mutex
	tenants map[string]*tenantData
	seed    func(*tenantData)
}

type tenantData struct {
	nextID        int64
	einheiten     map[int64]core.Einheit
	mieter        map[int64]core.Mieter
	tarife        map[int64]core.Tarif
	einstellungen *core.Einstellungen
	translations  map[string]core.Translation
	messwerte     []core.Messwert
	documents     map[string]zevapi.Document
}

// Ensure interface conformance
var _ zevapi.Backend = (*Store)(nil)

func New() *Store {
	return &Store{tenants: map[string]*tenantData{}}
}

// NewFromFiles seeds every tenant from seed_einheiten.txt ("Name;TYP" per
// line) and seed_translations.txt ("KEY;Deutsch;English") in base. Missing
// files leave the tenant empty.
func NewFromFiles(base string) *Store {
	s := New()
	einheiten := readRecords(filepath.Join(base, "seed_einheiten.txt"))
	translations := readRecords(filepath.Join(base, "seed_translations.txt"))
	s.seed = func(td *tenantData) {
		for _, rec := range einheiten {
			e := core.Einheit{Name: rec[0], Typ: core.Consumer}
			if len(rec) > 1 {
				e.Typ = core.EinheitTyp(strings.ToUpper(rec[1]))
			}
			if e.Validate() != nil {
				continue
			}
			td.nextID++
			e.ID = td.nextID
			td.einheiten[e.ID] = e
		}
		for _, rec := range translations {
			t := core.Translation{Key: rec[0]}
			if len(rec) > 1 {
				t.Deutsch = rec[1]
			}
			if len(rec) > 2 {
				t.Englisch = rec[2]
			}
			if t.Validate() == nil {
				td.translations[t.Key] = t
			}
		}
	}
	return s
}

// tenant returns the data set for the context's tenant. Callers hold s.mu.
func (s *Store) tenant(ctx context.Context) *tenantData {
	name := zevapi.TenantFrom(ctx)
	if name == "" {
		name = defaultTenant
	}
	td, ok := s.tenants[name]
	if !ok {
		td = &tenantData{
			einheiten:    map[int64]core.Einheit{},
			mieter:       map[int64]core.Mieter{},
			tarife:       map[int64]core.Tarif{},
			translations: map[string]core.Translation{},
			documents:    map[string]zevapi.Document{},
		}
		if s.seed != nil {
			s.seed(td)
		}
		s.tenants[name] = td
	}
	return td
}

func (td *tenantData) newID() int64 {
	td.nextID++
	return td.nextID
}

// readRecords reads semicolon separated lines, skipping blanks and # comments.
func readRecords(path string) [][]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out [][]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ";")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" {
			continue
		}
		out = append(out, parts)
	}
	return out
}
