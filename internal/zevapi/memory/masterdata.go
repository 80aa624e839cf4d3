package memory

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"zev/internal/core"
	"zev/internal/zevapi"
)

func sortedByID[T any](m map[int64]T) []T {
	ids := lo.Keys(m)
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func (s *Store) ListEinheiten(ctx context.Context) ([]core.Einheit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByID(s.tenant(ctx).einheiten), nil
}

func (s *Store) GetEinheit(ctx context.Context, id int64) (core.Einheit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tenant(ctx).einheiten[id]
	if !ok {
		return core.Einheit{}, zevapi.ErrNotFound
	}
	return e, nil
}

func (s *Store) CreateEinheit(ctx context.Context, e core.Einheit) (core.Einheit, error) {
	if err := e.Validate(); err != nil {
		return core.Einheit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	e.ID = td.newID()
	td.einheiten[e.ID] = e
	return e, nil
}

func (s *Store) UpdateEinheit(ctx context.Context, e core.Einheit) (core.Einheit, error) {
	if err := e.Validate(); err != nil {
		return core.Einheit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.einheiten[e.ID]; !ok {
		return core.Einheit{}, zevapi.ErrNotFound
	}
	td.einheiten[e.ID] = e
	return e, nil
}

func (s *Store) DeleteEinheit(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.einheiten[id]; !ok {
		return zevapi.ErrNotFound
	}
	for _, m := range td.mieter {
		if m.EinheitID == id {
			return fmt.Errorf("%w: Einheit wird von Mieter %q verwendet", zevapi.ErrConflict, m.Name)
		}
	}
	delete(td.einheiten, id)
	return nil
}

// MatchEinheit scores every unit by the share of its name tokens found in
// the file name.
func (s *Store) MatchEinheit(ctx context.Context, filename string) (core.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileTokens := tokens(strings.TrimSuffix(filename, filepath.Ext(filename)))
	best := core.MatchResult{Message: "Keine passende Einheit gefunden"}
	for _, e := range sortedByID(s.tenant(ctx).einheiten) {
		nameTokens := tokens(e.Name)
		if len(nameTokens) == 0 {
			continue
		}
		hits := lo.CountBy(nameTokens, func(t string) bool { return lo.Contains(fileTokens, t) })
		score := float64(hits) / float64(len(nameTokens))
		if strings.Join(nameTokens, "") == strings.Join(fileTokens, "") {
			score = 0.99
		} else if score == 1 {
			score = 0.9
		} else {
			score *= 0.8
		}
		if score > best.Confidence {
			best = core.MatchResult{
				EinheitID:   e.ID,
				EinheitName: e.Name,
				Confidence:  score,
				Message:     fmt.Sprintf("%d von %d Namensteilen gefunden", hits, len(nameTokens)),
			}
		}
	}
	return best, nil
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (s *Store) ListMieter(ctx context.Context) ([]core.Mieter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByID(s.tenant(ctx).mieter), nil
}

func (s *Store) GetMieter(ctx context.Context, id int64) (core.Mieter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tenant(ctx).mieter[id]
	if !ok {
		return core.Mieter{}, zevapi.ErrNotFound
	}
	return m, nil
}

func (s *Store) CreateMieter(ctx context.Context, m core.Mieter) (core.Mieter, error) {
	if err := m.Validate(); err != nil {
		return core.Mieter{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	m.ID = 0
	if err := td.checkLease(m); err != nil {
		return core.Mieter{}, err
	}
	m.ID = td.newID()
	td.mieter[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMieter(ctx context.Context, m core.Mieter) (core.Mieter, error) {
	if err := m.Validate(); err != nil {
		return core.Mieter{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.mieter[m.ID]; !ok {
		return core.Mieter{}, zevapi.ErrNotFound
	}
	if err := td.checkLease(m); err != nil {
		return core.Mieter{}, err
	}
	td.mieter[m.ID] = m
	return m, nil
}

func (s *Store) DeleteMieter(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.mieter[id]; !ok {
		return zevapi.ErrNotFound
	}
	delete(td.mieter, id)
	return nil
}

// checkLease requires a consumer unit and no overlapping lease on it.
func (td *tenantData) checkLease(m core.Mieter) error {
	e, ok := td.einheiten[m.EinheitID]
	if !ok {
		return core.NewValidationError("einheitId: Einheit existiert nicht")
	}
	if e.Typ != core.Consumer {
		return core.NewValidationError("einheitId: Mieter können nur Verbraucher-Einheiten zugeordnet werden")
	}
	for _, other := range td.mieter {
		if other.ID == m.ID || other.EinheitID != m.EinheitID {
			continue
		}
		if leasesOverlap(m, other) {
			return core.NewValidationError(fmt.Sprintf("mietbeginn: Mietdauer überschneidet sich mit %s", other.Name))
		}
	}
	return nil
}

func leasesOverlap(a, b core.Mieter) bool {
	return b.ActiveOn(a.Mietbeginn) || a.ActiveOn(b.Mietbeginn)
}

func (s *Store) ListTarife(ctx context.Context) ([]core.Tarif, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByID(s.tenant(ctx).tarife), nil
}

func (s *Store) GetTarif(ctx context.Context, id int64) (core.Tarif, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenant(ctx).tarife[id]
	if !ok {
		return core.Tarif{}, zevapi.ErrNotFound
	}
	return t, nil
}

func (s *Store) CreateTarif(ctx context.Context, t core.Tarif) (core.Tarif, error) {
	if err := t.Validate(); err != nil {
		return core.Tarif{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	t.ID = td.newID()
	td.tarife[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTarif(ctx context.Context, t core.Tarif) (core.Tarif, error) {
	if err := t.Validate(); err != nil {
		return core.Tarif{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.tarife[t.ID]; !ok {
		return core.Tarif{}, zevapi.ErrNotFound
	}
	td.tarife[t.ID] = t
	return t, nil
}

func (s *Store) DeleteTarif(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.tarife[id]; !ok {
		return zevapi.ErrNotFound
	}
	delete(td.tarife, id)
	return nil
}

// ValidateTarife checks, per tariff type, that every quarter or year between
// the first and the last tariff is covered day by day and that no two
// tariffs of a type overlap.
func (s *Store) ValidateTarife(ctx context.Context, modus core.ValidierungsModus) (core.TarifValidierung, error) {
	if !modus.IsValid() {
		return core.TarifValidierung{}, core.NewValidationError(fmt.Sprintf("modus: ungültiger Wert %q", modus))
	}
	s.mu.Lock()
	all := sortedByID(s.tenant(ctx).tarife)
	s.mu.Unlock()

	var msgs []string
	for _, typ := range []core.TarifTyp{core.TarifZEV, core.TarifVNB} {
		msgs = append(msgs, coverageProblems(all, typ, modus)...)
	}
	return core.TarifValidierung{Valid: len(msgs) == 0, Messages: msgs}, nil
}

func coverageProblems(all []core.Tarif, typ core.TarifTyp, modus core.ValidierungsModus) []string {
	tarife := lo.Filter(all, func(t core.Tarif, _ int) bool { return t.Tariftyp == typ })
	if len(tarife) == 0 {
		return []string{fmt.Sprintf("%s: keine Tarife erfasst", typ)}
	}
	slices.SortFunc(tarife, func(a, b core.Tarif) int { return a.GueltigVon.Compare(b.GueltigVon.Time) })

	var msgs []string
	for i := 1; i < len(tarife); i++ {
		if !tarife[i].GueltigVon.After(tarife[i-1].GueltigBis.Time) {
			msgs = append(msgs, fmt.Sprintf("%s: %s überschneidet sich mit %s", typ, tarife[i].Bezeichnung, tarife[i-1].Bezeichnung))
		}
	}

	first := tarife[0].GueltigVon
	last := slices.MaxFunc(tarife, func(a, b core.Tarif) int { return a.GueltigBis.Compare(b.GueltigBis.Time) }).GueltigBis
	for _, p := range periods(first, last, modus) {
		if !covered(tarife, p.Range()) {
			msgs = append(msgs, fmt.Sprintf("%s: %s nicht vollständig abgedeckt", typ, p.Label()))
		}
	}
	return msgs
}

type period interface {
	Label() string
	Range() core.DateRange
}

type year int

func (y year) Label() string { return fmt.Sprint(int(y)) }
func (y year) Range() core.DateRange {
	return core.DateRange{Von: core.NewDate(int(y), 1, 1), Bis: core.NewDate(int(y), 12, 31)}
}

func periods(from, to core.Date, modus core.ValidierungsModus) []period {
	var out []period
	if modus == core.ModusJahre {
		for y := from.Year(); y <= to.Year(); y++ {
			out = append(out, year(y))
		}
		return out
	}
	q, end := core.QuarterOf(from.Time), core.QuarterOf(to.Time)
	for cmp.Or(cmp.Compare(q.Year, end.Year), cmp.Compare(q.Number, end.Number)) <= 0 {
		out = append(out, q)
		q = core.Quarter{Year: q.Year + q.Number/4, Number: q.Number%4 + 1}
	}
	return out
}

func covered(tarife []core.Tarif, r core.DateRange) bool {
	for d := r.Von; !d.After(r.Bis.Time); d = core.DateOf(d.AddDate(0, 0, 1)) {
		if !lo.ContainsBy(tarife, func(t core.Tarif) bool { return t.CoversDay(d) }) {
			return false
		}
	}
	return true
}

func (s *Store) GetEinstellungen(ctx context.Context) (core.Einstellungen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.tenant(ctx).einstellungen
	if e == nil {
		return core.Einstellungen{}, zevapi.ErrNotFound
	}
	return *e, nil
}

func (s *Store) SaveEinstellungen(ctx context.Context, e core.Einstellungen) (core.Einstellungen, error) {
	if err := e.Validate(); err != nil {
		return core.Einstellungen{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	switch {
	case e.ID == 0 && td.einstellungen != nil:
		return core.Einstellungen{}, fmt.Errorf("%w: Einstellungen existieren bereits", zevapi.ErrConflict)
	case e.ID == 0:
		e.ID = td.newID()
	case td.einstellungen == nil || td.einstellungen.ID != e.ID:
		return core.Einstellungen{}, zevapi.ErrNotFound
	}
	e.Rechnung.IBAN = core.FormatIBAN(e.Rechnung.IBAN)
	td.einstellungen = &e
	return e, nil
}

func (s *Store) ListTranslations(ctx context.Context) ([]core.Translation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Values(s.tenant(ctx).translations)
	slices.SortFunc(out, func(a, b core.Translation) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *Store) CreateTranslation(ctx context.Context, t core.Translation) (core.Translation, error) {
	if err := t.Validate(); err != nil {
		return core.Translation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.translations[t.Key]; ok {
		return core.Translation{}, fmt.Errorf("%w: Schlüssel %s existiert bereits", zevapi.ErrConflict, t.Key)
	}
	td.translations[t.Key] = t
	return t, nil
}

func (s *Store) UpdateTranslation(ctx context.Context, t core.Translation) (core.Translation, error) {
	if err := t.Validate(); err != nil {
		return core.Translation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.translations[t.Key]; !ok {
		return core.Translation{}, zevapi.ErrNotFound
	}
	td.translations[t.Key] = t
	return t, nil
}

func (s *Store) DeleteTranslation(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if _, ok := td.translations[key]; !ok {
		return zevapi.ErrNotFound
	}
	delete(td.translations, key)
	return nil
}
