package memory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"zev/internal/core"
	"zev/internal/zevapi"
)

const zeitLayout = "2006-01-02T15:04:05"

// UploadMesswerte imports a CSV of "zeit;total[;zev]" rows for one unit.
// Rows whose first column is a bare time of day are placed on u.Date. Rows
// that do not parse (headers, comments) are skipped; re-uploading a
// timestamp replaces the earlier reading.
func (s *Store) UploadMesswerte(ctx context.Context, u zevapi.Upload) (core.UploadResult, error) {
	if u.Date.IsZero() {
		return core.UploadResult{}, core.NewValidationError("date: Pflichtfeld")
	}
	rows, err := parseReadings(u.Content, u.Date)
	if err != nil {
		return core.UploadResult{}, err
	}
	if len(rows) == 0 {
		return core.UploadResult{}, core.NewValidationError(fmt.Sprintf("file: %s enthält keine Messwerte", u.Filename))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	e, ok := td.einheiten[u.EinheitID]
	if !ok {
		return core.UploadResult{}, core.NewValidationError("einheitId: Einheit existiert nicht")
	}

	index := make(map[string]int, len(td.messwerte))
	for i, m := range td.messwerte {
		if m.EinheitID == e.ID {
			index[m.Zeit] = i
		}
	}
	for _, r := range rows {
		r.EinheitID, r.EinheitName = e.ID, e.Name
		if i, ok := index[r.Zeit]; ok {
			td.messwerte[i] = r
			continue
		}
		index[r.Zeit] = len(td.messwerte)
		td.messwerte = append(td.messwerte, r)
	}
	return core.UploadResult{
		Status:  "SUCCESS",
		Count:   len(rows),
		Message: fmt.Sprintf("%d Messwerte für %s importiert", len(rows), e.Name),
	}, nil
}

func parseReadings(content []byte, day core.Date) ([]core.Messwert, error) {
	firstLine, _, _ := bytes.Cut(content, []byte("\n"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.Comment = '#'
	if bytes.Contains(firstLine, []byte(";")) {
		r.Comma = ';'
	}

	var out []core.Messwert
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.NewValidationError(fmt.Sprintf("file: ungültiges CSV: %v", err))
		}
		if len(rec) < 2 {
			continue
		}
		zeit, ok := parseZeit(rec[0], day)
		if !ok {
			continue
		}
		total, err := parseAmount(rec[1])
		if err != nil {
			continue
		}
		m := core.Messwert{Zeit: zeit, Total: total}
		if len(rec) > 2 {
			if zev, err := parseAmount(rec[2]); err == nil {
				m.Zev, m.ZevCalculated = zev, zev
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func parseZeit(s string, day core.Date) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{zeitLayout, time.RFC3339, "2006-01-02 15:04:05", "02.01.2006 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(zeitLayout), true
		}
	}
	if t, err := time.Parse("15:04", s); err == nil {
		return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute).Format(zeitLayout), true
	}
	return "", false
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
}

func dayOf(m core.Messwert) core.Date {
	d, _ := core.ParseDate(m.Zeit)
	return d
}

func inRange(r core.DateRange) func(core.Messwert, int) bool {
	return func(m core.Messwert, _ int) bool {
		d := dayOf(m)
		return !d.Before(r.Von.Time) && !d.After(r.Bis.Time)
	}
}

func (s *Store) MesswerteByTime(ctx context.Context, r core.DateRange) ([]core.Messwert, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Filter(s.tenant(ctx).messwerte, inRange(r))
	slices.SortFunc(out, func(a, b core.Messwert) int {
		if c := strings.Compare(a.Zeit, b.Zeit); c != 0 {
			return c
		}
		return int(a.EinheitID - b.EinheitID)
	})
	return out, nil
}

// CalculateDistribution shares the solar production of every timestamp among
// the consumers in proportion to their consumption, capped at what they used.
func (s *Store) CalculateDistribution(ctx context.Context, r core.DateRange) (core.DistributionResult, error) {
	if err := r.Validate(); err != nil {
		return core.DistributionResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)

	byZeit := map[string][]int{}
	keep := inRange(r)
	for i, m := range td.messwerte {
		if keep(m, i) {
			byZeit[m.Zeit] = append(byZeit[m.Zeit], i)
		}
	}

	res := core.DistributionResult{Status: "SUCCESS"}
	for _, idx := range byZeit {
		produced, consumed := decimal.Zero, decimal.Zero
		for _, i := range idx {
			switch td.einheiten[td.messwerte[i].EinheitID].Typ {
			case core.Producer:
				produced = produced.Add(td.messwerte[i].Total)
			case core.Consumer:
				consumed = consumed.Add(td.messwerte[i].Total)
			}
		}
		distributed := decimal.Min(produced, consumed)
		for _, i := range idx {
			if td.einheiten[td.messwerte[i].EinheitID].Typ != core.Consumer {
				continue
			}
			share := decimal.Zero
			if consumed.IsPositive() {
				share = td.messwerte[i].Total.Mul(distributed).Div(consumed).Round(6)
			}
			td.messwerte[i].Zev = share
			td.messwerte[i].ZevCalculated = share
		}
		res.ProcessedTimestamps++
		res.TotalSolarProduced = res.TotalSolarProduced.Add(produced)
		res.TotalDistributed = res.TotalDistributed.Add(distributed)
	}
	if res.ProcessedTimestamps == 0 {
		res.Message = "Keine Messwerte im Zeitraum"
	}
	return res, nil
}

func (s *Store) GetStatistik(ctx context.Context, r core.DateRange) (core.Statistik, error) {
	if err := r.Validate(); err != nil {
		return core.Statistik{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant(ctx).statistik(r), nil
}

// statistik aggregates readings per calendar month, clipped to r.
func (td *tenantData) statistik(r core.DateRange) core.Statistik {
	readings := lo.Filter(td.messwerte, inRange(r))
	st := core.Statistik{
		Von:              r.Von,
		Bis:              r.Bis,
		MesspunkteAnzahl: len(lo.Uniq(lo.Map(readings, func(m core.Messwert, _ int) int64 { return m.EinheitID }))),
	}

	for start := core.NewDate(r.Von.Year(), int(r.Von.Month()), 1); !start.After(r.Bis.Time); start = core.DateOf(start.AddDate(0, 1, 0)) {
		von, bis := start, core.DateOf(start.AddDate(0, 1, -1))
		if von.Before(r.Von.Time) {
			von = r.Von
		}
		if bis.After(r.Bis.Time) {
			bis = r.Bis
		}
		ms := core.MonatsStatistik{Jahr: start.Year(), Monat: int(start.Month()), Von: von, Bis: bis}
		month := lo.Filter(readings, inRange(core.DateRange{Von: von, Bis: bis}))

		seen := map[string]bool{}
		for _, m := range month {
			seen[dayOf(m).ISO()] = true
			switch td.einheiten[m.EinheitID].Typ {
			case core.Producer:
				ms.SummeProducer = ms.SummeProducer.Add(m.Total)
			case core.Consumer:
				ms.SummeConsumer = ms.SummeConsumer.Add(m.Total)
				ms.SummeZev = ms.SummeZev.Add(m.Zev)
				if !m.Zev.Equal(m.ZevCalculated) {
					ms.Abweichung = true
				}
			}
		}
		ms.SummeNetzbezug = ms.SummeConsumer.Sub(ms.SummeZev)
		ms.SummeEinspeisung = ms.SummeProducer.Sub(ms.SummeZev)
		if ms.SummeZev.GreaterThan(ms.SummeProducer) {
			ms.Abweichung = true
			ms.Hinweise = append(ms.Hinweise, "ZEV-Verbrauch übersteigt die Produktion")
		}
		if ms.Abweichung && len(ms.Hinweise) == 0 {
			ms.Hinweise = append(ms.Hinweise, "Verteilung weicht von der Berechnung ab")
		}

		for d := von; !d.After(bis.Time); d = core.DateOf(d.AddDate(0, 0, 1)) {
			if !seen[d.ISO()] {
				ms.FehlendeTage = append(ms.FehlendeTage, d)
			}
		}
		ms.DatenVollstaendig = len(ms.FehlendeTage) == 0
		st.Monate = append(st.Monate, ms)
	}
	return st
}

func (s *Store) ExportStatistikPDF(ctx context.Context, r core.DateRange, sprache string) (zevapi.Document, error) {
	st, err := s.GetStatistik(ctx, r)
	if err != nil {
		return zevapi.Document{}, err
	}
	l := labelsFor(sprache)
	lines := []string{
		fmt.Sprintf("%s: %s - %s", l.period, r.Von.Swiss(), r.Bis.Swiss()),
		fmt.Sprintf("%s: %d", l.meters, st.MesspunkteAnzahl),
		"",
	}
	for _, m := range st.Monate {
		lines = append(lines, fmt.Sprintf("%s  %s %s  %s %s  %s %s  %s %s",
			m.Label(),
			l.producer, m.SummeProducer.StringFixed(2),
			l.consumer, m.SummeConsumer.StringFixed(2),
			l.zev, m.SummeZev.StringFixed(2),
			l.grid, m.SummeNetzbezug.StringFixed(2)))
		if m.HasIssues() {
			lines = append(lines, fmt.Sprintf("    %s: %d", l.missingDays, len(m.FehlendeTage)))
		}
	}
	return zevapi.Document{
		Filename:    fmt.Sprintf("statistik_%s_%s.pdf", r.Von.ISO(), r.Bis.ISO()),
		ContentType: "application/pdf",
		Content:     renderPDF(l.statistics, lines),
	}, nil
}
