package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"zev/internal/core"
	"zev/internal/zevapi"
)

type pdfLabels struct {
	statistics, invoice, period, meters        string
	producer, consumer, zev, grid, missingDays string
	tenant, unit, vacant, total, payable       string
}

var (
	labelsDE = pdfLabels{
		statistics: "Statistik", invoice: "Rechnung", period: "Zeitraum", meters: "Messpunkte",
		producer: "Produktion", consumer: "Verbrauch", zev: "ZEV", grid: "Netzbezug", missingDays: "Fehlende Tage",
		tenant: "Mieter", unit: "Einheit", vacant: "Leerstand", total: "Total", payable: "Zahlbar innert",
	}
	labelsEN = pdfLabels{
		statistics: "Statistics", invoice: "Invoice", period: "Period", meters: "Metering points",
		producer: "Production", consumer: "Consumption", zev: "Solar", grid: "Grid", missingDays: "Missing days",
		tenant: "Tenant", unit: "Unit", vacant: "Vacant", total: "Total", payable: "Payable within",
	}
)

func labelsFor(sprache string) pdfLabels {
	if strings.HasPrefix(strings.ToLower(sprache), "en") {
		return labelsEN
	}
	return labelsDE
}

// GenerateRechnungen prices every reading of the selected consumer units with
// the ZEV tariff for solar energy and the VNB tariff for grid energy valid on
// its day, and stores one PDF per unit for download.
func (s *Store) GenerateRechnungen(ctx context.Context, req core.RechnungRequest) ([]core.Rechnung, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(ctx)
	if td.einstellungen == nil {
		return nil, core.NewValidationError("einstellungen: Rechnungsangaben sind noch nicht erfasst")
	}
	period := core.DateRange{Von: req.DateFrom, Bis: req.DateTo}
	tarife := lo.Values(td.tarife)
	l := labelsFor(req.Sprache)

	var out []core.Rechnung
	var msgs []string
	for _, id := range lo.Uniq(req.EinheitIDs) {
		e, ok := td.einheiten[id]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("einheitIds: Einheit %d existiert nicht", id))
			continue
		}
		if e.Typ != core.Consumer {
			msgs = append(msgs, fmt.Sprintf("einheitIds: %s ist keine Verbraucher-Einheit", e.Name))
			continue
		}

		zevKWh, gridKWh, amount := decimal.Zero, decimal.Zero, decimal.Zero
		missing := false
		for _, m := range lo.Filter(td.messwerte, inRange(period)) {
			if m.EinheitID != id {
				continue
			}
			day := dayOf(m)
			zevTarif, okZ := lo.Find(tarife, func(t core.Tarif) bool { return t.Tariftyp == core.TarifZEV && t.CoversDay(day) })
			vnbTarif, okV := lo.Find(tarife, func(t core.Tarif) bool { return t.Tariftyp == core.TarifVNB && t.CoversDay(day) })
			if !okZ || !okV {
				if !missing {
					msgs = append(msgs, fmt.Sprintf("tarife: kein gültiger ZEV- und VNB-Tarif am %s", day.Swiss()))
				}
				missing = true
				continue
			}
			grid := m.Total.Sub(m.Zev)
			zevKWh = zevKWh.Add(m.Zev)
			gridKWh = gridKWh.Add(grid)
			amount = amount.Add(m.Zev.Mul(zevTarif.Preis)).Add(grid.Mul(vnbTarif.Preis))
		}
		if missing {
			continue
		}

		rg := core.Rechnung{
			EinheitID:   e.ID,
			EinheitName: e.Name,
			MieterName:  td.mieterFor(e.ID, period),
			Von:         period.Von,
			Bis:         period.Bis,
			TotalBetrag: amount.Round(2),
			Filename:    fmt.Sprintf("rechnung_%s_%s_%s.pdf", strings.Join(tokens(e.Name), "_"), period.Von.ISO(), period.Bis.ISO()),
			DownloadKey: uuid.NewString(),
		}
		cfg := td.einstellungen.Rechnung
		mieter := rg.MieterName
		if mieter == "" {
			mieter = l.vacant
		}
		lines := []string{
			cfg.Steller.Name,
			cfg.Steller.Strasse,
			cfg.Steller.Plz + " " + cfg.Steller.Ort,
			"",
			fmt.Sprintf("%s: %s", l.tenant, mieter),
			fmt.Sprintf("%s: %s", l.unit, e.Name),
			fmt.Sprintf("%s: %s - %s", l.period, period.Von.Swiss(), period.Bis.Swiss()),
			"",
			fmt.Sprintf("%s: %s kWh", l.zev, zevKWh.StringFixed(2)),
			fmt.Sprintf("%s: %s kWh", l.grid, gridKWh.StringFixed(2)),
			fmt.Sprintf("%s: %s", l.total, core.FormatCHF(rg.TotalBetrag)),
			"",
			fmt.Sprintf("%s %s", l.payable, cfg.Zahlungsfrist),
			"IBAN " + core.FormatIBAN(cfg.IBAN),
		}
		td.documents[rg.DownloadKey] = zevapi.Document{
			Filename:    rg.Filename,
			ContentType: "application/pdf",
			Content:     renderPDF(l.invoice+" "+e.Name, lines),
		}
		out = append(out, rg)
	}
	if len(msgs) > 0 {
		return nil, core.NewValidationError(msgs...)
	}
	return out, nil
}

// mieterFor names the tenant with the latest lease overlapping r, or "".
func (td *tenantData) mieterFor(einheitID int64, r core.DateRange) string {
	var best *core.Mieter
	for _, m := range td.mieter {
		if m.EinheitID != einheitID || m.Mietbeginn.After(r.Bis.Time) {
			continue
		}
		if m.Mietende != nil && !m.Mietende.IsZero() && m.Mietende.Before(r.Von.Time) {
			continue
		}
		if best == nil || m.Mietbeginn.After(best.Mietbeginn.Time) {
			best = &m
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}

func (s *Store) DownloadRechnung(ctx context.Context, key string) (zevapi.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.tenant(ctx).documents[key]
	if !ok {
		return zevapi.Document{}, zevapi.ErrNotFound
	}
	return doc, nil
}
