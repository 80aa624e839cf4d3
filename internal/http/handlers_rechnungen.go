package http

import (
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"zev/internal/core"
	applog "zev/internal/log"
)

type rechnungenData struct {
	Einheiten  []core.Einheit
	Selected   []int64
	Range      core.DateRange
	Rechnungen []core.Rechnung
	Total      core.Rechnung
}

func (s *Server) handleRechnungen(w http.ResponseWriter, r *http.Request) {
	s.rechnungenScreen(rechnungenData{Range: core.QuarterOf(s.now()).Previous().Range()})(w, r, http.StatusOK, nil)
}

// rechnungenScreen shows the invoice form for consumer units and the result
// of the last generation run.
func (s *Server) rechnungenScreen(data rechnungenData) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		einheiten, err := s.consumers(r)
		if err != nil {
			code, b := s.problem(r.Context(), err, applog.OpList)
			if isHTMX(r) {
				s.reply(w, r, code, b)
				return
			}
			status, banner = code, b
		}
		data.Einheiten = einheiten
		for _, rg := range data.Rechnungen {
			data.Total.TotalBetrag = data.Total.TotalBetrag.Add(rg.TotalBetrag)
		}
		s.render(w, r, status, "rechnungen", "rechnungen_result", "RECHNUNGEN", data, banner)
	}
}

func parseRechnungRequest(r *http.Request, lang string) (core.RechnungRequest, error) {
	if err := r.ParseForm(); err != nil {
		return core.RechnungRequest{}, core.NewValidationError("Formular konnte nicht gelesen werden")
	}
	p := newFormParser(r.PostForm)
	req := core.RechnungRequest{
		DateFrom:   p.Date("von"),
		DateTo:     p.Date("bis"),
		EinheitIDs: p.IDs("einheiten"),
		Sprache:    lang,
	}
	if err := p.Err(); err != nil {
		return req, err
	}
	return req, req.Validate()
}

// handleGenerateRechnungen creates one invoice per selected unit and tenant
// in the requested language.
func (s *Server) handleGenerateRechnungen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := parseRechnungRequest(r, requestLang(r))
	data := rechnungenData{
		Selected: req.EinheitIDs,
		Range:    core.DateRange{Von: req.DateFrom, Bis: req.DateTo},
	}
	if err == nil {
		data.Rechnungen, err = s.backend.GenerateRechnungen(ctx, req)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpGenerate, s.rechnungenScreen(data))
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Rechnungen generated",
		"einheiten", len(req.EinheitIDs),
		"rechnungen", len(data.Rechnungen),
		"sprache", req.Sprache)
	banner := SuccessBanner(fmt.Sprintf("%d %s erstellt",
		len(data.Rechnungen), lo.Ternary(len(data.Rechnungen) == 1, "Rechnung", "Rechnungen")))
	if len(data.Rechnungen) == 0 {
		banner = InfoBanner("Für den Zeitraum wurden keine Rechnungen erstellt")
	}
	s.rechnungenScreen(data)(w, r, http.StatusOK, banner)
}

// handleDownloadRechnung proxies a generated invoice PDF from the backend.
func (s *Server) handleDownloadRechnung(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := sanitizeInput(r.PathValue("key"))
	if key == "" {
		s.fail(w, r, core.NewValidationError("key: Pflichtfeld"), applog.OpRead, nil)
		return
	}
	doc, err := s.backend.DownloadRechnung(ctx, key)
	if err != nil {
		s.fail(w, r, err, applog.OpRead, nil)
		return
	}
	sendDocument(w, doc, key+".pdf")
}
