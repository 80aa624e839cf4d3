package http

import (
	"fmt"
	"net/http"
	"net/url"

	"zev/internal/core"
	applog "zev/internal/log"
)

type statistikData struct {
	Range     core.DateRange
	Selected  bool
	Statistik *core.Statistik
	Totals    core.MonatsStatistik
}

// handleStatistik shows the period selector and, once von/bis are given,
// the monthly aggregation with flagged months.
func (s *Server) handleStatistik(w http.ResponseWriter, r *http.Request) {
	s.statistikScreen(w, r, http.StatusOK, nil)
}

func (s *Server) statistikScreen(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
	ctx := r.Context()
	var data statistikData
	rng, ok, err := parseDateRange(r.URL.Query())
	data.Range, data.Selected = rng, ok
	if !ok {
		data.Range = core.QuarterOf(s.now()).Previous().Range()
	}
	if ok && err == nil {
		var st core.Statistik
		st, err = s.backend.GetStatistik(ctx, rng)
		if err == nil {
			data.Statistik = &st
			data.Totals = st.Totals()
		}
	}
	if err != nil {
		code, b := s.problem(ctx, err, applog.OpRead)
		if isHTMX(r) {
			s.reply(w, r, code, b)
			return
		}
		status, banner = code, b
	}
	s.render(w, r, status, "statistik", "statistik_result", "STATISTIK", data, banner)
}

func (s *Server) handleStatistikPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, ok, err := parseDateRange(r.URL.Query())
	if !ok {
		err = core.NewValidationError("zeitraum: Von und Bis sind Pflichtfelder")
	}
	if err != nil {
		s.fail(w, r, err, applog.OpExport, s.statistikScreen)
		return
	}
	lang := requestLang(r)
	doc, err := s.backend.ExportStatistikPDF(ctx, rng, lang)
	if err != nil {
		s.fail(w, r, err, applog.OpExport, s.statistikScreen)
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Statistik exported",
		"format", "pdf",
		"von", rng.Von.ISO(),
		"bis", rng.Bis.ISO(),
		"lang", lang)
	sendDocument(w, doc, fmt.Sprintf("statistik_%s_%s.pdf", rng.Von.ISO(), rng.Bis.ISO()))
}

// handleStatistikSheets writes the period's months to the configured spreadsheet.
func (s *Server) handleStatistikSheets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.exporter == nil {
		s.reply(w, r, http.StatusNotFound, ErrorBanner("Google-Sheets-Export ist nicht konfiguriert"))
		return
	}
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, core.NewValidationError("Formular konnte nicht gelesen werden"), applog.OpExport, s.statistikScreen)
		return
	}
	rng, ok, err := parseDateRange(r.PostForm)
	if !ok {
		err = core.NewValidationError("zeitraum: Von und Bis sind Pflichtfelder")
	}
	var st core.Statistik
	if err == nil {
		st, err = s.backend.GetStatistik(ctx, rng)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpExport, s.statistikScreen)
		return
	}
	res, err := s.exporter.ExportStatistik(ctx, st)
	if err != nil {
		s.fail(w, r, err, applog.OpExport, s.statistikScreen)
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Statistik exported",
		"format", "sheets",
		"rows", res.Rows,
		"sheets", len(res.Sheets))
	banner := SuccessBanner(fmt.Sprintf("%d Monat(e) nach Google Sheets exportiert", res.Rows))
	if isHTMX(r) {
		s.reply(w, r, http.StatusOK, banner)
		return
	}
	r.URL.RawQuery = url.Values{"von": {rng.Von.ISO()}, "bis": {rng.Bis.ISO()}}.Encode()
	s.statistikScreen(w, r, http.StatusOK, banner)
}
