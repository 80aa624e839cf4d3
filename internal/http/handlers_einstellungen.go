package http

import (
	"errors"
	"net/http"

	"zev/internal/core"
	applog "zev/internal/log"
	"zev/internal/zevapi"
)

func (s *Server) handleEinstellungen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := s.backend.GetEinstellungen(ctx)
	switch {
	case errors.Is(err, zevapi.ErrNotFound):
		s.einstellungenScreen(core.Einstellungen{})(w, r, http.StatusOK,
			InfoBanner("Noch keine Rechnungseinstellungen erfasst"))
	case err != nil:
		status, banner := s.problem(ctx, err, applog.OpRead)
		s.einstellungenScreen(core.Einstellungen{})(w, r, status, banner)
	default:
		s.einstellungenScreen(e)(w, r, http.StatusOK, nil)
	}
}

func (s *Server) einstellungenScreen(form core.Einstellungen) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		s.render(w, r, status, "einstellungen", "einstellungen_form", "EINSTELLUNGEN", form, banner)
	}
}

func parseEinstellungen(r *http.Request) (core.Einstellungen, error) {
	if err := r.ParseForm(); err != nil {
		return core.Einstellungen{}, core.NewValidationError("Formular konnte nicht gelesen werden")
	}
	p := newFormParser(r.PostForm)
	e := core.Einstellungen{
		ID: p.Int64("id"),
		Rechnung: core.RechnungsKonfiguration{
			Zahlungsfrist: p.String("zahlungsfrist"),
			IBAN:          core.NormalizeIBAN(p.String("iban")),
			Steller: core.Rechnungssteller{
				Name:    p.String("stellerName"),
				Strasse: p.String("stellerStrasse"),
				Plz:     p.String("stellerPlz"),
				Ort:     p.String("stellerOrt"),
			},
		},
	}
	if err := p.Err(); err != nil {
		return e, err
	}
	return e, e.Validate()
}

// handleSaveEinstellungen creates the settings on first save and updates them after.
func (s *Server) handleSaveEinstellungen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := parseEinstellungen(r)
	if err == nil {
		e, err = s.backend.SaveEinstellungen(ctx, e)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpUpdate, s.einstellungenScreen(e))
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Einstellungen saved",
		applog.FieldResource, "einstellungen",
		applog.FieldOperation, applog.OpUpdate)
	s.einstellungenScreen(e)(w, r, http.StatusOK, SuccessBanner("Einstellungen gespeichert"))
}
