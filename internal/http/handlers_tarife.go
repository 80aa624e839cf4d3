package http

import (
	"net/http"
	"strings"

	"zev/internal/core"
	applog "zev/internal/log"
)

var tarifSortKeys = map[string]core.SortKey[core.Tarif]{
	"bezeichnung": func(t core.Tarif) any { return t.Bezeichnung },
	"tariftyp":    func(t core.Tarif) any { return string(t.Tariftyp) },
	"preis":       func(t core.Tarif) any { return t.Preis },
	"gueltigVon":  func(t core.Tarif) any { return t.GueltigVon },
	"gueltigBis":  func(t core.Tarif) any { return t.GueltigBis },
}

type tarifeData struct {
	Tarife []core.Tarif
	Sort   core.SortState
	Form   core.Tarif
	Modus  core.ValidierungsModus
}

func (s *Server) handleTarife(w http.ResponseWriter, r *http.Request) {
	s.tarifeScreen(core.Tarif{Tariftyp: core.TarifZEV})(w, r, http.StatusOK, nil)
}

func (s *Server) tarifeScreen(form core.Tarif) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		data := tarifeData{
			Sort:  parseSort(r.URL.Query(), core.SortState{Column: "gueltigVon", Asc: false}),
			Form:  form,
			Modus: core.ModusQuartale,
		}
		list, err := s.backend.ListTarife(r.Context())
		if err != nil {
			code, b := s.problem(r.Context(), err, applog.OpList)
			if isHTMX(r) {
				s.reply(w, r, code, b)
				return
			}
			status, banner = code, b
		}
		core.Sort(list, tarifSortKeys, data.Sort)
		data.Tarife = list
		s.render(w, r, status, "tarife", "tarife_table", "TARIFE", data, banner)
	}
}

func (s *Server) handleTarifForm(w http.ResponseWriter, r *http.Request) {
	form := core.Tarif{Tariftyp: core.TarifZEV}
	if r.PathValue("id") != "" {
		id, err := pathID(r, "id")
		if err == nil {
			form, err = s.backend.GetTarif(r.Context(), id)
		}
		if err != nil {
			s.fail(w, r, err, applog.OpRead, nil)
			return
		}
	}
	if isHTMX(r) {
		s.render(w, r, http.StatusOK, "tarife", "tarif_form", "TARIFE", tarifeData{Form: form}, nil)
		return
	}
	s.tarifeScreen(form)(w, r, http.StatusOK, nil)
}

func parseTarif(r *http.Request) (core.Tarif, error) {
	if err := r.ParseForm(); err != nil {
		return core.Tarif{}, core.NewValidationError("Formular konnte nicht gelesen werden")
	}
	p := newFormParser(r.PostForm)
	t := core.Tarif{
		Bezeichnung: p.String("bezeichnung"),
		Tariftyp:    core.TarifTyp(strings.ToUpper(p.String("tariftyp"))),
		GueltigVon:  p.Date("gueltigVon"),
		GueltigBis:  p.Date("gueltigBis"),
	}
	price, err := core.ParsePrice(p.String("preis"))
	if err != nil {
		p.msgs = append(p.msgs, "preis: ungültiger Preis (z.B. 0.2045)")
	}
	t.Preis = price
	if err := p.Err(); err != nil {
		return t, err
	}
	return t, t.Validate()
}

func (s *Server) handleSaveTarif(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := parseTarif(r)
	op := applog.OpCreate
	if err == nil && r.PathValue("id") != "" {
		op = applog.OpUpdate
		t.ID, err = pathID(r, "id")
	}
	if err == nil {
		if t.ID == 0 {
			t, err = s.backend.CreateTarif(ctx, t)
		} else {
			t, err = s.backend.UpdateTarif(ctx, t)
		}
	}
	if err != nil {
		s.fail(w, r, err, op, s.tarifeScreen(t))
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Tarif saved",
		applog.FieldResource, "tarif",
		"tarif_id", t.ID,
		applog.FieldOperation, op)
	s.saved(w, r, s.tarifeScreen(core.Tarif{Tariftyp: core.TarifZEV}), "Tarif „"+t.Bezeichnung+"“ gespeichert")
}

func (s *Server) handleDeleteTarif(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err == nil {
		err = s.backend.DeleteTarif(ctx, id)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpDelete, s.tarifeScreen(core.Tarif{Tariftyp: core.TarifZEV}))
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Tarif deleted", "tarif_id", id)
	s.tarifeScreen(core.Tarif{Tariftyp: core.TarifZEV})(w, r, http.StatusOK, SuccessBanner("Tarif gelöscht"))
}

// handleValidateTarife checks tariff coverage per quarter or year. Gaps and
// overlaps come back as the items of an error banner.
func (s *Server) handleValidateTarife(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screen := s.tarifeScreen(core.Tarif{Tariftyp: core.TarifZEV})
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, core.NewValidationError("Formular konnte nicht gelesen werden"), applog.OpValidate, screen)
		return
	}
	modus := core.ValidierungsModus(strings.ToLower(sanitizeInput(r.PostForm.Get("modus"))))
	if modus == "" {
		modus = core.ModusQuartale
	}
	if !modus.IsValid() {
		s.fail(w, r, core.NewValidationError("modus: muss quartale oder jahre sein"), applog.OpValidate, screen)
		return
	}

	res, err := s.backend.ValidateTarife(ctx, modus)
	if err != nil {
		s.fail(w, r, err, applog.OpValidate, screen)
		return
	}

	banner := SuccessBanner("Alle Tarife sind lückenlos definiert")
	if !res.Valid {
		banner = ErrorBanner("Tarifvalidierung fehlgeschlagen", res.Messages...)
	}
	applog.FromContext(ctx).InfoContext(ctx, "Tarife validated",
		"modus", string(modus),
		"valid", res.Valid,
		"problems", len(res.Messages))
	if isHTMX(r) {
		s.reply(w, r, http.StatusOK, banner)
		return
	}
	screen(w, r, http.StatusOK, banner)
}
