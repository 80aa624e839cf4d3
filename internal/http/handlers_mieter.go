package http

import (
	"net/http"

	"github.com/samber/lo"

	"zev/internal/core"
	applog "zev/internal/log"
)

type mieterRow struct {
	core.Mieter
	EinheitName string
}

var mieterSortKeys = map[string]core.SortKey[mieterRow]{
	"name":       func(m mieterRow) any { return m.Name },
	"einheit":    func(m mieterRow) any { return m.EinheitName },
	"strasse":    func(m mieterRow) any { return m.Strasse },
	"plz":        func(m mieterRow) any { return m.Plz },
	"ort":        func(m mieterRow) any { return m.Ort },
	"mietbeginn": func(m mieterRow) any { return m.Mietbeginn },
	"mietende": func(m mieterRow) any {
		if m.Mietende == nil {
			return nil
		}
		return *m.Mietende
	},
}

type mieterData struct {
	Mieter    []mieterRow
	Einheiten []core.Einheit
	Sort      core.SortState
	Form      core.Mieter
}

func (s *Server) handleMieter(w http.ResponseWriter, r *http.Request) {
	s.mieterScreen(core.Mieter{})(w, r, http.StatusOK, nil)
}

// consumers are the units a tenant can be assigned to.
func (s *Server) consumers(r *http.Request) ([]core.Einheit, error) {
	list, err := s.backend.ListEinheiten(r.Context())
	if err != nil {
		return nil, err
	}
	list = lo.Filter(list, func(e core.Einheit, _ int) bool { return e.Typ == core.Consumer })
	core.SortBy(list, einheitSortKeys["name"], true)
	return list, nil
}

func (s *Server) mieterScreen(form core.Mieter) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		ctx := r.Context()
		data := mieterData{
			Sort: parseSort(r.URL.Query(), core.SortState{Column: "name", Asc: true}),
			Form: form,
		}
		list, err := s.backend.ListMieter(ctx)
		var einheiten []core.Einheit
		if err == nil {
			einheiten, err = s.consumers(r)
		}
		if err != nil {
			code, b := s.problem(ctx, err, applog.OpList)
			if isHTMX(r) {
				s.reply(w, r, code, b)
				return
			}
			status, banner = code, b
		}
		names := lo.SliceToMap(einheiten, func(e core.Einheit) (int64, string) { return e.ID, e.Name })
		data.Mieter = lo.Map(list, func(m core.Mieter, _ int) mieterRow {
			return mieterRow{Mieter: m, EinheitName: names[m.EinheitID]}
		})
		data.Einheiten = einheiten
		core.Sort(data.Mieter, mieterSortKeys, data.Sort)
		s.render(w, r, status, "mieter", "mieter_table", "MIETER", data, banner)
	}
}

func (s *Server) handleMieterForm(w http.ResponseWriter, r *http.Request) {
	var form core.Mieter
	if r.PathValue("id") != "" {
		id, err := pathID(r, "id")
		if err == nil {
			form, err = s.backend.GetMieter(r.Context(), id)
		}
		if err != nil {
			s.fail(w, r, err, applog.OpRead, nil)
			return
		}
	}
	if !isHTMX(r) {
		s.mieterScreen(form)(w, r, http.StatusOK, nil)
		return
	}
	einheiten, err := s.consumers(r)
	if err != nil {
		s.fail(w, r, err, applog.OpList, nil)
		return
	}
	s.render(w, r, http.StatusOK, "mieter", "mieter_form", "MIETER", mieterData{Form: form, Einheiten: einheiten}, nil)
}

func parseMieter(r *http.Request) (core.Mieter, error) {
	if err := r.ParseForm(); err != nil {
		return core.Mieter{}, core.NewValidationError("Formular konnte nicht gelesen werden")
	}
	p := newFormParser(r.PostForm)
	m := core.Mieter{
		Name:      p.String("name"),
		Strasse:   p.String("strasse"),
		Plz:       p.String("plz"),
		Ort:       p.String("ort"),
		EinheitID: p.Int64("einheitId"),
		Mietende:  p.OptionalDate("mietende"),
	}
	if v := p.String("mietbeginn"); v != "" {
		m.Mietbeginn = p.Date("mietbeginn")
	}
	if err := p.Err(); err != nil {
		return m, err
	}
	return m, m.Validate()
}

func (s *Server) handleSaveMieter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := parseMieter(r)
	op := applog.OpCreate
	if err == nil && r.PathValue("id") != "" {
		op = applog.OpUpdate
		m.ID, err = pathID(r, "id")
	}
	if err == nil {
		if m.ID == 0 {
			m, err = s.backend.CreateMieter(ctx, m)
		} else {
			m, err = s.backend.UpdateMieter(ctx, m)
		}
	}
	if err != nil {
		s.fail(w, r, err, op, s.mieterScreen(m))
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Mieter saved",
		applog.FieldResource, "mieter",
		"mieter_id", m.ID,
		applog.FieldEinheitID, m.EinheitID,
		applog.FieldOperation, op)
	s.saved(w, r, s.mieterScreen(core.Mieter{}), "Mieter „"+m.Name+"“ gespeichert")
}

func (s *Server) handleDeleteMieter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err == nil {
		err = s.backend.DeleteMieter(ctx, id)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpDelete, s.mieterScreen(core.Mieter{}))
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Mieter deleted", "mieter_id", id)
	s.mieterScreen(core.Mieter{})(w, r, http.StatusOK, SuccessBanner("Mieter gelöscht"))
}
