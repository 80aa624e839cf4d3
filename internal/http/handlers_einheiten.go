package http

import (
	"net/http"
	"strings"

	"zev/internal/core"
	applog "zev/internal/log"
)

var einheitSortKeys = map[string]core.SortKey[core.Einheit]{
	"id":        func(e core.Einheit) any { return e.ID },
	"name":      func(e core.Einheit) any { return e.Name },
	"typ":       func(e core.Einheit) any { return string(e.Typ) },
	"messpunkt": func(e core.Einheit) any { return e.Messpunkt },
}

type einheitenData struct {
	Einheiten []core.Einheit
	Sort      core.SortState
	Form      core.Einheit
}

func (s *Server) handleEinheiten(w http.ResponseWriter, r *http.Request) {
	s.einheitenScreen(core.Einheit{Typ: core.Consumer})(w, r, http.StatusOK, nil)
}

// einheitenScreen lists all units with form prefilled in the editor.
func (s *Server) einheitenScreen(form core.Einheit) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		data := einheitenData{
			Sort: parseSort(r.URL.Query(), core.SortState{Column: "name", Asc: true}),
			Form: form,
		}
		list, err := s.backend.ListEinheiten(r.Context())
		if err != nil {
			code, b := s.problem(r.Context(), err, applog.OpList)
			if isHTMX(r) {
				s.reply(w, r, code, b)
				return
			}
			status, banner = code, b
		}
		core.Sort(list, einheitSortKeys, data.Sort)
		data.Einheiten = list
		s.render(w, r, status, "einheiten", "einheiten_table", "EINHEITEN", data, banner)
	}
}

// handleEinheitForm shows the editor, empty for /new.
func (s *Server) handleEinheitForm(w http.ResponseWriter, r *http.Request) {
	form := core.Einheit{Typ: core.Consumer}
	if r.PathValue("id") != "" {
		id, err := pathID(r, "id")
		if err == nil {
			form, err = s.backend.GetEinheit(r.Context(), id)
		}
		if err != nil {
			s.fail(w, r, err, applog.OpRead, nil)
			return
		}
	}
	if isHTMX(r) {
		s.render(w, r, http.StatusOK, "einheiten", "einheit_form", "EINHEITEN", einheitenData{Form: form}, nil)
		return
	}
	s.einheitenScreen(form)(w, r, http.StatusOK, nil)
}

func parseEinheit(r *http.Request) (core.Einheit, error) {
	if err := r.ParseForm(); err != nil {
		return core.Einheit{}, core.NewValidationError("Formular konnte nicht gelesen werden")
	}
	p := newFormParser(r.PostForm)
	e := core.Einheit{
		Name:      p.String("name"),
		Typ:       core.EinheitTyp(strings.ToUpper(p.String("typ"))),
		Messpunkt: p.String("messpunkt"),
	}
	if err := p.Err(); err != nil {
		return e, err
	}
	return e, e.Validate()
}

// handleSaveEinheit creates on POST /einheiten and updates on POST /einheiten/{id}.
func (s *Server) handleSaveEinheit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := parseEinheit(r)
	op := applog.OpCreate
	if err == nil && r.PathValue("id") != "" {
		op = applog.OpUpdate
		e.ID, err = pathID(r, "id")
	}
	if err == nil {
		if e.ID == 0 {
			e, err = s.backend.CreateEinheit(ctx, e)
		} else {
			e, err = s.backend.UpdateEinheit(ctx, e)
		}
	}
	if err != nil {
		s.fail(w, r, err, op, s.einheitenScreen(e))
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Einheit saved",
		applog.FieldEinheitID, e.ID,
		applog.FieldOperation, op)
	s.saved(w, r, s.einheitenScreen(core.Einheit{Typ: core.Consumer}), "Einheit „"+e.Name+"“ gespeichert")
}

func (s *Server) handleDeleteEinheit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err == nil {
		err = s.backend.DeleteEinheit(ctx, id)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpDelete, s.einheitenScreen(core.Einheit{Typ: core.Consumer}))
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Einheit deleted", applog.FieldEinheitID, id)
	s.einheitenScreen(core.Einheit{Typ: core.Consumer})(w, r, http.StatusOK, SuccessBanner("Einheit gelöscht"))
}

// saved re-renders screen after a successful save and resets the editor.
func (s *Server) saved(w http.ResponseWriter, r *http.Request, screen screenFunc, message string) {
	if isHTMX(r) {
		w.Header().Set("HX-Trigger-After-Swap", EventFormReset)
	}
	screen(w, r, http.StatusOK, SuccessBanner(message))
}
