package http

import (
	"net/http"
	"strings"

	"zev/internal/core"
	applog "zev/internal/log"
)

var translationSortKeys = map[string]core.SortKey[core.Translation]{
	"key":      func(t core.Translation) any { return t.Key },
	"deutsch":  func(t core.Translation) any { return t.Deutsch },
	"englisch": func(t core.Translation) any { return t.Englisch },
}

type translationsData struct {
	Translations []core.Translation
	Sort         core.SortState
	Filter       string
	Form         core.Translation
	Edit         bool
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	var form core.Translation
	edit := false
	if key := sanitizeInput(r.URL.Query().Get("edit")); key != "" {
		list, err := s.translations.List(r.Context())
		if err != nil {
			s.fail(w, r, err, applog.OpRead, nil)
			return
		}
		for _, t := range list {
			if t.Key == key {
				form, edit = t, true
				break
			}
		}
	}
	s.translationsScreen(form, edit)(w, r, http.StatusOK, nil)
}

// translationsScreen lists UI labels, optionally filtered by ?q= on key and texts.
func (s *Server) translationsScreen(form core.Translation, edit bool) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		data := translationsData{
			Sort:   parseSort(r.URL.Query(), core.SortState{Column: "key", Asc: true}),
			Filter: sanitizeInput(r.URL.Query().Get("q")),
			Form:   form,
			Edit:   edit,
		}
		list, err := s.translations.List(r.Context())
		if err != nil {
			code, b := s.problem(r.Context(), err, applog.OpList)
			if isHTMX(r) {
				s.reply(w, r, code, b)
				return
			}
			status, banner = code, b
		}
		data.Translations = filterTranslations(list, data.Filter)
		core.Sort(data.Translations, translationSortKeys, data.Sort)
		s.render(w, r, status, "translations", "translations_table", "TRANSLATIONS", data, banner)
	}
}

func filterTranslations(list []core.Translation, q string) []core.Translation {
	q = strings.ToLower(q)
	if q == "" {
		return list
	}
	out := make([]core.Translation, 0, len(list))
	for _, t := range list {
		if strings.Contains(strings.ToLower(t.Key), q) ||
			strings.Contains(strings.ToLower(t.Deutsch), q) ||
			strings.Contains(strings.ToLower(t.Englisch), q) {
			out = append(out, t)
		}
	}
	return out
}

func parseTranslation(r *http.Request) (core.Translation, error) {
	if err := r.ParseForm(); err != nil {
		return core.Translation{}, core.NewValidationError("Formular konnte nicht gelesen werden")
	}
	p := newFormParser(r.PostForm)
	t := core.Translation{
		Key:      strings.ToUpper(p.String("key")),
		Deutsch:  p.String("deutsch"),
		Englisch: p.String("englisch"),
	}
	if key := r.PathValue("key"); key != "" {
		t.Key = strings.ToUpper(sanitizeInput(key))
	}
	return t, t.Validate()
}

// handleSaveTranslation creates on POST /translations and updates on POST /translations/{key}.
func (s *Server) handleSaveTranslation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	edit := r.PathValue("key") != ""
	t, err := parseTranslation(r)
	op := applog.OpCreate
	if edit {
		op = applog.OpUpdate
	}
	if err == nil {
		if edit {
			t, err = s.translations.Update(ctx, t)
		} else {
			t, err = s.translations.Create(ctx, t)
		}
	}
	if err != nil {
		s.fail(w, r, err, op, s.translationsScreen(t, edit))
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Translation saved",
		applog.FieldResource, "translation",
		"key", t.Key,
		applog.FieldOperation, op)
	s.saved(w, r, s.translationsScreen(core.Translation{}, false), "Übersetzung "+t.Key+" gespeichert")
}

func (s *Server) handleDeleteTranslation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.ToUpper(sanitizeInput(r.PathValue("key")))
	screen := s.translationsScreen(core.Translation{}, false)
	if err := s.translations.Delete(ctx, key); err != nil {
		s.fail(w, r, err, applog.OpDelete, screen)
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Translation deleted", "key", key)
	screen(w, r, http.StatusOK, SuccessBanner("Übersetzung "+key+" gelöscht"))
}
