package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/shopspring/decimal"

	"zev/internal/auth"
	"zev/internal/core"
	applog "zev/internal/log"
	"zev/internal/services"
	"zev/internal/zevapi"
)

var templateFuncs = template.FuncMap{
	"swiss":      func(d core.Date) string { return d.Swiss() },
	"swissPtr":   swissPtr,
	"iso":        func(d core.Date) string { return d.ISO() },
	"isoPtr":     isoPtr,
	"chf":        core.FormatCHF,
	"kwh":        core.FormatKWh,
	"price":      core.FormatPrice,
	"iban":       core.FormatIBAN,
	"percent":    func(d decimal.Decimal) string { return d.StringFixed(1) + " %" },
	"sortQuery":  sortQuery,
	"sortHeader": sortHeader,
	"contains":   containsID,
	"upper":      strings.ToUpper,
	"list":       func(items ...string) []string { return items },
}

// sortHeader renders a clickable column header that reloads the
// surrounding .table-wrap sorted by column.
func sortHeader(path string, state core.SortState, column, label string) template.HTML {
	href := template.HTMLEscapeString(path + "?" + sortQuery(state, column))
	return template.HTML(`<th class="sortable" data-column="` + template.HTMLEscapeString(column) + `">` +
		`<a href="` + href + `" hx-get="` + href + `" hx-target="closest .table-wrap" hx-swap="outerHTML" hx-push-url="true">` +
		template.HTMLEscapeString(label) + `<span class="sort-indicator">` + state.Indicator(column) + `</span></a></th>`)
}

func swissPtr(d *core.Date) string {
	if d == nil {
		return ""
	}
	return d.Swiss()
}

func isoPtr(d *core.Date) string {
	if d == nil {
		return ""
	}
	return d.ISO()
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// parseTemplates builds one template set per page: the layout and shared
// partials plus the page file, so every page can define its own "content".
func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	base, err := template.New("").Funcs(templateFuncs).ParseFS(fsys, "templates/layout.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout templates: %w", err)
	}
	files, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("list page templates: %w", err)
	}
	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		set, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", file, err)
		}
		if _, err := set.ParseFS(fsys, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[strings.TrimSuffix(path.Base(file), ".html")] = set
	}
	return pages, nil
}

// view is the data every template receives; screen data sits in Data.
type view struct {
	Page          string
	Title         string
	Lang          string
	User          auth.Principal
	AuthEnabled   bool
	SheetsEnabled bool
	Banner        *Banner
	Quarters      []core.Quarter
	Data          any

	tr services.Translator
}

// T looks up a UI label in the tenant's translations.
func (v view) T(key string) string {
	return v.tr.T(key)
}

func (s *Server) newView(r *http.Request, page, title string, data any, banner *Banner) view {
	lang := requestLang(r)
	user, _ := auth.PrincipalFrom(r.Context())
	return view{
		Page:          page,
		Title:         title,
		Lang:          lang,
		User:          user,
		AuthEnabled:   s.auth.Enabled(),
		SheetsEnabled: s.exporter != nil,
		Banner:        banner,
		Quarters:      core.LastQuarters(s.now(), core.DefaultQuarterCount),
		Data:          data,
		tr:            s.translations.Translator(r.Context(), lang),
	}
}

// render writes the screen: the named fragment for htmx requests (the
// banner travels in HX-Trigger), the whole page otherwise.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page, fragment, title string, data any, banner *Banner) {
	s.build(r, status, page, fragment, title, data, banner).Write(w)
}

// build renders into a response builder so callers can add triggers.
func (s *Server) build(r *http.Request, status int, page, fragment, title string, data any, banner *Banner) *HTMXResponseBuilder {
	set, ok := s.pages[page]
	if !ok {
		s.logger.ErrorContext(r.Context(), "Unknown page template", "template", page)
		return InternalServerError("Seite nicht gefunden")
	}
	v := s.newView(r, page, title, data, banner)

	name := "layout"
	partial := isHTMX(r) && fragment != ""
	if partial {
		name = fragment
	}
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, name, v); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			applog.FieldError, err,
			"template", page+"/"+name,
			applog.FieldComponent, applog.ComponentTemplate)
		return InternalServerError("Fehler beim Darstellen der Seite")
	}

	resp := NewHTMXResponse().Status(status).BodyHTML(buf.Bytes())
	if partial {
		resp.TriggerBanner(banner)
	}
	return resp
}

// reply answers without re-rendering: htmx gets the banner and no swap,
// other clients a plain status page.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
	if isHTMX(r) {
		NewHTMXResponse().Status(status).NoSwap().TriggerBanner(banner).Write(w)
		return
	}
	msg := banner.Message
	if len(banner.Items) > 0 {
		msg += ": " + strings.Join(banner.Items, "; ")
	}
	ErrorResponse(status, msg).Write(w)
}

// problem logs err and maps it to a status code and an error banner.
func (s *Server) problem(ctx context.Context, err error, op string) (int, *Banner) {
	var (
		ve     *core.ValidationError
		apiErr *zevapi.APIError
	)
	logger := applog.FromContext(ctx)
	fields := []any{applog.FieldError, err, applog.FieldOperation, op}

	switch {
	case errors.As(err, &ve):
		logger.DebugContext(ctx, "Validation failed", fields...)
		return http.StatusUnprocessableEntity, ErrorBanner("Bitte Eingaben prüfen", ve.Messages...)
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, ErrorBanner("Bitte Eingaben prüfen", err.Error())
	case errors.Is(err, zevapi.ErrNotFound):
		logger.InfoContext(ctx, "Resource not found", fields...)
		return http.StatusNotFound, ErrorBanner("Eintrag nicht gefunden")
	case errors.Is(err, zevapi.ErrConflict):
		logger.WarnContext(ctx, "Backend reported a conflict", fields...)
		return http.StatusConflict, ErrorBanner("Der Eintrag wird noch verwendet oder wurde inzwischen geändert")
	case errors.Is(err, zevapi.ErrUnauthorized):
		logger.WarnContext(ctx, "Backend denied access", fields...)
		return http.StatusForbidden, ErrorBanner("Keine Berechtigung für diese Aktion")
	case errors.Is(err, services.ErrJobNotReady):
		return http.StatusConflict, ErrorBanner("Der Upload kann in seinem aktuellen Zustand nicht geändert werden")
	case errors.Is(err, zevapi.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		logger.ErrorContext(ctx, "Backend unavailable", fields...)
		return http.StatusServiceUnavailable, ErrorBanner("Backend nicht erreichbar, bitte später erneut versuchen")
	case errors.As(err, &apiErr):
		logger.ErrorContext(ctx, "Backend request failed", fields...)
		return http.StatusBadGateway, ErrorBanner(fmt.Sprintf("Backend-Fehler (%d)", apiErr.Status))
	default:
		logger.ErrorContext(ctx, "Request failed", fields...)
		return http.StatusInternalServerError, ErrorBanner("Interner Fehler")
	}
}

// fail reports err for an action on a screen: htmx keeps the page and shows
// the banner, a plain form post gets the screen back with the banner.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op string, screen screenFunc) {
	status, banner := s.problem(r.Context(), err, op)
	if isHTMX(r) || screen == nil {
		s.reply(w, r, status, banner)
		return
	}
	screen(w, r, status, banner)
}

// screenFunc renders a whole screen with an optional banner.
type screenFunc func(w http.ResponseWriter, r *http.Request, status int, banner *Banner)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendDocument streams a backend PDF to the browser.
func sendDocument(w http.ResponseWriter, doc zevapi.Document, fallbackName string) {
	name := doc.Filename
	if name == "" {
		name = fallbackName
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/pdf"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}
