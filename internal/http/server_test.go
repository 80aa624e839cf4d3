package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"zev/internal/auth"
	"zev/internal/core"
	"zev/internal/export/sheets"
	"zev/internal/metrics"
	"zev/internal/services"
	"zev/internal/storage"
	"zev/internal/zevapi"
	"zev/internal/zevapi/memory"
)

type testServer struct {
	*Server
	ctx     context.Context
	backend *memory.Store
	repo    *storage.SQLiteRepository
}

func newTestServer(t *testing.T, opts ...func(*Deps)) *testServer {
	t.Helper()
	repo, err := storage.NewSQLiteRepository("")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	backend := memory.New()
	manager := auth.NewManager(nil, auth.NewMemoryStore())
	deps := Deps{
		Backend:      backend,
		Uploads:      services.NewUploadService(repo, backend, manager, nil, nil, services.UploadServiceConfig{Concurrency: 2}),
		Translations: services.NewTranslationService(backend, time.Minute, nil),
		Auth:         manager,
		Metrics:      metrics.New(),
		Checks:       map[string]ReadinessCheck{"storage": repo.Ping},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := NewServer(":0", deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	srv.now = func() time.Time { return time.Date(2025, 5, 15, 10, 0, 0, 0, time.UTC) }

	return &testServer{
		Server:  srv,
		ctx:     zevapi.WithTenant(context.Background(), "dev"),
		backend: backend,
		repo:    repo,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string, htmx bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return ts.do(req)
}

func (ts *testServer) post(path string, form url.Values, htmx bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return ts.do(req)
}

func (ts *testServer) einheit(t *testing.T, name string, typ core.EinheitTyp) core.Einheit {
	t.Helper()
	e, err := ts.backend.CreateEinheit(ts.ctx, core.Einheit{Name: name, Typ: typ})
	if err != nil {
		t.Fatalf("create einheit: %v", err)
	}
	return e
}

// notification decodes the show-notification event of an HX-Trigger header.
func notification(t *testing.T, rec *httptest.ResponseRecorder) Banner {
	t.Helper()
	raw := rec.Header().Get("HX-Trigger")
	if raw == "" {
		t.Fatalf("HX-Trigger header missing (status %d)", rec.Code)
	}
	var events map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		t.Fatalf("HX-Trigger is not JSON: %v", err)
	}
	var b Banner
	if err := json.Unmarshal(events[EventNotification], &b); err != nil {
		t.Fatalf("decode %s: %v", EventNotification, err)
	}
	return b
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := NewServer(":0", Deps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/healthz", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var health map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" {
		t.Errorf("health status = %v", health["status"])
	}

	rec = ts.get("/readyz", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestReadinessFailsWithBrokenDependency(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Checks = map[string]ReadinessCheck{
			"backend": func(context.Context) error { return errors.New("connection refused") },
		}
	})

	rec := ts.get("/readyz", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "not_ready" || !strings.Contains(body.Checks["backend"], "connection refused") {
		t.Errorf("unexpected readiness body: %+v", body)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get("/einheiten", false)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "https://unpkg.com") {
		t.Errorf("CSP should allow htmx from unpkg: %q", csp)
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}
}

func TestSuspiciousRequestIsRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get("/einheiten?q=../../etc/passwd", false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)
	ts.einheit(t, "Solaranlage", core.Producer)
	ts.einheit(t, "Wohnung 1", core.Consumer)

	rec := ts.get("/", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<html") {
		t.Error("dashboard should render the full layout")
	}
	if !strings.Contains(body, "Entwicklung") {
		t.Error("dev principal should be shown in the navigation")
	}
}

func TestEinheitenLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post("/einheiten", url.Values{"name": {"Wohnung 1"}, "typ": {"consumer"}}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	if b := notification(t, rec); b.Type != NotificationSuccess || !strings.Contains(b.Message, "Wohnung 1") {
		t.Errorf("unexpected banner: %+v", b)
	}
	if rec.Header().Get("HX-Trigger-After-Swap") != EventFormReset {
		t.Error("successful save should reset the editor")
	}
	if body := rec.Body.String(); !strings.Contains(body, `id="einheiten-table"`) || strings.Contains(body, "<html") {
		t.Error("htmx save should return only the table fragment")
	}

	list, err := ts.backend.ListEinheiten(ts.ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one einheit, got %v (%v)", list, err)
	}
	id := list[0].ID

	rec = ts.get("/einheiten/"+itoa(id)+"/edit", true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `value="Wohnung 1"`) {
		t.Fatalf("edit form: status %d, body %s", rec.Code, rec.Body)
	}

	rec = ts.post("/einheiten/"+itoa(id), url.Values{"name": {"Wohnung 1a"}, "typ": {"CONSUMER"}, "messpunkt": {"CH-1"}}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	if got, _ := ts.backend.GetEinheit(ts.ctx, id); got.Name != "Wohnung 1a" || got.Messpunkt != "CH-1" {
		t.Errorf("update not applied: %+v", got)
	}

	req := httptest.NewRequest(http.MethodDelete, "/einheiten/"+itoa(id), nil)
	req.Header.Set("HX-Request", "true")
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := ts.backend.GetEinheit(ts.ctx, id); !errors.Is(err, zevapi.ErrNotFound) {
		t.Errorf("einheit should be gone, got %v", err)
	}
}

func TestValidationBanner(t *testing.T) {
	ts := newTestServer(t)
	form := url.Values{"name": {""}, "typ": {"SPEICHER"}}

	t.Run("htmx", func(t *testing.T) {
		rec := ts.post("/einheiten", form, true)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		if rec.Header().Get("HX-Reswap") != "none" {
			t.Error("failed htmx request must not swap")
		}
		b := notification(t, rec)
		if b.Type != NotificationError || len(b.Items) != 2 {
			t.Errorf("expected two itemized messages, got %+v", b)
		}
		if !b.Persistent() {
			t.Error("error banners stay until dismissed")
		}
	})

	t.Run("full page", func(t *testing.T) {
		rec := ts.post("/einheiten", form, false)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "<html") || !strings.Contains(body, "Bitte Eingaben prüfen") {
			t.Error("plain form post should get the screen back with the banner")
		}
		if !strings.Contains(body, "name: Pflichtfeld") {
			t.Error("banner should list the failed fields")
		}
	})
}

func TestDeleteEinheitInUseConflicts(t *testing.T) {
	ts := newTestServer(t)
	e := ts.einheit(t, "Wohnung 1", core.Consumer)
	if _, err := ts.backend.CreateMieter(ts.ctx, core.Mieter{
		Name: "Muster", Strasse: "Weg 1", Plz: "3000", Ort: "Bern",
		Mietbeginn: core.NewDate(2024, 1, 1), EinheitID: e.ID,
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/einheiten/"+itoa(e.ID), nil)
	req.Header.Set("HX-Request", "true")
	rec := ts.do(req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if b := notification(t, rec); b.Type != NotificationError {
		t.Errorf("unexpected banner: %+v", b)
	}
}

func TestEditUnknownEinheit(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		path string
		want int
	}{
		{"/einheiten/999/edit", http.StatusNotFound},
		{"/einheiten/abc/edit", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := ts.get(tt.path, true); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestEinheitenSorting(t *testing.T) {
	ts := newTestServer(t)
	ts.einheit(t, "Beta", core.Consumer)
	ts.einheit(t, "Alpha", core.Consumer)

	rec := ts.get("/einheiten", true)
	body := rec.Body.String()
	if strings.Index(body, "Alpha") > strings.Index(body, "Beta") {
		t.Error("default order should be by name ascending")
	}
	if !strings.Contains(body, "sort=name&amp;dir=desc") {
		t.Error("header of the sorted column should flip the direction")
	}

	rec = ts.get("/einheiten?sort=name&dir=desc", true)
	body = rec.Body.String()
	if strings.Index(body, "Beta") > strings.Index(body, "Alpha") {
		t.Error("dir=desc should reverse the order")
	}
	if !strings.Contains(body, "sort=name&amp;dir=asc") {
		t.Error("header should offer ascending again")
	}
}

func TestTarife(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post("/tarife", url.Values{
		"bezeichnung": {"ZEV 2025"},
		"tariftyp":    {"zev"},
		"preis":       {"0,2045"},
		"gueltigVon":  {"2025-01-01"},
		"gueltigBis":  {"2025-12-31"},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	list, _ := ts.backend.ListTarife(ts.ctx)
	if len(list) != 1 || list[0].Preis.String() != "0.2045" {
		t.Fatalf("unexpected tarife: %+v", list)
	}

	rec = ts.post("/tarife", url.Values{"bezeichnung": {"X"}, "tariftyp": {"ZEV"}, "preis": {"abc"},
		"gueltigVon": {"2025-01-01"}, "gueltigBis": {"2025-12-31"}}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid price status = %d", rec.Code)
	}

	rec = ts.post("/tarife/validate", url.Values{"modus": {"quartale"}}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d", rec.Code)
	}
	b := notification(t, rec)
	if b.Type != NotificationError || len(b.Items) == 0 || !strings.HasPrefix(b.Items[0], "VNB") {
		t.Errorf("missing VNB tariffs should be reported: %+v", b)
	}

	rec = ts.post("/tarife/validate", url.Values{"modus": {"monate"}}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid modus status = %d, want 422", rec.Code)
	}
}

func TestEinstellungen(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/einstellungen", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Noch keine Rechnungseinstellungen erfasst") {
		t.Fatalf("empty settings should show a hint, status %d", rec.Code)
	}

	rec = ts.post("/einstellungen", url.Values{
		"zahlungsfrist":  {"30 Tage"},
		"iban":           {"ch93 0076 2011 6238 5295 7"},
		"stellerName":    {"ZEV Muster"},
		"stellerStrasse": {"Sonnenweg 1"},
		"stellerPlz":     {"3000"},
		"stellerOrt":     {"Bern"},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body)
	}
	got, err := ts.backend.GetEinstellungen(ts.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if core.NormalizeIBAN(got.Rechnung.IBAN) != "CH9300762011623852957" {
		t.Errorf("IBAN = %q", got.Rechnung.IBAN)
	}

	rec = ts.post("/einstellungen", url.Values{"stellerPlz": {"30"}}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid settings status = %d, want 422", rec.Code)
	}
}

func uploadRequest(t *testing.T, date, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("date", date); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("files", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/messwerte/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("HX-Request", "true")
	return req
}

func TestUploadAndImportMesswerte(t *testing.T) {
	ts := newTestServer(t)
	wohnung := ts.einheit(t, "Wohnung 1", core.Consumer)

	rec := ts.do(uploadRequest(t, "2025-03-01", "wohnung_1.csv", "00:00;1.5\n00:15;2.0\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	if b := notification(t, rec); !strings.Contains(b.Message, "1 Datei(en) hochgeladen, 1 automatisch zugeordnet") {
		t.Errorf("unexpected banner: %+v", b)
	}

	jobs, err := ts.uploads.Jobs(ts.ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one draft, got %v (%v)", jobs, err)
	}
	id := jobs[0].ID

	rec = ts.post("/messwerte/import", url.Values{
		"job":            {id},
		"einheit_" + id:  {itoa(wohnung.ID)},
		"date_" + id:     {"2025-03-01"},
		"filename_" + id: {"wohnung_1.csv"},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body %s", rec.Code, rec.Body)
	}
	if b := notification(t, rec); b.Type != NotificationSuccess || b.Message != "1 Datei(en) importiert" {
		t.Errorf("unexpected banner: %+v", b)
	}

	values, err := ts.backend.MesswerteByTime(ts.ctx, core.DateRange{Von: core.NewDate(2025, 3, 1), Bis: core.NewDate(2025, 3, 31)})
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 {
		t.Errorf("expected 2 readings, got %d", len(values))
	}

	rec = ts.get("/messwerte/chart?von=2025-03-01&bis=2025-03-31", true)
	if rec.Code != http.StatusOK {
		t.Errorf("chart status = %d", rec.Code)
	}
}

func TestUploadSuggestionNeedsConfirmation(t *testing.T) {
	ts := newTestServer(t)
	ts.einheit(t, "Wohnung 1 Nord", core.Consumer)

	rec := ts.do(uploadRequest(t, "2025-03-01", "wohnung_1.csv", "00:00;1.5\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	if b := notification(t, rec); !strings.Contains(b.Message, "1 Datei(en) hochgeladen, 0 automatisch zugeordnet") {
		t.Errorf("unexpected banner: %+v", b)
	}

	jobs, err := ts.uploads.Jobs(ts.ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one draft, got %v (%v)", jobs, err)
	}
	id := jobs[0].ID
	if m := jobs[0].Match(); !m.Suggest() {
		t.Fatalf("expected a suggestion below the threshold, got %+v", m)
	}

	body := rec.Body.String()
	if strings.Contains(body, `value="`+id+`" checked`) {
		t.Error("suggested upload must not be checked for import")
	}
	if strings.Contains(body, " selected") {
		t.Error("suggested unit must not be preselected")
	}
	if !strings.Contains(body, "Wohnung 1 Nord (53 %)") {
		t.Errorf("suggestion hint missing: %s", body)
	}

	rec = ts.post("/messwerte/import", url.Values{
		"job":            {id},
		"einheit_" + id:  {""},
		"date_" + id:     {"2025-03-01"},
		"filename_" + id: {"wohnung_1.csv"},
	}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("import status = %d, want 422", rec.Code)
	}
	b := notification(t, rec)
	if b.Type != NotificationError || len(b.Items) != 1 || !strings.Contains(b.Items[0], "wohnung_1.csv: einheitId: Einheit auswählen") {
		t.Errorf("unexpected banner: %+v", b)
	}

	values, err := ts.backend.MesswerteByTime(ts.ctx, core.DateRange{Von: core.NewDate(2025, 3, 1), Bis: core.NewDate(2025, 3, 31)})
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 0 {
		t.Errorf("unconfirmed upload was imported: %d readings", len(values))
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(uploadRequest(t, "2025-03-01", "leer.csv", ""))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if b := notification(t, rec); len(b.Items) != 1 || !strings.Contains(b.Items[0], "leer.csv") {
		t.Errorf("banner should name the empty file: %+v", b)
	}
}

func TestImportWithoutSelection(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.post("/messwerte/import", url.Values{}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestStatistik(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/statistik?von=2025-01-01&bis=2025-03-31", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	rec = ts.get("/statistik/pdf?von=2025-01-01&bis=2025-03-31", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "statistik_2025-01-01_2025-03-31.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("body should be a PDF document")
	}

	rec = ts.get("/statistik/pdf", true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing range status = %d, want 422", rec.Code)
	}

	rec = ts.get("/statistik?von=2025-03-31&bis=2025-01-01", true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("inverted range status = %d, want 422", rec.Code)
	}
}

type fakeExporter struct {
	got []core.Statistik
}

func (f *fakeExporter) ExportStatistik(_ context.Context, st core.Statistik) (sheets.Result, error) {
	f.got = append(f.got, st)
	return sheets.Result{Sheets: []string{"Statistik"}, Rows: len(st.Monate)}, nil
}

func TestStatistikSheetsExport(t *testing.T) {
	form := url.Values{"von": {"2025-01-01"}, "bis": {"2025-03-31"}}

	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t)
		if rec := ts.post("/statistik/sheets", form, true); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("configured", func(t *testing.T) {
		exp := &fakeExporter{}
		ts := newTestServer(t, func(d *Deps) { d.Exporter = exp })
		rec := ts.post("/statistik/sheets", form, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if len(exp.got) != 1 {
			t.Fatalf("exporter called %d times", len(exp.got))
		}
		if b := notification(t, rec); b.Message != "3 Monat(e) nach Google Sheets exportiert" {
			t.Errorf("unexpected banner: %+v", b)
		}
	})
}

func TestGenerateRechnungenValidation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.post("/rechnungen/generate", url.Values{"einheiten": {"abc"}}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	b := notification(t, rec)
	if len(b.Items) < 2 {
		t.Errorf("every invalid field should be listed: %+v", b)
	}
}

func TestLanguageSwitch(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/lang/en", nil)
	req.Header.Set("Referer", "http://example.com/tarife?sort=preis")
	rec := ts.do(req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/tarife?sort=preis" {
		t.Errorf("Location = %q", loc)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != langCookie || cookies[0].Value != "en" {
		t.Errorf("unexpected cookies: %v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/lang/en", nil)
	req.Header.Set("Referer", "http://evil.test/phish")
	if loc := ts.do(req).Header().Get("Location"); loc != "/" {
		t.Errorf("foreign referer should fall back to /, got %q", loc)
	}

	if rec := ts.get("/lang/fr", false); rec.Code != http.StatusNotFound {
		t.Errorf("unsupported language status = %d, want 404", rec.Code)
	}
}

func TestRequestLang(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		accept string
		want   string
	}{
		{"default", "", "", "de"},
		{"cookie wins", "en", "de-CH", "en"},
		{"accept language", "", "en-GB,en;q=0.9", "en"},
		{"swiss german", "", "de-CH", "de"},
		{"unsupported", "", "fr-CH", "de"},
		{"bad cookie", "xx", "en", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: langCookie, Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			if got := requestLang(req); got != tt.want {
				t.Errorf("requestLang = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslationsDriveLabels(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post("/translations", url.Values{
		"key": {"einheiten"}, "deutsch": {"Zähler"}, "englisch": {"Meters"},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}

	for lang, want := range map[string]string{"de": "Zähler", "en": "Meters"} {
		req := httptest.NewRequest(http.MethodGet, "/einheiten", nil)
		req.AddCookie(&http.Cookie{Name: langCookie, Value: lang})
		body := ts.do(req).Body.String()
		if !strings.Contains(body, "<h1>"+want+"</h1>") {
			t.Errorf("%s: heading should read %q", lang, want)
		}
	}

	rec = ts.get("/translations?q="+url.QueryEscape("zähl"), true)
	if !strings.Contains(rec.Body.String(), "EINHEITEN") {
		t.Error("filter should find the translation by its German text")
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	ts := newTestServer(t)
	var last *httptest.ResponseRecorder
	for i := 0; i < 61; i++ {
		last = ts.post("/tarife/validate", url.Values{"modus": {"jahre"}}, true)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", last.Code)
	}
	if rec := ts.get("/tarife", true); rec.Code != http.StatusOK {
		t.Errorf("reads are not limited, got %d", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
