package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"zev/internal/core"
)

const spreadsheetID = "sheet-1"

var rangePattern = regexp.MustCompile(`^'(.+)'!A(\d+)`)

// fakeSheets serves the handful of Sheets API calls the exporter makes.
type fakeSheets struct {
	t      *testing.T
	mu     sync.Mutex
	sheets map[string]map[int][]any
	added  []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/"+spreadsheetID)
	var resp any = map[string]any{}

	switch {
	case r.Method == http.MethodGet && p == "":
		var list []map[string]any
		for title := range f.sheets {
			list = append(list, map[string]any{"properties": map[string]any{"title": title}})
		}
		resp = map[string]any{"sheets": list}

	case r.Method == http.MethodPost && p == ":batchUpdate":
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode batchUpdate: %v", err)
		}
		for _, rq := range req.Requests {
			title := rq.AddSheet.Properties.Title
			f.sheets[title] = map[int][]any{}
			f.added = append(f.added, title)
		}

	case r.Method == http.MethodGet && strings.HasPrefix(p, "/values/"):
		title := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(p, "/values/"), "'"), "'!A:A")
		rows := f.sheets[title]
		last := 0
		for n := range rows {
			last = max(last, n)
		}
		values := make([][]any, last)
		for i := range values {
			if row, ok := rows[i+1]; ok && len(row) > 0 {
				values[i] = []any{row[0]}
			} else {
				values[i] = []any{}
			}
		}
		resp = map[string]any{"values": values}

	case r.Method == http.MethodPost && p == "/values:batchUpdate":
		var req gsheet.BatchUpdateValuesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode values batchUpdate: %v", err)
		}
		if req.ValueInputOption != "USER_ENTERED" {
			f.t.Errorf("unexpected value input option %q", req.ValueInputOption)
		}
		for _, vr := range req.Data {
			m := rangePattern.FindStringSubmatch(vr.Range)
			if m == nil {
				f.t.Errorf("unexpected range %q", vr.Range)
				continue
			}
			row, _ := strconv.Atoi(m[2])
			f.sheets[m[1]][row] = vr.Values[0]
		}

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return NewWithService(svc, spreadsheetID)
}

func month(year, m int, producer string) core.MonatsStatistik {
	von := core.NewDate(year, m, 1)
	return core.MonatsStatistik{
		Jahr: year, Monat: m,
		Von: von, Bis: core.Date{Time: von.AddDate(0, 1, -1)},
		SummeProducer:     decimal.RequireFromString(producer),
		SummeConsumer:     decimal.RequireFromString("80"),
		SummeZev:          decimal.RequireFromString("50"),
		DatenVollstaendig: true,
	}
}

func TestExportStatistikUpsertsRowsPerYear(t *testing.T) {
	fake := &fakeSheets{t: t, sheets: map[string]map[int][]any{
		"2025 Statistik": {
			1: header,
			2: {"01/2025"},
			3: {"02/2025"},
		},
	}}
	c := newTestClient(t, fake)

	res, err := c.ExportStatistik(context.Background(), core.Statistik{Monate: []core.MonatsStatistik{
		month(2024, 12, "100"),
		month(2025, 2, "200"),
		month(2025, 3, "100"),
	}})
	if err != nil {
		t.Fatal(err)
	}

	if res.Rows != 3 || strings.Join(res.Sheets, ",") != "2024 Statistik,2025 Statistik" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Created) != 1 || res.Created[0] != "2024 Statistik" || len(fake.added) != 1 {
		t.Fatalf("expected only the 2024 sheet to be created: %+v", res.Created)
	}
	if !strings.HasSuffix(res.URL, "/d/"+spreadsheetID) {
		t.Errorf("unexpected URL %s", res.URL)
	}

	y2024 := fake.sheets["2024 Statistik"]
	if y2024[1][0] != "Periode" || y2024[2][0] != "12/2024" {
		t.Fatalf("2024 sheet: %v", y2024)
	}
	y2025 := fake.sheets["2025 Statistik"]
	if y2025[2][0] != "01/2025" || len(y2025[2]) != 1 {
		t.Errorf("untouched month changed: %v", y2025[2])
	}
	if y2025[3][0] != "02/2025" || y2025[3][3] != float64(200) {
		t.Errorf("existing month not overwritten in place: %v", y2025[3])
	}
	if y2025[4][0] != "03/2025" || y2025[4][1] != "01.03.2025" || y2025[4][2] != "31.03.2025" {
		t.Errorf("new month not appended: %v", y2025[4])
	}
	if y2025[4][8] != float64(50) || y2025[4][10] != "ja" {
		t.Errorf("unexpected derived columns: %v", y2025[4])
	}
}

func TestExportStatistikRejectsEmpty(t *testing.T) {
	c := newTestClient(t, &fakeSheets{t: t, sheets: map[string]map[int][]any{}})
	if _, err := c.ExportStatistik(context.Background(), core.Statistik{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewRequiresConfiguration(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}); err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(ctx, Config{SpreadsheetID: "x"}); err == nil || !strings.Contains(err.Error(), "service account") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(ctx, Config{SpreadsheetID: "x", ServiceAccountFile: "/does/not/exist.json"}); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestA1Notation(t *testing.T) {
	if got := a1("2025 Statistik", 7); got != "'2025 Statistik'!A7:L7" {
		t.Errorf("a1 = %s", got)
	}
	if got := quote("Max's"); got != "'Max''s'" {
		t.Errorf("quote = %s", got)
	}
}
