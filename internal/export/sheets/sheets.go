// Package sheets writes statistics into a Google Sheets spreadsheet, one
// sheet per year named "<yyyy> Statistik" and one row per month.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"zev/internal/core"
	applog "zev/internal/log"
)

const (
	sheetSuffix      = "Statistik"
	valueInputOption = "USER_ENTERED"
	lastColumn       = "L"
)

var header = []any{
	"Periode", "Von", "Bis", "Produktion kWh", "Verbrauch kWh", "ZEV kWh",
	"Netzbezug kWh", "Einspeisung kWh", "Eigenverbrauch %", "Abweichung", "Daten vollständig", "Hinweise",
}

type Config struct {
	SpreadsheetID      string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// Result tells the user where the rows went.
type Result struct {
	Sheets  []string
	Rows    int
	Created []string
	URL     string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *applog.Logger
}

// New creates a client authenticated with a service account.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		credentialsJSON = []byte(cfg.ServiceAccountJSON)
	case cfg.ServiceAccountFile != "":
		b, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	opts = append([]goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, opts...)
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID), nil
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        applog.FromContext(context.Background()).WithComponent(applog.ComponentExport),
	}
}

// SheetName is the sheet holding the statistics of year.
func SheetName(year int) string {
	return strconv.Itoa(year) + " " + sheetSuffix
}

// ExportStatistik writes every month of st. Months already in the sheet are
// overwritten in place, new months are appended below.
func (c *Client) ExportStatistik(ctx context.Context, st core.Statistik) (Result, error) {
	res := Result{URL: "https://docs.google.com/spreadsheets/d/" + c.spreadsheetID}
	if len(st.Monate) == 0 {
		return res, core.NewValidationError("zeitraum: keine Monate zum Exportieren")
	}

	existing, err := c.sheetTitles(ctx)
	if err != nil {
		return res, err
	}

	byYear := lo.GroupBy(st.Monate, func(m core.MonatsStatistik) int { return m.Jahr })
	years := lo.Keys(byYear)
	sort.Ints(years)

	var data []*gsheet.ValueRange
	for _, year := range years {
		name := SheetName(year)
		if !existing[name] {
			if err := c.addSheet(ctx, name); err != nil {
				return res, err
			}
			res.Created = append(res.Created, name)
		}
		rows, used, err := c.periodRows(ctx, name)
		if err != nil {
			return res, err
		}

		data = append(data, &gsheet.ValueRange{
			Range:  a1(name, 1),
			Values: [][]any{header},
		})
		next := max(used+1, 2)
		for _, m := range byYear[year] {
			row, ok := rows[m.Label()]
			if !ok {
				row = next
				next++
			}
			data = append(data, &gsheet.ValueRange{
				Range:  a1(name, row),
				Values: [][]any{monthRow(m)},
			})
			res.Rows++
		}
		res.Sheets = append(res.Sheets, name)
	}

	req := &gsheet.BatchUpdateValuesRequest{ValueInputOption: valueInputOption, Data: data}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return res, fmt.Errorf("write statistics: %w", err)
	}

	c.logger.InfoContext(ctx, "Statistics exported to Google Sheets",
		"sheets", strings.Join(res.Sheets, ","), "rows", res.Rows)
	return res, nil
}

func (c *Client) sheetTitles(ctx context.Context) (map[string]bool, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	titles := make(map[string]bool, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles[sh.Properties.Title] = true
		}
	}
	return titles, nil
}

func (c *Client) addSheet(ctx context.Context, name string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "Created statistics sheet", "sheet", name)
	return nil
}

// periodRows maps the period labels in column A to their 1-based row
// numbers and reports how many rows are in use.
func (c *Client) periodRows(ctx context.Context, name string) (map[string]int, int, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quote(name)+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", name, err)
	}
	rows := make(map[string]int, len(vr.Values))
	for i, r := range vr.Values {
		if i == 0 || len(r) == 0 {
			continue
		}
		rows[strings.TrimSpace(fmt.Sprint(r[0]))] = i + 1
	}
	return rows, len(vr.Values), nil
}

func monthRow(m core.MonatsStatistik) []any {
	return []any{
		m.Label(),
		m.Von.Swiss(),
		m.Bis.Swiss(),
		m.SummeProducer.InexactFloat64(),
		m.SummeConsumer.InexactFloat64(),
		m.SummeZev.InexactFloat64(),
		m.SummeNetzbezug.InexactFloat64(),
		m.SummeEinspeisung.InexactFloat64(),
		m.Eigenverbrauchsquote().InexactFloat64(),
		yesNo(m.Abweichung),
		yesNo(m.DatenVollstaendig),
		strings.Join(m.Hinweise, "; "),
	}
}

func yesNo(b bool) string {
	if b {
		return "ja"
	}
	return "nein"
}

func a1(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", quote(sheet), row, lastColumn, row)
}

func quote(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}
