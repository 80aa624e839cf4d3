package rest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"zev/internal/core"
	"zev/internal/zevapi"
)

const (
	pathStatistik  = "/api/statistik"
	pathMesswerte  = "/api/messwerte"
	pathRechnungen = "/api/rechnungen"
)

func (c *Client) GetStatistik(ctx context.Context, r core.DateRange) (core.Statistik, error) {
	var out core.Statistik
	err := c.do(ctx, endpoint{method: http.MethodGet, path: pathStatistik, query: rangeQuery("von", "bis", r)}, &out)
	return out, err
}

func (c *Client) ExportStatistikPDF(ctx context.Context, r core.DateRange, sprache string) (zevapi.Document, error) {
	q := rangeQuery("von", "bis", r)
	if sprache != "" {
		q.Set("sprache", sprache)
	}
	name := fmt.Sprintf("statistik_%s_%s.pdf", r.Von.ISO(), r.Bis.ISO())
	return c.download(ctx, endpoint{method: http.MethodGet, path: pathStatistik + "/export/pdf", query: q}, name)
}

// UploadMesswerte sends the file as multipart/form-data with the fields
// date, einheitId and file.
func (c *Client) UploadMesswerte(ctx context.Context, u zevapi.Upload) (core.UploadResult, error) {
	e := endpoint{method: http.MethodPost, path: pathMesswerte + "/upload"}
	req, err := c.prepare(ctx, e)
	if err != nil {
		return core.UploadResult{}, err
	}
	req.SetMultipartFormData(map[string]string{
		"date":      u.Date.ISO(),
		"einheitId": strconv.FormatInt(u.EinheitID, 10),
	}).SetFileReader("file", u.Filename, bytes.NewReader(u.Content))

	var out core.UploadResult
	err = c.execute(ctx, e, req, &out)
	return out, err
}

func (c *Client) MesswerteByTime(ctx context.Context, r core.DateRange) ([]core.Messwert, error) {
	var out []core.Messwert
	err := c.do(ctx, endpoint{method: http.MethodGet, path: pathMesswerte + "/by-time", query: rangeQuery("dateFrom", "dateTo", r)}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CalculateDistribution(ctx context.Context, r core.DateRange) (core.DistributionResult, error) {
	var out core.DistributionResult
	err := c.do(ctx, endpoint{method: http.MethodPost, path: pathMesswerte + "/calculate-distribution", query: rangeQuery("dateFrom", "dateTo", r)}, &out)
	return out, err
}

func (c *Client) GenerateRechnungen(ctx context.Context, req core.RechnungRequest) ([]core.Rechnung, error) {
	var out []core.Rechnung
	if err := c.do(ctx, endpoint{method: http.MethodPost, path: pathRechnungen + "/generate", body: req}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DownloadRechnung(ctx context.Context, key string) (zevapi.Document, error) {
	return c.download(ctx, endpoint{
		method: http.MethodGet,
		path:   pathRechnungen + "/download/{key}",
		params: map[string]string{"key": key},
	}, key+".pdf")
}
