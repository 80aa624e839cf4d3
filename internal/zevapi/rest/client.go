// Package rest implements the zevapi ports against the billing backend's REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"zev/internal/core"
	applog "zev/internal/log"
	"zev/internal/zevapi"
)

const (
	maxJSONBody   = 8 << 20
	maxBinaryBody = 64 << 20
	maxErrorBody  = 64 << 10
)

// Recorder receives one observation per backend call.
type Recorder interface {
	RecordBackendCall(resource, outcome string, duration time.Duration)
}

type Client struct {
	http     *resty.Client
	logger   *applog.StructuredLogger
	recorder Recorder
}

// Ensure interface conformance
var _ zevapi.Backend = (*Client)(nil)

type Option func(*Client)

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func WithLogger(l *applog.Logger) Option {
	return func(c *Client) {
		c.logger = applog.NewStructuredLogger(l)
		c.http.SetLogger(restyLogger{l})
	}
}

// New creates a client for the backend at baseURL. timeout bounds every call.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL must be http or https, got %q", baseURL)
	}
	logger := applog.FromContext(context.Background()).WithComponent(applog.ComponentBackend)
	c := &Client{
		http: resty.New().
			SetBaseURL(u.String()).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetResponseBodyLimit(maxJSONBody).
			SetLogger(restyLogger{logger}),
		logger: applog.NewStructuredLogger(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// restyLogger routes resty's own diagnostics into the structured log.
type restyLogger struct{ l *applog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }

// request builds a call carrying the context's bearer token. A token
// source that cannot produce a token stops the call before it is sent.
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx)
	if ts := zevapi.TokenSourceFrom(ctx); ts != nil {
		tok, err := ts.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: obtain access token: %v", zevapi.ErrUnauthorized, err)
		}
		req.SetAuthScheme(tok.Type()).SetAuthToken(tok.AccessToken)
	}
	return req, nil
}

// endpoint describes one backend call. path may hold {name} placeholders
// filled from params.
type endpoint struct {
	method string
	path   string
	params map[string]string
	query  url.Values
	body   any
}

func (c *Client) prepare(ctx context.Context, cl endpoint) (*resty.Request, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if len(cl.params) > 0 {
		req.SetPathParams(cl.params)
	}
	if len(cl.query) > 0 {
		req.SetQueryParamsFromValues(cl.query)
	}
	if cl.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(cl.body)
	}
	return req, nil
}

// do runs cl and decodes a JSON response into out (may be nil).
func (c *Client) do(ctx context.Context, cl endpoint, out any) error {
	req, err := c.prepare(ctx, cl)
	if err != nil {
		return err
	}
	return c.execute(ctx, cl, req, out)
}

func (c *Client) execute(ctx context.Context, cl endpoint, req *resty.Request, out any) (err error) {
	start := time.Now()
	status := 0
	defer func() { c.observe(ctx, cl, status, start, err) }()

	if out != nil {
		req.SetResult(out).ExpectContentType("application/json")
	}
	resp, err := req.Execute(cl.method, cl.path)
	if resp == nil || resp.RawResponse == nil {
		return transportError(ctx, cl, err)
	}
	status = resp.StatusCode()

	if err := checkStatus(status, resp.Body()); err != nil {
		return err
	}
	if err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) && len(bytes.TrimSpace(resp.Body())) == 0 {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

// download runs cl and returns the raw response body as a document.
func (c *Client) download(ctx context.Context, cl endpoint, fallbackName string) (doc zevapi.Document, err error) {
	start := time.Now()
	status := 0
	defer func() { c.observe(ctx, cl, status, start, err) }()

	req, err := c.prepare(ctx, cl)
	if err != nil {
		return zevapi.Document{}, err
	}
	resp, err := req.SetDoNotParseResponse(true).Execute(cl.method, cl.path)
	if resp == nil || resp.RawResponse == nil {
		return zevapi.Document{}, transportError(ctx, cl, err)
	}
	body := resp.RawBody()
	defer body.Close()
	status = resp.StatusCode()

	if !resp.IsSuccess() {
		raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		return zevapi.Document{}, checkStatus(status, raw)
	}
	content, err := io.ReadAll(io.LimitReader(body, maxBinaryBody))
	if err != nil {
		return zevapi.Document{}, fmt.Errorf("read %s %s: %w", cl.method, cl.path, err)
	}
	doc = zevapi.Document{
		Filename:    fallbackName,
		ContentType: resp.Header().Get("Content-Type"),
		Content:     content,
	}
	if doc.ContentType == "" {
		doc.ContentType = "application/pdf"
	}
	if _, params, err := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); err == nil && params["filename"] != "" {
		doc.Filename = params["filename"]
	}
	return doc, nil
}

func transportError(ctx context.Context, cl endpoint, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, ctx.Err())
	}
	return fmt.Errorf("%w: %s %s: %v", zevapi.ErrUnavailable, cl.method, cl.path, err)
}

func (c *Client) observe(ctx context.Context, cl endpoint, status int, start time.Time, err error) {
	d := time.Since(start)
	if c.recorder != nil {
		c.recorder.RecordBackendCall(resourceOf(cl.path), zevapi.Outcome(err), d)
	}
	if c.logger != nil {
		c.logger.LogBackendCall(ctx, cl.method, cl.path, status, d.Milliseconds(), err)
	}
}

// resourceOf maps "/api/einheit/{id}" to "einheit".
func resourceOf(path string) string {
	rest := strings.TrimPrefix(path, "/api/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "unknown"
	}
	return rest
}

// checkStatus maps non-2xx responses onto the zevapi errors.
func checkStatus(status int, raw []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	body := strings.TrimSpace(string(raw))

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		msgs := errorMessages(raw)
		if len(msgs) == 0 {
			msgs = []string{http.StatusText(status)}
		}
		return core.NewValidationError(msgs...)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: backend returned %d", zevapi.ErrUnauthorized, status)
	case http.StatusNotFound:
		return zevapi.ErrNotFound
	case http.StatusConflict:
		if msgs := errorMessages(raw); len(msgs) > 0 {
			return fmt.Errorf("%w: %s", zevapi.ErrConflict, strings.Join(msgs, "; "))
		}
		return zevapi.ErrConflict
	default:
		return &zevapi.APIError{Status: status, Body: body}
	}
}

// errorMessages extracts human readable messages from the shapes the
// backend uses for errors: {"errors":[...]}, {"messages":[...]},
// {"message":"..."}, a bare JSON array of strings or plain text.
func errorMessages(raw []byte) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return nonEmpty(list)
	}

	var obj struct {
		Errors   []string `json:"errors"`
		Messages []string `json:"messages"`
		Message  string   `json:"message"`
		Error    string   `json:"error"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		switch {
		case len(obj.Errors) > 0:
			return nonEmpty(obj.Errors)
		case len(obj.Messages) > 0:
			return nonEmpty(obj.Messages)
		case obj.Message != "":
			return []string{obj.Message}
		case obj.Error != "":
			return []string{obj.Error}
		}
		return nil
	}

	var text string
	if json.Unmarshal(raw, &text) == nil {
		return nonEmpty([]string{text})
	}
	return nonEmpty([]string{string(raw)})
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func idParam(id int64) map[string]string {
	return map[string]string{"id": fmt.Sprint(id)}
}

func rangeQuery(fromKey, toKey string, r core.DateRange) url.Values {
	q := url.Values{}
	q.Set(fromKey, r.Von.ISO())
	q.Set(toKey, r.Bis.ISO())
	return q
}

// StaticToken is a convenience for callers holding a bare access token,
// such as the upload worker replaying a stored session token.
func StaticToken(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}
