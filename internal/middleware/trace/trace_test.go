package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	applog "zev/internal/log"
)

type fakeRecorder struct {
	route    string
	status   int
	inFlight int
}

func (f *fakeRecorder) RecordHTTPRequest(method, route string, statusCode int, _ time.Duration) {
	f.route = route
	f.status = statusCode
}
func (f *fakeRecorder) IncInFlight() { f.inFlight++ }
func (f *fakeRecorder) DecInFlight() { f.inFlight-- }

func TestMiddlewareAssignsRequestIDAndRecords(t *testing.T) {
	var buf bytes.Buffer
	rec := &fakeRecorder{}
	mw := NewMiddleware(Options{
		ExtractIP:  func(*http.Request) string { return "10.0.0.9" },
		RouteLabel: func(*http.Request) string { return "GET /mieter" },
		Recorder:   rec,
		Logger:     applog.New(applog.Config{Level: slog.LevelInfo, Output: &buf}),
	})

	var seen string
	h := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusInternalServerError) // ignored, header already sent
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mieter", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q", seen)
	}
	if w.Header().Get(RequestIDHeader) != seen {
		t.Fatal("request id header not echoed")
	}
	if rec.status != http.StatusNotFound || rec.route != "GET /mieter" || rec.inFlight != 0 {
		t.Fatalf("recorder = %+v", rec)
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status_code=404") {
		t.Fatalf("completion log missing: %q", buf.String())
	}
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	mw := NewMiddleware(Options{})
	var seen string
	h := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromRequest(r)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if seen != "abc-123" {
		t.Fatalf("incoming id not kept: %q", seen)
	}

	r.Header.Set(RequestIDHeader, "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("invalid incoming id should be replaced, got %q", seen)
	}
}
