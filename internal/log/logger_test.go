package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentAuth, Output: &buf})
	logger.Info("Session created", FieldTenant, "zev-a")

	out := buf.String()
	if !strings.Contains(out, "component=auth") || !strings.Contains(out, "tenant=zev-a") {
		t.Fatalf("unexpected log line %q", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentUpload).Warn("retry")
	if !strings.Contains(buf.String(), "component=upload") {
		t.Fatalf("component not switched: %q", buf.String())
	}
}

func TestMiddlewareAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "inside")
	})
	handler = RequestIDMiddleware(func(*http.Request) string { return "req_abc" })(handler)
	handler = Middleware(logger)(handler)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(buf.String(), "request_id=req_abc") {
		t.Fatalf("request id missing: %q", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger")
	}
}

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelDebug, Output: &buf}))
	r := httptest.NewRequest(http.MethodGet, "/mieter?sort=name", nil)

	sl.LogHTTPEnd(context.Background(), r, 503, 12, "10.0.0.1")
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("5xx should log at error: %q", buf.String())
	}

	buf.Reset()
	sl.LogBackendCall(context.Background(), http.MethodGet, "/api/einheit", 0, 5, errors.New("connection refused"))
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "component=backend") {
		t.Fatalf("transport error should log at error: %q", buf.String())
	}

	if StatusLevel(404) != slog.LevelWarn || StatusLevel(200) != slog.LevelInfo {
		t.Fatal("unexpected status levels")
	}
}
