package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"zev/internal/core"
	"zev/internal/export/sheets"
	applog "zev/internal/log"
	"zev/internal/metrics"
	"zev/internal/middleware/ratelimit"
	"zev/internal/middleware/security"
	"zev/internal/middleware/trace"
	"zev/internal/services"
	"zev/internal/zevapi"
	appweb "zev/web"
)

const (
	defaultUploadMaxBytes = 10 << 20
	readyTimeout          = 5 * time.Second
)

// Uploads is the meter file pipeline behind the Messwerte screen.
type Uploads interface {
	Match(ctx context.Context, sessionID string, date core.Date, files []services.UploadFile) ([]core.UploadJob, error)
	Assign(ctx context.Context, jobID string, einheitID int64, date core.Date) error
	Import(ctx context.Context, jobIDs []string) (services.ImportSummary, error)
	Jobs(ctx context.Context) ([]core.UploadJob, error)
	Discard(ctx context.Context, jobID string) error
	Async() bool
}

// Translations serves UI labels and the translation screen.
type Translations interface {
	Translator(ctx context.Context, lang string) services.Translator
	List(ctx context.Context) ([]core.Translation, error)
	Create(ctx context.Context, t core.Translation) (core.Translation, error)
	Update(ctx context.Context, t core.Translation) (core.Translation, error)
	Delete(ctx context.Context, key string) error
}

// Authenticator guards the UI and serves the login flow.
type Authenticator interface {
	Enabled() bool
	Require(next http.Handler) http.Handler
	Login(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
}

// StatistikExporter writes statistics to an external spreadsheet.
type StatistikExporter interface {
	ExportStatistik(ctx context.Context, st core.Statistik) (sheets.Result, error)
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators of the server. Exporter and Metrics are optional.
type Deps struct {
	Backend        zevapi.Backend
	Uploads        Uploads
	Translations   Translations
	Auth           Authenticator
	Exporter       StatistikExporter
	Metrics        *metrics.Metrics
	Checks         map[string]ReadinessCheck
	Logger         *applog.Logger
	UploadMaxBytes int64
	SecureCookies  bool
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed, in
	// addition to loopback and private networks.
	TrustedProxies []string
}

type Server struct {
	http.Server
	backend       zevapi.Backend
	uploads       Uploads
	translations  Translations
	auth          Authenticator
	exporter      StatistikExporter
	metrics       *metrics.Metrics
	checks        map[string]ReadinessCheck
	logger        *applog.Logger
	pages         map[string]*template.Template
	limiter       *ratelimit.Limiter
	detector      *security.Detector
	mux           *http.ServeMux
	maxUpload     int64
	secureCookies bool
	started       time.Time
	now           func() time.Time

	shutdownOnce sync.Once
}

// NewServer parses the embedded templates and wires routes and middleware.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Backend == nil || deps.Uploads == nil || deps.Translations == nil || deps.Auth == nil {
		return nil, errors.New("http server: backend, uploads, translations and auth are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	pages, err := parseTemplates(appweb.TemplatesFS)
	if err != nil {
		return nil, err
	}

	s := &Server{
		backend:       deps.Backend,
		uploads:       deps.Uploads,
		translations:  deps.Translations,
		auth:          deps.Auth,
		exporter:      deps.Exporter,
		metrics:       deps.Metrics,
		checks:        deps.Checks,
		logger:        logger.WithComponent(applog.ComponentHTTP),
		pages:         pages,
		limiter:       ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		detector:      security.NewDetector(),
		mux:           http.NewServeMux(),
		maxUpload:     deps.UploadMaxBytes,
		secureCookies: deps.SecureCookies,
		started:       time.Now(),
		now:           time.Now,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultUploadMaxBytes
	}
	for _, cidr := range deps.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}
	s.limiter.OnReject = func(clientIP string) {
		s.metrics.RecordRateLimited()
		s.logger.WithComponent(applog.ComponentRateLimit).Warn("Rate limit exceeded", applog.FieldClientIP, clientIP)
	}
	s.detector.OnSuspicious = func(r *http.Request, reason string) {
		s.metrics.RecordSuspicious(reason)
		s.logger.WithComponent(applog.ComponentSecurity).WarnContext(r.Context(), "Suspicious request blocked",
			"reason", reason,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, s.detector.ExtractClientIP(r))
	}

	s.routes()
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.middleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s, nil
}

func (s *Server) routes() {
	mux := s.mux

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /lang/{lang}", s.handleLang)

	mux.HandleFunc("GET /auth/login", s.auth.Login)
	mux.HandleFunc("GET /auth/callback", s.auth.Callback)
	mux.HandleFunc("POST /auth/logout", s.auth.Logout)
	mux.HandleFunc("GET /auth/logout", s.auth.Logout)

	app := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, security.NoStore(s.auth.Require(h)))
	}

	app("GET /{$}", s.handleDashboard)

	app("GET /einheiten", s.handleEinheiten)
	app("GET /einheiten/new", s.handleEinheitForm)
	app("GET /einheiten/{id}/edit", s.handleEinheitForm)
	app("POST /einheiten", s.handleSaveEinheit)
	app("POST /einheiten/{id}", s.handleSaveEinheit)
	app("DELETE /einheiten/{id}", s.handleDeleteEinheit)

	app("GET /mieter", s.handleMieter)
	app("GET /mieter/new", s.handleMieterForm)
	app("GET /mieter/{id}/edit", s.handleMieterForm)
	app("POST /mieter", s.handleSaveMieter)
	app("POST /mieter/{id}", s.handleSaveMieter)
	app("DELETE /mieter/{id}", s.handleDeleteMieter)

	app("GET /tarife", s.handleTarife)
	app("GET /tarife/new", s.handleTarifForm)
	app("GET /tarife/{id}/edit", s.handleTarifForm)
	app("POST /tarife", s.handleSaveTarif)
	app("POST /tarife/validate", s.handleValidateTarife)
	app("POST /tarife/{id}", s.handleSaveTarif)
	app("DELETE /tarife/{id}", s.handleDeleteTarif)

	app("GET /einstellungen", s.handleEinstellungen)
	app("POST /einstellungen", s.handleSaveEinstellungen)

	app("GET /messwerte", s.handleMesswerte)
	app("POST /messwerte/upload", s.handleUploadMesswerte)
	app("POST /messwerte/import", s.handleImportMesswerte)
	app("GET /messwerte/jobs", s.handleUploadJobs)
	app("DELETE /messwerte/jobs/{id}", s.handleDiscardUploadJob)
	app("GET /messwerte/chart", s.handleMesswerteChart)
	app("POST /messwerte/distribution", s.handleCalculateDistribution)

	app("GET /statistik", s.handleStatistik)
	app("GET /statistik/pdf", s.handleStatistikPDF)
	app("POST /statistik/sheets", s.handleStatistikSheets)

	app("GET /rechnungen", s.handleRechnungen)
	app("POST /rechnungen/generate", s.handleGenerateRechnungen)
	app("GET /rechnungen/download/{key}", s.handleDownloadRechnung)

	app("GET /translations", s.handleTranslations)
	app("POST /translations", s.handleSaveTranslation)
	app("POST /translations/{key}", s.handleSaveTranslation)
	app("DELETE /translations/{key}", s.handleDeleteTranslation)
}

// middleware wraps the mux, outermost first: tracing and request logging,
// security headers, attack detection and the rate limit on mutations.
func (s *Server) middleware(next http.Handler) http.Handler {
	tracer := trace.NewMiddleware(trace.Options{
		ExtractIP:  s.detector.ExtractClientIP,
		RouteLabel: s.routeLabel,
		Recorder:   s.metricsRecorder(),
		Logger:     s.logger,
	})
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.detector.ExtractClientIP,
		[]string{http.MethodPost, http.MethodPut, http.MethodDelete},
		func(w http.ResponseWriter, r *http.Request) {
			s.reply(w, r, http.StatusTooManyRequests,
				ErrorBanner("Zu viele Anfragen. Bitte in einer Minute erneut versuchen."))
		})

	h := limit(next)
	h = s.detector.Middleware(h)
	h = headers.Middleware(h)
	h = applog.RequestIDMiddleware(trace.FromRequest)(h)
	h = applog.Middleware(s.logger)(h)
	return tracer.Middleware(h)
}

// metricsRecorder avoids handing a typed nil to the trace middleware.
func (s *Server) metricsRecorder() trace.Recorder {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

// routeLabel is the mux pattern that serves r, a low-cardinality metric label.
func (s *Server) routeLabel(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	return pattern
}

// Shutdown stops the rate limiter and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady runs every registered dependency check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]string{"templates": "ok"}
	if len(s.pages) == 0 {
		checks["templates"] = "failed: templates not loaded"
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = fmt.Sprintf("failed: %v", err)
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	checks["rate_limiter"] = fmt.Sprintf("ok (%d clients)", s.limiter.ActiveClients())

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	})
}
