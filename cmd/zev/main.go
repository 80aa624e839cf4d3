package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"zev/internal/amqp"
	"zev/internal/auth"
	"zev/internal/backend"
	"zev/internal/cache"
	"zev/internal/cli"
	"zev/internal/config"
	"zev/internal/export/sheets"
	apphttp "zev/internal/http"
	applog "zev/internal/log"
	"zev/internal/metrics"
	"zev/internal/services"
	"zev/internal/storage"
	"zev/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	ctx := context.Background()

	m := metrics.New()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger, m).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.BackendMode)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath, cfg.NeedsSQLite())

	manager, provider := setupAuth(ctx, logger, cfg, repo, m)

	var (
		publisher  services.Publisher
		amqpClient *amqp.Client
	)
	checks := map[string]apphttp.ReadinessCheck{"storage": repo.Ping}
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		publisher = amqpClient
		checks["amqp"] = amqpClient.Ping
		logger.Info("Upload jobs are published to AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - upload jobs are imported inline")
	}

	uploads := services.NewUploadService(repo, be.Backend, manager, publisher, m,
		services.UploadServiceConfig{Concurrency: cfg.UploadConcurrency}).WithLogger(logger)
	translations := services.NewTranslationService(be.Backend, cfg.TranslationCacheTTL, m.CacheObserver("translations"))

	janitor := cache.NewJanitor(logger.WithComponent(applog.ComponentCache).Logger)
	janitor.Register("translations", translations.Cache())
	if provider != nil {
		janitor.Register("oidc_pending", provider)
	}
	janitor.Start(ctx, time.Minute)

	// without a broker the web process sweeps and purges jobs itself
	var uploadWorker *worker.UploadWorker
	if !cfg.AMQPEnabled() {
		wc := worker.DefaultConfig()
		wc.SweepInterval = cfg.SyncInterval
		wc.BatchSize = cfg.SyncBatchSize
		uploadWorker = worker.NewUploadWorker(uploads, manager, wc, logger)
		if err := uploadWorker.Start(ctx); err != nil {
			logger.Error("Failed to start upload worker", applog.FieldError, err)
			os.Exit(1)
		}
	}

	deps := apphttp.Deps{
		Backend:        be.Backend,
		Uploads:        uploads,
		Translations:   translations,
		Auth:           manager,
		Metrics:        m,
		Checks:         checks,
		Logger:         logger,
		UploadMaxBytes: cfg.UploadMaxBytes,
		SecureCookies:  cfg.CookieSecure,
	}
	if cfg.SheetsExportEnabled() {
		exporter, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets export", applog.FieldError, err)
			os.Exit(1)
		}
		deps.Exporter = exporter
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, deps)
	if err != nil {
		logger.Error("Failed to create HTTP server", applog.FieldError, err)
		os.Exit(1)
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if uploadWorker != nil {
			if err := uploadWorker.Stop(ctx); err != nil {
				logger.Error("Upload worker shutdown error", applog.FieldError, err)
			}
		}
		janitor.Stop()
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if be.Cleanup != nil {
			if err := be.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", applog.FieldError, err)
			}
		}
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close SQLite repository", applog.FieldError, err)
		}
	})

	logger.Info("Starting zev server",
		"port", cfg.Port,
		"backend", cfg.BackendMode,
		"auth", cfg.AuthMode,
		applog.FieldOperation, applog.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}

// setupAuth builds the session manager: Keycloak login with AUTH_MODE=oidc,
// a fixed development tenant otherwise.
func setupAuth(ctx context.Context, logger *applog.Logger, cfg *config.Config, repo *storage.SQLiteRepository, m *metrics.Metrics) (*auth.Manager, *auth.Provider) {
	var store auth.Store = auth.NewMemoryStore()
	if cfg.SessionStore == config.SessionStoreSQLite {
		store = auth.NewSQLiteStore(repo)
	}
	opts := []auth.Option{
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithSecureCookies(cfg.CookieSecure),
		auth.WithDevTenant(cfg.DevTenant),
		auth.WithLoginRecorder(m),
		auth.WithLogger(logger),
	}

	if !cfg.AuthEnabled() {
		logger.Warn("Authentication disabled - all requests use the development tenant", applog.FieldTenant, cfg.DevTenant)
		return auth.NewManager(nil, store, opts...), nil
	}

	provider, err := auth.NewProvider(ctx, auth.OIDCConfig{
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
		TenantClaim:  cfg.OIDCTenantClaim,
	})
	if err != nil {
		logger.Error("Failed to discover OIDC provider", applog.FieldError, err, "issuer", cfg.OIDCIssuerURL)
		os.Exit(1)
	}
	logger.Info("OIDC login enabled", "issuer", cfg.OIDCIssuerURL, "client_id", cfg.OIDCClientID)
	return auth.NewManager(provider, store, opts...), provider
}
