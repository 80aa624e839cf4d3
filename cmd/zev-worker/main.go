package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zev/internal/amqp"
	"zev/internal/auth"
	"zev/internal/backend"
	"zev/internal/cli"
	applog "zev/internal/log"
	"zev/internal/metrics"
	"zev/internal/services"
	"zev/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting zev-worker", applog.FieldOperation, applog.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the worker; without it the web process imports uploads itself")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath, true)
	defer repo.Close()

	m := metrics.New()
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := backend.NewFactory(logger, m).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.BackendMode)
		os.Exit(1)
	}

	// the worker refreshes the uploader's token through the shared session table
	var provider *auth.Provider
	if cfg.AuthEnabled() {
		provider, err = auth.NewProvider(ctx, auth.OIDCConfig{
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
	}
	sessions := auth.NewManager(provider, auth.NewSQLiteStore(repo),
		auth.WithDevTenant(cfg.DevTenant),
		auth.WithLogger(logger))

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	uploads := services.NewUploadService(repo, be.Backend, sessions, nil, m,
		services.UploadServiceConfig{Concurrency: cfg.UploadConcurrency}).WithLogger(logger)

	wc := worker.DefaultConfig()
	wc.SweepInterval = cfg.SyncInterval
	wc.BatchSize = cfg.SyncBatchSize
	uploadWorker := worker.NewUploadWorker(uploads, sessions, wc, logger)
	if err := uploadWorker.Start(ctx); err != nil {
		logger.Error("Failed to start upload worker", applog.FieldError, err)
		os.Exit(1)
	}

	go func() {
		if err := amqpClient.ConsumeUploadJobs(ctx, uploadWorker.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
		}
		cancel()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := uploadWorker.Stop(shutdownCtx); err != nil {
		logger.Error("Upload worker shutdown error", applog.FieldError, err)
	}
	if be.Cleanup != nil {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	}
	logger.Info("zev-worker stopped", applog.FieldOperation, applog.OpShutdown)
}
