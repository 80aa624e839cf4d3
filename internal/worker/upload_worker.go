package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zev/internal/amqp"
	applog "zev/internal/log"
)

// UploadProcessor is the part of services.UploadService the worker drives.
type UploadProcessor interface {
	Process(ctx context.Context, jobID string) error
	ProcessPending(ctx context.Context, idle time.Duration, limit int) (int, error)
	PurgeFinished(ctx context.Context) (int64, error)
}

// SessionCleaner drops expired login sessions.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type Config struct {
	// SweepInterval is how often pending jobs are looked for (default: 30s)
	SweepInterval time.Duration

	// SweepIdle is how long a pending job must be untouched before the sweep
	// takes it over from a lost message (default: 2m)
	SweepIdle time.Duration

	// BatchSize is the max number of jobs per sweep (default: 10)
	BatchSize int

	// CleanupInterval is how often done jobs and expired sessions are purged (default: 1h)
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:   30 * time.Second,
		SweepIdle:       2 * time.Minute,
		BatchSize:       10,
		CleanupInterval: time.Hour,
	}
}

// UploadWorker imports queued meter files: it handles AMQP messages and
// periodically sweeps pending jobs whose message got lost.
type UploadWorker struct {
	uploads  UploadProcessor
	sessions SessionCleaner
	config   Config
	logger   *applog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewUploadWorker creates a worker; sessions may be nil when sessions are not persisted.
func NewUploadWorker(uploads UploadProcessor, sessions SessionCleaner, config Config, logger *applog.Logger) *UploadWorker {
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	return &UploadWorker{
		uploads:  uploads,
		sessions: sessions,
		config:   config,
		logger:   logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleMessage processes the job named by an AMQP message.
func (w *UploadWorker) HandleMessage(ctx context.Context, msg *amqp.UploadJobMessage) error {
	w.logger.DebugContext(ctx, "Processing upload job message",
		applog.FieldJobID, msg.JobID,
		applog.FieldTenant, msg.Tenant)
	if err := w.uploads.Process(ctx, msg.JobID); err != nil {
		return fmt.Errorf("process upload job %s: %w", msg.JobID, err)
	}
	return nil
}

// Start begins the sweep loop. Returns an error if already running.
func (w *UploadWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("upload worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	w.logger.InfoContext(ctx, "Upload worker started",
		"sweep_interval", w.config.SweepInterval,
		"batch_size", w.config.BatchSize)
	return nil
}

// Stop ends the sweep loop and waits for the current batch.
func (w *UploadWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.InfoContext(ctx, "Upload worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Upload worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *UploadWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *UploadWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	sweepTicker := time.NewTicker(w.config.SweepInterval)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// jobs left over from a previous run
	w.Sweep(ctx)
	w.Cleanup(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			w.Sweep(ctx)
		case <-cleanupTicker.C:
			w.Cleanup(ctx)
		}
	}
}

// Sweep processes one batch of stale pending jobs.
func (w *UploadWorker) Sweep(ctx context.Context) int {
	n, err := w.uploads.ProcessPending(ctx, w.config.SweepIdle, w.config.BatchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "Pending upload sweep failed", applog.FieldError, err)
		return 0
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "Imported pending upload jobs", "count", n)
	}
	return n
}

// Cleanup purges old done jobs and expired sessions.
func (w *UploadWorker) Cleanup(ctx context.Context) {
	if n, err := w.uploads.PurgeFinished(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to purge finished upload jobs", applog.FieldError, err)
	} else if n > 0 {
		w.logger.InfoContext(ctx, "Purged finished upload jobs", "count", n)
	}
	if w.sessions == nil {
		return
	}
	if n, err := w.sessions.CleanupExpired(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to delete expired sessions", applog.FieldError, err)
	} else if n > 0 {
		w.logger.DebugContext(ctx, "Deleted expired sessions", "count", n)
	}
}
