package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zev/internal/amqp"
)

type fakeUploads struct {
	mu        sync.Mutex
	processed []string
	sweeps    int
	purges    int
	idle      time.Duration
	limit     int
	err       error
}

func (f *fakeUploads) Process(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, jobID)
	return f.err
}

func (f *fakeUploads) ProcessPending(_ context.Context, idle time.Duration, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	f.idle, f.limit = idle, limit
	return 2, f.err
}

func (f *fakeUploads) PurgeFinished(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges++
	return 1, nil
}

func (f *fakeUploads) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps, f.purges
}

type fakeSessions struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSessions) CleanupExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 3, nil
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SweepInterval != 30*time.Second {
		t.Errorf("expected SweepInterval 30s, got %v", config.SweepInterval)
	}
	if config.SweepIdle != 2*time.Minute {
		t.Errorf("expected SweepIdle 2m, got %v", config.SweepIdle)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
	if config.CleanupInterval != time.Hour {
		t.Errorf("expected CleanupInterval 1h, got %v", config.CleanupInterval)
	}
}

func TestHandleMessage(t *testing.T) {
	uploads := &fakeUploads{}
	w := NewUploadWorker(uploads, nil, DefaultConfig(), nil)

	if err := w.HandleMessage(context.Background(), amqp.NewUploadJobMessage("job-1", "acme")); err != nil {
		t.Fatal(err)
	}
	if len(uploads.processed) != 1 || uploads.processed[0] != "job-1" {
		t.Fatalf("unexpected processed jobs: %v", uploads.processed)
	}

	uploads.err = errors.New("backend unavailable")
	if err := w.HandleMessage(context.Background(), amqp.NewUploadJobMessage("job-2", "acme")); err == nil {
		t.Fatal("expected error to be reported for the delivery")
	}
}

func TestSweepAndCleanup(t *testing.T) {
	uploads := &fakeUploads{}
	sessions := &fakeSessions{}
	config := DefaultConfig()
	config.BatchSize = 7
	w := NewUploadWorker(uploads, sessions, config, nil)
	ctx := context.Background()

	if n := w.Sweep(ctx); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if uploads.idle != 2*time.Minute || uploads.limit != 7 {
		t.Errorf("sweep used idle=%v limit=%d", uploads.idle, uploads.limit)
	}
	w.Cleanup(ctx)
	if uploads.purges != 1 || sessions.calls != 1 {
		t.Errorf("cleanup purges=%d session cleanups=%d", uploads.purges, sessions.calls)
	}

	uploads.err = errors.New("database locked")
	if n := w.Sweep(ctx); n != 0 {
		t.Errorf("failed sweep should report 0, got %d", n)
	}

	// nil session cleaner is allowed
	NewUploadWorker(uploads, nil, config, nil).Cleanup(ctx)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	uploads := &fakeUploads{}
	config := DefaultConfig()
	config.SweepInterval = 10 * time.Millisecond
	w := NewUploadWorker(uploads, nil, config, nil)
	ctx := context.Background()

	if w.IsRunning() {
		t.Fatal("worker should not be running initially")
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err == nil {
		t.Error("expected error when starting a running worker")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sweeps, purges := uploads.counts()
		if sweeps >= 2 && purges >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not sweep: sweeps=%d purges=%d", sweeps, purges)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if w.IsRunning() {
		t.Error("worker should not be running after Stop")
	}
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop when not running should not error: %v", err)
	}
}
