package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cache is the lookup surface used by the translation and list caches.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix drops every key starting with prefix, e.g. all entries of one tenant.
	DeletePrefix(prefix string) int
	Size() int
}

// Cleaner is implemented by caches whose expired entries can be swept.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically sweeps expired entries out of registered caches.
type Janitor struct {
	mu      sync.Mutex
	caches  map[string]Cleaner
	logger  *slog.Logger
	stop    context.CancelFunc
	stopped chan struct{}
}

func NewJanitor(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{caches: make(map[string]Cleaner), logger: logger}
}

// Register adds a named cache to the sweep.
func (j *Janitor) Register(name string, c Cleaner) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.caches[name] = c
}

// Start runs the sweep every interval until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	j.stop = cancel
	j.stopped = make(chan struct{})

	go func() {
		defer close(j.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep cleans every registered cache once and returns the number of removed entries.
func (j *Janitor) Sweep() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := 0
	for name, c := range j.caches {
		n := c.CleanExpired()
		if n > 0 {
			j.logger.Debug("Expired cache entries removed", "cache", name, "count", n)
		}
		total += n
	}
	return total
}

// Stop ends the sweep goroutine and waits for it.
func (j *Janitor) Stop() {
	if j.stop == nil {
		return
	}
	j.stop()
	<-j.stopped
}
