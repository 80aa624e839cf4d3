package backend

import (
	"context"
	"fmt"

	applog "zev/internal/log"
	"zev/internal/zevapi/memory"
	"zev/internal/zevapi/rest"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger   *applog.Logger
	recorder rest.Recorder
}

// NewFactory creates a new backend factory. recorder may be nil.
func NewFactory(logger *applog.Logger, recorder rest.Recorder) Factory {
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(applog.ComponentBackend),
		recorder: recorder,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RESTBackend:
		return f.createRESTBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createRESTBackend(config Config) (*BackendResult, error) {
	opts := []rest.Option{rest.WithLogger(f.logger)}
	if f.recorder != nil {
		opts = append(opts, rest.WithRecorder(f.recorder))
	}
	client, err := rest.New(config.BaseURL, config.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize REST client: %w", err)
	}

	f.logger.Info("Initialized REST backend", "base_url", config.BaseURL, "timeout", config.Timeout)

	return &BackendResult{Backend: client}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store := memory.New()
	if config.SeedDirectory != "" {
		store = memory.NewFromFiles(config.SeedDirectory)
	}

	f.logger.Info("Initialized memory backend", "seed_directory", config.SeedDirectory)

	return &BackendResult{Backend: store}, nil
}
