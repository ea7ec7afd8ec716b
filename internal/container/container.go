package container

import (
	"context"
	"fmt"
	"net/http"

	"go-bg-remover/internal/auth"
	"go-bg-remover/internal/config"
	"go-bg-remover/internal/encoder"
	"go-bg-remover/internal/httpclient"
	"go-bg-remover/internal/logger"
	"go-bg-remover/internal/observer"
	"go-bg-remover/internal/removal"
	"go-bg-remover/internal/repository"
	"go-bg-remover/internal/session"
	"go-bg-remover/internal/storage"
	"go-bg-remover/internal/transport"
	"go-bg-remover/internal/workflow"
	"go-bg-remover/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config   *config.Config
	remover  removal.Remover
	sessions *session.Manager
	metrics  *observer.MetricsObserver
	handler  http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	// Build dependency graph
	enc := encoder.New()
	remover := removal.NewFalClient(httpclient.NewHTTPClientWithTimeout(cfg.RemovalTimeout), removal.Options{
		QueueURL:     cfg.FalQueueURL,
		APIKey:       cfg.FalKey,
		PollInterval: cfg.RemovalPollInterval,
		Timeout:      cfg.RemovalTimeout,
	})
	validator := validation.NewURLValidator()
	fetcher := storage.NewHTTPSourceFetcher(cfg.SourceFetchTimeout, cfg.MaxRequestBodySize,
		storage.WithURLChecker(validator))

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	sessions := session.NewManager(repository.NewMemorySessionRepository(), func(id string) *workflow.Controller {
		return workflow.New(id, enc, remover,
			workflow.WithFetcher(fetcher),
			workflow.WithEvents(publisher),
		)
	}, cfg.SessionTTL)

	handler, err := transport.NewHandler(
		sessions,
		auth.NewTokenProvider(cfg.AuthSecret),
		validator,
		metrics,
		cfg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build handler: %w", err)
	}

	return &Container{
		config:   cfg,
		remover:  remover,
		sessions: sessions,
		metrics:  metrics,
		handler:  handler,
	}, nil
}

// Start launches background jobs.
func (c *Container) Start() error {
	return c.sessions.StartSweeper(c.config.SessionSweepSchedule)
}

// Stop halts background jobs, waiting at most until ctx ends.
func (c *Container) Stop(ctx context.Context) {
	c.sessions.StopSweeper(ctx)
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}
