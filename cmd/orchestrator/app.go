package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
	"github.com/phrazzld/maintenance-orchestrator/internal/config"
	"github.com/phrazzld/maintenance-orchestrator/internal/events"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/phrazzld/maintenance-orchestrator/internal/metrics"
	"github.com/phrazzld/maintenance-orchestrator/internal/orchestrator"
	"github.com/phrazzld/maintenance-orchestrator/internal/outbound"
	"github.com/phrazzld/maintenance-orchestrator/internal/pipeline"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/badger"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/gemini"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/openai"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/postgres"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"github.com/phrazzld/maintenance-orchestrator/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
)

// badgerGCInterval is how often the badger cache collects its value log.
const badgerGCInterval = 10 * time.Minute

// application holds the wired services shared by every command.
type application struct {
	config *config.Config
	logger *slog.Logger

	database  *database
	artifacts cache.Store
	closeFns  []func() error

	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	workflows    *workflow.StateMachine
	queue        *outbound.Queue
	generator    *generation.FailoverManager
	pipeline     *pipeline.Pipeline
	orchestrator *orchestrator.Orchestrator
}

// appOptions are the seams tests use to avoid real providers and files.
type appOptions struct {
	fs        afero.Fs
	providers []generation.Provider
	sink      outbound.Sink
}

// newApplication opens storage and wires every service. Call close when done.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*application, error) {
	if opts.fs == nil {
		opts.fs = afero.NewOsFs()
	}

	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	var err error
	app.database, err = openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.closeFns = append(app.closeFns, app.database.db.Close)

	if err := app.wire(ctx, opts); err != nil {
		_ = app.close()
		return nil, err
	}

	logger.Info("application initialized",
		"database", cfg.Database.Driver,
		"cache_enabled", app.artifacts != nil,
		"providers", len(app.providerNames()))
	return app, nil
}

func (app *application) wire(ctx context.Context, opts appOptions) error {
	cfg := app.config
	logger := app.logger

	var err error
	app.artifacts, err = app.openArtifactStore()
	if err != nil {
		return fmt.Errorf("failed to open artifact cache: %w", err)
	}

	sink := opts.sink
	if sink == nil {
		sink, err = newSink(cfg.Notify, logger)
		if err != nil {
			return fmt.Errorf("failed to create notification sink: %w", err)
		}
	}
	app.queue, err = outbound.NewQueue(sink, outbound.Config{
		Capacity:       cfg.Queue.Capacity,
		RateLimit:      cfg.Queue.RateLimit,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BackoffBase:    cfg.Queue.BackoffBase,
		DeadLetterSize: cfg.Queue.DeadLetterSize,
		DequeueTimeout: cfg.Queue.DequeueTimeout,
	}, logger, outbound.WithRecorder(app.metrics))
	if err != nil {
		return fmt.Errorf("failed to create outbound queue: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLogHandler(logger))
	if cfg.Notify.AlertDest != "" {
		alerts, err := events.NewFailureAlertHandler(app.queue, cfg.Notify.AlertDest)
		if err != nil {
			return fmt.Errorf("failed to create failure alert handler: %w", err)
		}
		emitter.RegisterHandler(alerts)
	}

	app.workflows, err = workflow.NewStateMachine(app.database.workflows, logger,
		workflow.WithEmitter(emitter),
		workflow.WithRecorder(app.metrics),
		workflow.WithConflictRetries(cfg.Database.ConflictRetries))
	if err != nil {
		return fmt.Errorf("failed to create state machine: %w", err)
	}

	providers := opts.providers
	if len(providers) == 0 {
		providers, err = newProviders(ctx, cfg.LLM, logger)
		if err != nil {
			return err
		}
	}
	app.generator, err = generation.NewFailoverManager(providers, app.artifacts, generation.FailoverConfig{
		CacheEnabled: app.artifacts != nil,
		CacheTTL:     cfg.Cache.TTL,
		WriteTimeout: cfg.Cache.WriteTimeout,
		CallTimeout:  cfg.LLM.CallTimeout,
	}, logger, generation.WithRecorder(app.metrics))
	if err != nil {
		return fmt.Errorf("failed to create provider failover: %w", err)
	}

	app.pipeline, err = app.newPipeline(opts.fs)
	if err != nil {
		return err
	}

	handler, err := orchestrator.NewGenerationHandler(app.generator, cfg.Pipeline.MaxOutputTokens)
	if err != nil {
		return fmt.Errorf("failed to create request handler: %w", err)
	}
	executor := retry.NewExecutor(retry.Policy{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		JitterPercent: cfg.Retry.JitterPercent,
	}, logger, retry.WithObserver(app.metrics))

	app.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Workflows: app.workflows,
		Retry:     executor,
		Handler:   handler,
		Analyzer:  app.pipeline,
		Queue:     app.queue,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return nil
}

// openArtifactStore returns nil when caching is disabled.
func (app *application) openArtifactStore() (cache.Store, error) {
	cfg := app.config.Cache
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case "badger":
		s, err := badger.Open(badger.Config{
			Dir:            cfg.BadgerDir,
			StaleRetention: cfg.StaleRetention,
			GCInterval:     badgerGCInterval,
		}, app.logger)
		if err != nil {
			return nil, err
		}
		app.closeFns = append(app.closeFns, s.Close)
		return s, nil

	case "postgres":
		if app.database.driver != "postgres" {
			return nil, errors.New("the postgres cache backend requires the postgres database driver")
		}
		return postgres.NewPostgresArtifactStore(app.database.db, cfg.StaleRetention, app.logger), nil

	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func (app *application) newPipeline(fs afero.Fs) (*pipeline.Pipeline, error) {
	cfg := app.config

	catalog, err := pipeline.NewCatalog(nil)
	if cfg.Pipeline.CatalogFile != "" {
		catalog, err = pipeline.LoadCatalog(fs, cfg.Pipeline.CatalogFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load equipment catalog: %w", err)
	}

	screener, err := pipeline.NewLLMScreener(app.generator, cfg.Pipeline.MaxOutputTokens)
	if err != nil {
		return nil, err
	}
	extractor, err := pipeline.NewLLMExtractor(app.generator, cfg.Pipeline.MaxOutputTokens)
	if err != nil {
		return nil, err
	}
	synthesizer, err := pipeline.NewLLMSynthesizer(app.generator, cfg.Pipeline.MaxOutputTokens)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Stages{
		Screener:    screener,
		Extractor:   extractor,
		Matcher:     catalog,
		Context:     catalog,
		Synthesizer: synthesizer,
	}, pipeline.Config{
		ScreenThreshold:   cfg.Pipeline.ScreenThreshold,
		MaxCostPerRun:     cfg.Pipeline.MaxCostPerRun,
		CacheTTL:          cfg.Cache.TTL,
		CacheWriteTimeout: cfg.Cache.WriteTimeout,
	}, app.artifacts, app.logger, pipeline.WithRecorder(app.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create photo pipeline: %w", err)
	}

	app.logger.Info("photo pipeline ready", "catalog_entities", catalog.Len())
	return p, nil
}

// newProviders builds providers in configured failover order, skipping any
// without an API key.
func newProviders(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) ([]generation.Provider, error) {
	var providers []generation.Provider
	for _, name := range cfg.Providers {
		var (
			p   generation.Provider
			err error
		)
		switch name {
		case "gemini":
			if cfg.Gemini.APIKey == "" {
				logger.Warn("skipping provider without API key", "provider", name)
				continue
			}
			p, err = gemini.NewProvider(ctx, logger, cfg.Gemini)
		case "openai":
			if cfg.OpenAI.APIKey == "" {
				logger.Warn("skipping provider without API key", "provider", name)
				continue
			}
			p, err = openai.NewProvider(logger, cfg.OpenAI)
		default:
			return nil, fmt.Errorf("unknown LLM provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no LLM provider is configured")
	}
	return providers, nil
}

func newSink(cfg config.NotifyConfig, logger *slog.Logger) (outbound.Sink, error) {
	if cfg.WebhookURL == "" {
		return outbound.NewLogSink(logger), nil
	}
	return outbound.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout)
}

func (app *application) providerNames() []string {
	if app.generator == nil {
		return nil
	}
	return app.generator.ProviderNames()
}

// close releases storage in reverse order of opening.
func (app *application) close() error {
	var errs []error
	for i := len(app.closeFns) - 1; i >= 0; i-- {
		if err := app.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closeFns = nil
	return errors.Join(errs...)
}
