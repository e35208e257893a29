package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/confidant/internal/api"
	"github.com/Veraticus/confidant/internal/command"
	"github.com/Veraticus/confidant/internal/config"
	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/memory"
	"github.com/Veraticus/confidant/internal/metrics"
	"github.com/Veraticus/confidant/internal/ollama"
	"github.com/Veraticus/confidant/internal/relay"
	"github.com/Veraticus/confidant/internal/sanitize"
	"github.com/Veraticus/confidant/internal/session"
	"github.com/Veraticus/confidant/internal/storage"
)

// components holds everything the commands need.
type components struct {
	cfg         *config.Config
	logger      *slog.Logger
	layout      *storage.Layout
	facts       *memory.FactStore
	exchanges   *memory.ExchangeStore
	builder     *memory.ContextBuilder
	prompts     *config.PromptStore
	coordinator *session.Coordinator
	cleanup     *session.CleanupService
	relay       relay.Handler
	api         *api.Handler
}

// initializeStores sets up storage and the prompt only. The offline
// commands stop here.
func initializeStores(cfg *config.Config, logger *slog.Logger) (*components, error) {
	layout := storage.NewLayout(cfg.Storage.Dir)
	if err := layout.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}

	factStore := memory.NewFactStore(layout, cfg.Storage.FactsCacheTTL)
	factStore.SetLogger(logger)
	exchanges := memory.NewExchangeStore(layout, factStore, memory.WithLogger(logger))
	builder := memory.NewContextBuilder(exchanges, factStore, cfg.Context.RecentTurns)
	exchanges.AttachContext(builder)

	prompts, err := config.NewPromptStore(cfg.Prompt.Path, logger)
	if err != nil {
		return nil, err
	}

	return &components{
		cfg:       cfg,
		logger:    logger,
		layout:    layout,
		facts:     factStore,
		exchanges: exchanges,
		builder:   builder,
		prompts:   prompts,
	}, nil
}

// initializeComponents wires the full service on top of the stores.
func initializeComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c, err := initializeStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.prompts.OnChange(func(prompt string) {
		metrics.PromptChanges.Inc()
		logger.Info("System prompt changed, new sessions will use it",
			slog.Int("prompt_length", len(prompt)),
		)
	})

	client, err := ollama.NewClient(ollama.Config{
		BaseURL: cfg.Backend.BaseURL,
		Model:   cfg.Backend.Model,
		Timeout: cfg.Backend.Timeout,
		Options: ollama.Options{
			Temperature: cfg.Backend.Temperature,
			TopP:        cfg.Backend.TopP,
			TopK:        cfg.Backend.TopK,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	c.coordinator, err = session.NewCoordinator(client, c.prompts, cfg.Backend.Model,
		session.WithRetryPolicy(session.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
		}),
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session coordinator: %w", err)
	}
	c.cleanup = session.NewCleanupService(c.coordinator, cfg.Session.CleanupInterval, cfg.Session.IdleTimeout)

	router, err := command.NewRouter(c.exchanges, c.coordinator, c.prompts,
		command.WithPrefix(cfg.Relay.CommandPrefix),
		command.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create command router: %w", err)
	}

	sanitizer := sanitize.New()
	sanitizer.SetLogger(logger)

	c.relay, err = relay.NewHandler(c.coordinator,
		relay.WithExchanges(c.exchanges),
		relay.WithFactStore(c.facts),
		relay.WithContextBuilder(c.builder),
		relay.WithCommands(router),
		relay.WithSanitizer(sanitizer),
		relay.WithExtractor(facts.NewExtractor()),
		relay.WithAllowedUsers(cfg.Relay.AllowedUsers),
		relay.WithRateLimit(cfg.Relay.RatePerMinute, cfg.Relay.RateBurst),
		relay.WithDedupSize(cfg.Relay.DedupCacheSize),
		relay.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay handler: %w", err)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	c.api = api.NewHandler(api.Deps{
		Relay:         c.relay,
		Conversations: c.exchanges,
		Facts:         c.facts,
		Sessions:      c.coordinator,
		Prompts:       c.prompts,
		RecentTurns:   cfg.Context.RecentTurns,
		MetricsPath:   metricsPath,
		Logger:        logger,
	})
	return c, nil
}
