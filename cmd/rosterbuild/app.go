package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/rosterbuild/internal/cache"
	"github.com/ShayCichocki/rosterbuild/internal/config"
	"github.com/ShayCichocki/rosterbuild/internal/health"
	"github.com/ShayCichocki/rosterbuild/internal/llm"
	"github.com/ShayCichocki/rosterbuild/internal/orchestrator"
	"github.com/ShayCichocki/rosterbuild/internal/pipeline"
	"github.com/ShayCichocki/rosterbuild/internal/roster"
	"github.com/ShayCichocki/rosterbuild/internal/search"
	"github.com/ShayCichocki/rosterbuild/internal/state"
)

// app holds every long-lived component of one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    *cache.Cache
	registry *llm.Registry
	orch     *orchestrator.Orchestrator
	events   *orchestrator.EventEmitter
	envelope *pipeline.Envelope
	ledger   *state.DB
	checker  *health.Checker
}

type appOptions struct {
	// eventBuffer > 0 attaches an event emitter for a live view.
	eventBuffer int
}

// newApp wires config into the pipeline. Providers are built lazily, so a
// missing API key only fails runs that select that provider.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		cache: cache.New(
			cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
			cache.WithSweepEvery(cfg.Cache.SweepEvery),
		),
		registry: newRegistry(ctx, cfg, logger),
	}

	searcher, err := newSearcher(cfg)
	if err != nil {
		return nil, err
	}

	var prompts *roster.Prompts
	if cfg.Prompts.Path != "" {
		if prompts, err = roster.LoadPrompts(cfg.Prompts.Path); err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
	}

	builder, err := roster.NewBuilder(roster.Config{
		Providers:   a.registry,
		Search:      searcher,
		Cache:       a.cache,
		AnalysisTTL: cfg.Cache.AnalysisTTL,
		Prompts:     prompts,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithFailureLimit(cfg.Pipeline.FailureLimit),
		orchestrator.WithStageTimeout(cfg.Pipeline.StageTimeout),
	}
	if opts.eventBuffer > 0 {
		a.events = orchestrator.NewEventEmitter(opts.eventBuffer)
		orchOpts = append(orchOpts, orchestrator.WithEvents(a.events))
	}
	if a.orch, err = builder.NewOrchestrator(orchOpts...); err != nil {
		return nil, err
	}

	if a.ledger, err = state.OpenMemory(); err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}

	a.envelope = pipeline.New(a.orch,
		pipeline.WithModels(a.registry.Names()...),
		pipeline.WithRecorder(a.ledger),
		pipeline.WithLogger(logger),
	)

	a.checker = health.NewChecker(health.DefaultTimeout)
	a.checker.AddProviders(a.registry)
	return a, nil
}

func (a *app) close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("close run ledger", "error", err)
		}
	}
}

// newRegistry registers the openai, ollama and anthropic backends, each
// behind its own circuit breaker.
func newRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) *llm.Registry {
	reg := llm.NewRegistry()
	guarded := func(p llm.Provider) llm.Provider {
		return llm.WithGuard(p, llm.NewGuard(cfg.Models.BreakerFailures, cfg.Models.BreakerCooldown))
	}

	reg.Register(config.ProviderOpenAI, func() (llm.Provider, error) {
		key, src, err := config.GetAPIKey(cfg, config.ProviderOpenAI)
		if err != nil {
			return nil, err
		}
		logger.Debug("openai provider", "key", config.MaskAPIKey(key), "source", src)
		cc := llm.OpenAIConfig(key)
		cc.BaseURL = cfg.OpenAI.BaseURL
		cc.Model = cfg.OpenAI.Model
		cc.MaxTokens = cfg.OpenAI.MaxTokens
		cc.Timeout = cfg.OpenAI.Timeout
		return guarded(llm.NewChatClient(cc)), nil
	})

	reg.Register("ollama", func() (llm.Provider, error) {
		return guarded(newOllamaClient(cfg)), nil
	})

	reg.Register(config.ProviderAnthropic, func() (llm.Provider, error) {
		ac := llm.AnthropicConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			MaxTokens:     int64(cfg.Anthropic.MaxTokens),
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
			MaxRetries:    2,
		}
		if !ac.UseAWSBedrock {
			key, _, err := config.GetAPIKey(cfg, config.ProviderAnthropic)
			if err != nil {
				return nil, err
			}
			ac.APIKey = key
		}
		p, err := llm.NewAnthropicProvider(ctx, ac)
		if err != nil {
			return nil, err
		}
		return guarded(p), nil
	})

	return reg
}

func newOllamaClient(cfg *config.Config) *llm.ChatClient {
	cc := llm.OllamaConfig()
	cc.BaseURL = cfg.Ollama.BaseURL
	cc.Model = cfg.Ollama.Model
	cc.Timeout = cfg.Ollama.Timeout
	return llm.NewChatClient(cc)
}

// newSearcher returns nil when no Tavily key is configured.
func newSearcher(cfg *config.Config) (search.Searcher, error) {
	key, _, err := config.GetAPIKey(cfg, config.ProviderTavily)
	if errors.Is(err, config.ErrNoAPIKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	client, err := search.NewTavily(search.TavilyConfig{APIKey: key, MaxResults: cfg.Search.MaxResults})
	if err != nil {
		return nil, err
	}
	return client, nil
}
