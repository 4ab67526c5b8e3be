// Package roster defines the WNBA roster-building stages: three independent
// analyses (players, salary cap, chemistry) feeding one roster construction.
package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/cache"
	"github.com/ShayCichocki/rosterbuild/internal/llm"
	"github.com/ShayCichocki/rosterbuild/internal/orchestrator"
	"github.com/ShayCichocki/rosterbuild/internal/search"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// Stage names.
const (
	StagePlayerAnalysis     = "player_analysis"
	StageSalaryCap          = "salary_cap"
	StageTeamChemistry      = "team_chemistry"
	StageRosterConstruction = "roster_construction"
)

// Length ceilings, in runes.
const (
	SearchLimit   = 400
	InputLimit    = 300
	AnalysisLimit = 800
	RosterLimit   = 1500
	noteLimit     = 100
)

// DefaultAnalysisTTL is how long a memoized analysis stays fresh.
const DefaultAnalysisTTL = 10 * time.Minute

// Defaults substituted for optional request fields.
const (
	defaultCapTarget  = "balanced"
	defaultPriorities = "balanced"
)

// ProviderSource resolves a model-selection tag. *llm.Registry implements it.
type ProviderSource interface {
	Get(name string) (llm.Provider, error)
}

// Config wires the roster stages to their collaborators.
type Config struct {
	// Providers resolves the request's model type. Required.
	Providers ProviderSource
	// Search is optional; without it stages use their no-search prompts.
	Search search.Searcher
	// Cache memoizes analysis results. Optional.
	Cache *cache.Cache
	// AnalysisTTL is the memoization TTL. Zero means DefaultAnalysisTTL.
	AnalysisTTL time.Duration
	// Prompts is the template catalogue. Nil means the embedded default.
	Prompts *Prompts
	Logger  *slog.Logger
}

// Builder produces the roster stage set.
type Builder struct {
	providers ProviderSource
	search    search.Searcher
	cache     *cache.Cache
	ttl       time.Duration
	prompts   *Prompts
	logger    *slog.Logger
}

// NewBuilder validates cfg.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Providers == nil {
		return nil, errors.New("roster: no model providers configured")
	}
	prompts := cfg.Prompts
	if prompts == nil {
		var err error
		if prompts, err = DefaultPrompts(); err != nil {
			return nil, err
		}
	}
	for _, stage := range []string{StagePlayerAnalysis, StageSalaryCap, StageTeamChemistry, StageRosterConstruction} {
		if !prompts.Has(stage) {
			return nil, fmt.Errorf("roster: prompt catalogue has no %q entry", stage)
		}
	}
	ttl := cfg.AnalysisTTL
	if ttl <= 0 {
		ttl = DefaultAnalysisTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{
		providers: cfg.Providers,
		search:    cfg.Search,
		cache:     cfg.Cache,
		ttl:       ttl,
		prompts:   prompts,
		logger:    logger,
	}, nil
}

// Stages returns the four roster stages.
func (b *Builder) Stages() []orchestrator.Stage {
	return []orchestrator.Stage{
		{Name: StagePlayerAnalysis, Run: b.analysis(StagePlayerAnalysis)},
		{Name: StageSalaryCap, Run: b.analysis(StageSalaryCap)},
		{Name: StageTeamChemistry, Run: b.analysis(StageTeamChemistry)},
		{
			Name:      StageRosterConstruction,
			DependsOn: []string{StagePlayerAnalysis, StageSalaryCap, StageTeamChemistry},
			Run:       b.construct,
		},
	}
}

// NewOrchestrator builds an orchestrator over the roster stages.
func (b *Builder) NewOrchestrator(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(b.Stages(), opts...)
}

func promptData(req models.Request) PromptData {
	return PromptData{
		Team:       req.Team,
		Season:     req.Season,
		Strategy:   req.Strategy,
		CapTarget:  req.CapTargetOr(defaultCapTarget),
		Priorities: req.PrioritiesOr(defaultPriorities),
	}
}

// cacheFunction is the memoization identity of one analysis, prefixed per
// team, season and strategy.
func cacheFunction(stage string, req models.Request) string {
	return fmt.Sprintf("roster:%s:%s:%s:%s", req.Team, req.Season, req.Strategy, stage)
}

func cacheArgs(req models.Request) cache.Args {
	return cache.Named(map[string]any{
		"team":       req.Team,
		"season":     req.Season,
		"strategy":   req.Strategy,
		"cap_target": req.CapTarget,
		"priorities": req.Priorities,
		"model_type": req.ModelType,
	})
}

func (b *Builder) analysis(stage string) orchestrator.StageFunc {
	return func(ctx context.Context, req models.Request, _ orchestrator.Inputs) (orchestrator.Result, error) {
		provider, err := b.providers.Get(req.ModelType)
		if err != nil {
			return orchestrator.Result{}, err
		}

		var notes []string
		computed := false
		value, err := cache.Memoize(b.cache, cacheFunction(stage, req), b.ttl, cacheArgs(req), func() (string, error) {
			computed = true
			data := promptData(req)
			data.Search, notes = b.searchFor(ctx, stage, data)

			user, err := b.prompts.User(stage, data)
			if err != nil {
				return "", err
			}
			text, err := provider.Complete(ctx, llm.Prompt{System: b.prompts.System(stage), User: user})
			if err != nil {
				return "", err
			}
			return orchestrator.Truncate(text, AnalysisLimit), nil
		})
		if err != nil {
			return orchestrator.Result{}, err
		}
		if !computed {
			notes = append(notes, "served from cache")
		}
		return orchestrator.Result{Value: value, Notes: notes}, nil
	}
}

// searchFor returns a truncated search digest for stage, or "" when search is
// off or fails. A failed search is reported as a note, not a stage failure.
func (b *Builder) searchFor(ctx context.Context, stage string, data PromptData) (string, []string) {
	if b.search == nil {
		return "", nil
	}
	query, ok, err := b.prompts.Query(stage, data)
	if err != nil {
		return "", []string{"search query: " + orchestrator.Truncate(err.Error(), noteLimit)}
	}
	if !ok {
		return "", nil
	}

	results, err := b.search.Search(ctx, query)
	if err != nil {
		b.logger.Warn("search failed, continuing without results", "stage", stage, "error", err)
		return "", []string{"search unavailable: " + orchestrator.Truncate(err.Error(), noteLimit)}
	}
	return orchestrator.Truncate(results, SearchLimit), nil
}

func (b *Builder) construct(ctx context.Context, req models.Request, in orchestrator.Inputs) (orchestrator.Result, error) {
	provider, err := b.providers.Get(req.ModelType)
	if err != nil {
		return orchestrator.Result{}, err
	}

	a := AnalysesFrom(in)
	data := promptData(req)
	data.PlayerAnalysis = orchestrator.Truncate(a.Player.Value, InputLimit)
	data.CapAnalysis = orchestrator.Truncate(a.SalaryCap.Value, InputLimit)
	data.ChemistryAnalysis = orchestrator.Truncate(a.Chemistry.Value, InputLimit)

	user, err := b.prompts.User(StageRosterConstruction, data)
	if err != nil {
		return orchestrator.Result{}, err
	}
	text, err := provider.Complete(ctx, llm.Prompt{System: b.prompts.System(StageRosterConstruction), User: user})
	if err != nil {
		return orchestrator.Result{}, err
	}

	var notes []string
	if degraded := a.Degraded(); len(degraded) > 0 {
		notes = append(notes, fmt.Sprintf("built from degraded input: %v", degraded))
	}
	return orchestrator.Result{Value: orchestrator.Truncate(text, RosterLimit), Notes: notes}, nil
}
