package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/cache"
	"github.com/sells-group/funnel-cli/internal/cost"
	"github.com/sells-group/funnel-cli/internal/pipeline"
	"github.com/sells-group/funnel-cli/internal/store"
	anthropicpkg "github.com/sells-group/funnel-cli/pkg/anthropic"
	"github.com/sells-group/funnel-cli/pkg/apollo"
)

// pipelineEnv holds the initialized store, clients, engine and broker needed
// by the run/resume/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Cache      *cache.OrgCache
	Engine     *pipeline.Engine
	Broker     *pipeline.Broker
	Aggregator *pipeline.Aggregator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Cache != nil {
		pe.Cache.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the snapshot store, the optional org cache, both
// provider clients, and the stage engine. stagesPath optionally narrows or
// reorders the stages. Callers should defer env.Close().
func initPipeline(ctx context.Context, stagesPath string) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// The org cache is optional: without it every company lookup goes to the
	// provider.
	var orgCache *cache.OrgCache
	if cfg.Cache.DatabaseURL != "" {
		orgCache, err = cache.Connect(ctx, cfg.Cache.DatabaseURL)
		if err != nil {
			zap.L().Warn("org cache unavailable, continuing without it", zap.Error(err))
			orgCache = nil
		} else if err := orgCache.Migrate(ctx); err != nil {
			zap.L().Warn("org cache migrate failed, continuing without it", zap.Error(err))
			orgCache.Close()
			orgCache = nil
		}
	} else {
		zap.L().Debug("FUNNEL_CACHE_DATABASE_URL not set, org cache disabled")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, cfg.Anthropic.Model)
	apolloClient := apollo.NewClient(cfg.Apollo.Key,
		apollo.WithBaseURL(cfg.Apollo.BaseURL),
		apollo.WithRateLimit(cfg.Apollo.RatePerSecond),
	)

	stages := pipeline.BuildStages(anthropicClient, apolloClient, orgCache, cfg)
	if stagesPath != "" {
		plan, err := pipeline.LoadStagePlan(stagesPath)
		if err != nil {
			if orgCache != nil {
				orgCache.Close()
			}
			_ = st.Close()
			return nil, err
		}
		stages, err = plan.Apply(stages)
		if err != nil {
			if orgCache != nil {
				orgCache.Close()
			}
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("stage plan applied", zap.Int("stages", len(stages)))
	}

	broker := pipeline.NewBroker(cfg.Pipeline.EventBufferSize)
	probe := pipeline.ConnectivityProbe(anthropicClient, apolloClient)
	engine := pipeline.NewEngine(stages, st, broker, probe, cfg.Pipeline)

	rates := cost.DefaultRates()
	if len(cfg.Pricing.Anthropic) > 0 {
		rates.Anthropic = make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))
		for m, p := range cfg.Pricing.Anthropic {
			rates.Anthropic[m] = cost.ModelRate{Input: p.Input, Output: p.Output}
		}
	}
	if cfg.Pricing.Apollo.PerCredit > 0 {
		rates.Apollo.PerCredit = cfg.Pricing.Apollo.PerCredit
	}

	return &pipelineEnv{
		Store:      st,
		Cache:      orgCache,
		Engine:     engine,
		Broker:     broker,
		Aggregator: pipeline.NewAggregator(cost.NewCalculator(rates), cfg.Anthropic.Model),
	}, nil
}
