package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coaching-cli/internal/aggregate"
	"github.com/sells-group/coaching-cli/internal/composer"
	"github.com/sells-group/coaching-cli/internal/measure"
	"github.com/sells-group/coaching-cli/internal/oracle"
	"github.com/sells-group/coaching-cli/internal/pipeline"
	"github.com/sells-group/coaching-cli/internal/reward"
	"github.com/sells-group/coaching-cli/internal/store"
	"github.com/sells-group/coaching-cli/internal/targets"
	anthropicpkg "github.com/sells-group/coaching-cli/pkg/anthropic"
)

// pipelineEnv holds the store, stages, and the assembled pipeline needed by
// the run/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Resolver   *targets.Resolver
	Recorder   *measure.Recorder
	Scorer     *reward.Scorer
	Aggregator *aggregate.Aggregator
	Composer   *composer.Composer
	Pipeline   *pipeline.Pipeline
	Oracle     *oracle.LLMOracle
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "coach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, the scoring oracle with its heuristic
// fallback, and all four stages. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	llm := oracle.NewLLM(anthropicClient, cfg.Oracle, cfg.Anthropic.Model)
	heuristic := oracle.NewHeuristic()

	resolver := targets.NewResolver(st)
	recorder := measure.NewRecorder(st, llm, heuristic, cfg.Measure, cfg.Oracle.MaxConcurrent)
	scorer := reward.NewScorer(st, resolver, reward.NewHeuristicEstimator(), cfg.Reward)
	aggregator := aggregate.New(st, cfg.Decay.HalfLifeDays)

	comp, err := composer.New(st, resolver, cfg.Composer)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(st, recorder, scorer, aggregator, comp, cfg.Pipeline.Limit)

	return &pipelineEnv{
		Store:      st,
		Resolver:   resolver,
		Recorder:   recorder,
		Scorer:     scorer,
		Aggregator: aggregator,
		Composer:   comp,
		Pipeline:   p,
		Oracle:     llm,
	}, nil
}
