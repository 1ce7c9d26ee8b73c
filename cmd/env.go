package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/db"
	"github.com/sells-group/prospect-engine/internal/enrich"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/listbuild"
	"github.com/sells-group/prospect-engine/internal/promote"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/internal/strategy"
	"github.com/sells-group/prospect-engine/internal/waterfall"
	anthropicpkg "github.com/sells-group/prospect-engine/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prospect.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolOptions{MaxConns: 10, MaxConnLifetime: 30 * time.Minute})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates. Callers close the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// engine holds the components shared by the enrichment and funnel commands.
type engine struct {
	Store      store.Store
	Ledger     *ledger.Ledger
	Registry   *provider.Registry
	Waterfall  *waterfall.Orchestrator
	Scorer     *scorer.Scorer
	Detector   *signal.Detector
	Classifier *classify.Classifier // nil without an Anthropic key
	Strategies *strategy.Generator
}

// Close releases the store.
func (e *engine) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine wires the store, ledger, provider registry, scorer, detector and
// strategy generator. The registry is loaded only when withProviders is set.
func initEngine(ctx context.Context, withProviders bool) (*engine, error) {
	mode := "ledger"
	if withProviders {
		mode = "enrich"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	e := &engine{Store: st, Ledger: ledger.New(st), Registry: provider.NewRegistry()}

	if withProviders {
		wcfg, err := waterfall.LoadConfig(cfg.ProvidersFile)
		if err != nil {
			e.Close()
			return nil, err
		}
		if e.Registry, err = waterfall.BuildRegistry(wcfg, nil, nil); err != nil {
			e.Close()
			return nil, err
		}
		zap.L().Info("provider registry loaded", zap.Strings("providers", e.Registry.List()))
	}

	breakers := resilience.NewBreakers(cfg.Resilience.Breaker())
	e.Waterfall = waterfall.NewOrchestrator(e.Registry, e.Ledger, waterfall.NewTracker(st), breakers)
	e.Scorer = scorer.New(cfg.Scoring)

	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		e.Classifier = classify.New(
			classify.NewAnthropicModel(client, cfg.Anthropic.HaikuModel),
			classify.WithRetry(cfg.Resilience.Retry()),
			classify.WithMaxTokens(cfg.Anthropic.MaxTokens),
		)
	} else {
		zap.L().Debug("PROSPECT_ANTHROPIC_KEY not set, model-assisted features disabled")
	}
	e.Detector = signal.NewDetector(cfg.Signals, e.Classifier)

	var cache strategy.Cache
	if cfg.Strategy.Cache == "store" {
		cache = strategy.NewStoreCache(st)
	}
	e.Strategies, err = strategy.NewGenerator(st, e.Registry, e.Classifier, cache, cfg.Strategy, cfg.Scoring.DefaultWeights)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Scorer.WithBudget(e.Strategies.Budget())
	return e, nil
}

func (e *engine) pipeline() *enrich.Pipeline {
	return enrich.New(e.Store, e.Waterfall, e.Scorer, e.Detector, cfg.Batch)
}

func (e *engine) promoter() *promote.Promoter {
	return promote.New(e.Store, e.Scorer, e.Detector, cfg.Promotion, cfg.Batch)
}

// listBuilder uses generated strategies only when a model is configured;
// otherwise lists are built with registry order and default weights.
func (e *engine) listBuilder() *listbuild.Builder {
	var strategist listbuild.Strategist
	if e.Classifier != nil {
		strategist = e.Strategies
	}
	return listbuild.New(e.Store, e.Waterfall, e.Scorer, strategist)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
