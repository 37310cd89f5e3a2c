package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/scout-cli/internal/checkpoint"
	"github.com/sells-group/scout-cli/internal/config"
	"github.com/sells-group/scout-cli/internal/cost"
	"github.com/sells-group/scout-cli/internal/fetch"
	"github.com/sells-group/scout-cli/internal/graph"
	"github.com/sells-group/scout-cli/internal/oracle"
	"github.com/sells-group/scout-cli/internal/planner"
	"github.com/sells-group/scout-cli/internal/scout"
	"github.com/sells-group/scout-cli/internal/search"
	"github.com/sells-group/scout-cli/internal/verify"
)

// scoutEnv holds the initialized store, collaborators, and the scout
// orchestrator needed by the scan/serve commands.
type scoutEnv struct {
	Store    graph.Store
	Scout    *scout.Scout
	Sink     *checkpoint.Sink
	Cost     *cost.Engine
	Criteria *config.Criteria
	Planner  *planner.Planner

	// Resumed carries the checkpoint a previous run crashed on, if any.
	Resumed *checkpoint.Snapshot
}

// Close releases resources held by the environment.
func (e *scoutEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (graph.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "scout.db"
		}
		return graph.NewSQLite(path)
	case "postgres":
		return graph.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initOracle(model string) (oracle.Oracle, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (SCOUT_ANTHROPIC_KEY)")
	}
	llm := oracle.NewMessenger(cfg.Anthropic.Key)
	return oracle.New(llm,
		oracle.WithModel(model),
		oracle.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)),
	), nil
}

// initCost loads persisted bandit state when a previous run left one,
// otherwise starts fresh. The three source tiers are always registered.
func initCost() *cost.Engine {
	ec := cost.Config{
		TargetCount:      10,
		PatienceInitial:  cfg.Cost.InitialPatience,
		PatienceRecharge: cfg.Cost.RechargePerHit,
		PatienceDrain:    cfg.Cost.DrainPerMiss,
		Epsilon:          cfg.Cost.Epsilon,
		MinROI:           cfg.Cost.MinROI,
		GlobalBudget:     cfg.Cost.Budget,
	}

	statePath := filepath.Join(cfg.Scan.OutputDir, "cost_state.json")
	var engine *cost.Engine
	if _, err := os.Stat(statePath); err == nil {
		engine, err = cost.Load(statePath, ec)
		if err != nil {
			zap.L().Warn("cost state unreadable, starting fresh", zap.Error(err))
			engine = nil
		} else {
			zap.L().Info("cost state restored", zap.String("path", statePath))
		}
	}
	if engine == nil {
		engine = cost.NewEngine(ec)
	}

	engine.AddSource("direct", 90)
	engine.AddSource("semi_direct", 60)
	engine.AddSource("indirect", 40)
	return engine
}

// initScout wires the full orchestrator. Callers should defer env.Close().
func initScout(ctx context.Context, model string, onEvent func(scout.Event)) (*scoutEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	o, err := initOracle(model)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	criteria, err := config.LoadCriteria(cfg.CriteriaPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	searchLimiter := rate.NewLimiter(rate.Every(time.Duration(cfg.Search.DelaySecs)*time.Second), 1)
	se := search.NewBrave(
		search.WithBaseURL(cfg.Search.BaseURL),
		search.WithPages(cfg.Search.PagesPerQuery),
		search.WithLimiter(searchLimiter),
	)
	fe := fetch.New(fetch.WithMaxChars(cfg.Search.FetchMaxChars))
	ve := verify.NewYouTube(cfg.Verify.SubscriberMin, cfg.Verify.SubscriberMax)

	engine := initCost()
	sink := checkpoint.New(filepath.Join(cfg.Scan.OutputDir, "checkpoint.json"), cfg.Scan.Unattended)

	// A snapshot left behind means the previous run died while paused; the
	// scan re-raises the checkpoint when it reaches that cell again.
	resumed, err := sink.Replay()
	if err != nil {
		zap.L().Warn("checkpoint snapshot unreadable", zap.Error(err))
	} else if resumed != nil {
		zap.L().Info("previous run stopped at a checkpoint",
			zap.String("checkpoint", resumed.Name),
			zap.Time("created_at", resumed.CreatedAt))
	}

	pl := planner.New(o)
	planPath := filepath.Join(cfg.Scan.OutputDir, "strategy_plan.json")
	if dump, err := pl.LoadPlan(planPath); err != nil {
		zap.L().Warn("strategy plan unreadable", zap.String("path", planPath), zap.Error(err))
	} else if dump != nil {
		zap.L().Info("strategy plan loaded",
			zap.String("path", planPath),
			zap.Int("strategies", len(dump.Strategies)))
	}

	sc := scout.New(cfg, criteria, o, pl, se, fe, ve, engine, st, sink, onEvent)

	return &scoutEnv{
		Store:    st,
		Scout:    sc,
		Sink:     sink,
		Cost:     engine,
		Criteria: criteria,
		Planner:  pl,
		Resumed:  resumed,
	}, nil
}
