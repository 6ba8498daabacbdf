package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/matcher"
	"github.com/sells-group/assay-cli/internal/metrics"
	"github.com/sells-group/assay-cli/internal/session"
	"github.com/sells-group/assay-cli/internal/store"
	"github.com/sells-group/assay-cli/internal/workflow"
)

// initStore opens the configured entity store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "assay.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store database URL is required (ASSAY_STORE_DATABASE_URL)")
		}
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool, cfg.Store.Retry)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// appEnv bundles the engine with the resources it holds open.
type appEnv struct {
	Store   store.Store
	Engine  *workflow.Engine
	Metrics *metrics.WorkflowMetrics
}

func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close entity store", zap.Error(err))
		}
	}
}

// initEngine opens the store, applies the configured seed file, loads the
// entity snapshot and builds the workflow engine. A nil registry disables
// metrics.
func initEngine(ctx context.Context, reg *prometheus.Registry) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if cfg.Entities.SeedFile != "" {
		entities, err := entity.LoadSeed(cfg.Entities.SeedFile)
		if err != nil {
			env.Close()
			return nil, err
		}
		n, err := store.Import(ctx, st, entities)
		if err != nil {
			env.Close()
			return nil, err
		}
		zap.L().Info("applied entity seed", zap.String("file", cfg.Entities.SeedFile), zap.Int64("rows", n))
	}

	snap, err := store.Snapshot(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}

	matchCfg := cfg.Match
	matchCfg.LineagePolicy, err = matcher.ParseLineagePolicy(string(matchCfg.LineagePolicy))
	if err != nil {
		env.Close()
		return nil, err
	}

	var opts []workflow.Option
	if reg != nil {
		m, err := metrics.NewWorkflowMetrics(reg)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "register metrics")
		}
		env.Metrics = m
		opts = append(opts, workflow.WithMetrics(m))
	}

	env.Engine = workflow.New(
		session.New(),
		matcher.New(snap, matchCfg),
		workflow.Config{Ingest: cfg.Ingest, Views: cfg.Views, Merge: cfg.Merge},
		opts...,
	)
	return env, nil
}
