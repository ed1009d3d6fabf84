package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yieldera/datahub/internal/cache"
	"github.com/yieldera/datahub/internal/config"
	"github.com/yieldera/datahub/internal/export"
	"github.com/yieldera/datahub/internal/extract"
	"github.com/yieldera/datahub/internal/geometry"
	"github.com/yieldera/datahub/internal/job"
	"github.com/yieldera/datahub/internal/raster"
	"github.com/yieldera/datahub/internal/store"
)

// env bundles the wired application components.
type env struct {
	Store     store.Store
	Extractor *extract.Extractor
	Cache     *cache.Cache
	Jobs      *job.Manager
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// openStore selects the store backend by configured driver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv wires store, engine client, extractor, cache and job manager.
func initEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	cat, err := extract.LoadCatalog()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	engine := raster.NewClient(raster.ClientOptions{
		BaseURL:    cfg.Engine.BaseURL,
		Timeout:    time.Duration(cfg.Engine.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Engine.MaxRetries,
		RateLimit:  float64(cfg.Engine.RateLimitRPS),
	})
	ex := extract.New(engine, cat, geometry.Limits{
		MaxAreaKm2: cfg.Geometry.MaxAreaKm2,
		MaxBufferM: cfg.Geometry.MaxBufferM,
	})

	if err := os.MkdirAll(cfg.Jobs.ArtifactDir, 0o755); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "create artifact dir")
	}

	runner := job.NewExportRunner(ex, &export.FilePackager{}, cfg.Jobs.ArtifactDir)
	jobs := job.NewManager(st, runner, job.Options{
		Workers:    cfg.Jobs.Workers,
		QueueSize:  cfg.Jobs.QueueSize,
		StaleAfter: time.Duration(cfg.Jobs.StaleAfterMins) * time.Minute,
	})

	return &env{
		Store:     st,
		Extractor: ex,
		Cache:     cache.New(st, time.Duration(cfg.Cache.TTLHours)*time.Hour),
		Jobs:      jobs,
	}, nil
}
