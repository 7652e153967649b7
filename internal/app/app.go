// Package app wires configuration into the store, dataset, run manager and
// scan engine shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/dataquality/internal/config"
	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/db"
	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/runs"
	"github.com/raphaelgruber/dataquality/internal/service"
	"github.com/raphaelgruber/dataquality/internal/store"
)

// backend is what a store backend provides: scan records and delegated runs.
type backend interface {
	store.Repository
	runs.Store
}

// App holds the dependencies of one process.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector

	Repo      store.Repository
	Runs      *runs.Manager
	Operators *operators.Registry

	backend  backend
	db       *db.Client
	sqlite   *store.SQLite
	manifest *ManifestDataset
}

// Open connects the configured backends. The SurrealDB client is only
// dialed when the store or the dataset lives there.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.NewCollector(),
		Operators: operators.DefaultRegistry(),
	}

	if cfg.StoreBackend == config.BackendSurrealDB || cfg.DatasetBackend == config.DatasetSurrealDB {
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = client
		if err := client.InitSchema(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	switch cfg.StoreBackend {
	case config.BackendSurrealDB:
		a.backend = a.db
	case config.BackendMemory:
		a.backend = newMemoryBackend()
	default:
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.sqlite = s
		a.backend = s
	}

	a.Repo = store.NewInstrumented(a.backend, a.Metrics)
	a.Runs = runs.NewManager(a.backend, a.Operators, a.OpenDataset,
		runs.WithLogger(logger),
		runs.WithMetrics(a.Metrics),
		runs.WithConcurrency(cfg.OperatorConcurrency, cfg.MaxConcurrentRuns),
	)

	logger.Debug("app ready", "store", cfg.StoreBackend, "dataset", cfg.DatasetBackend)
	return a, nil
}

// DB returns the SurrealDB client, nil when neither backend uses it.
func (a *App) DB() *db.Client {
	return a.db
}

// OpenDataset opens the dataset with id from the configured dataset backend.
// An empty id selects the configured dataset.
func (a *App) OpenDataset(ctx context.Context, id string) (dataset.Dataset, error) {
	if id == "" {
		id = a.Config.DatasetID
	}

	if a.Config.DatasetBackend == config.DatasetSurrealDB {
		if id == "" {
			return nil, errors.New("dataset id is required")
		}
		ds, err := a.db.OpenDataset(ctx, id)
		if err != nil {
			return nil, err
		}
		return ds, nil
	}

	if a.manifest == nil {
		m, err := LoadManifestDataset(a.Config.DatasetManifest)
		if err != nil {
			return nil, err
		}
		a.manifest = m
	}
	if id != "" && id != a.manifest.ID() {
		return nil, fmt.Errorf("dataset %s not in manifest %s", id, a.Config.DatasetManifest)
	}
	return a.manifest, nil
}

// EngineOptions translates the configuration into engine options.
func (a *App) EngineOptions() ([]service.Option, error) {
	perm, err := service.ParsePermission(a.Config.UserPermission)
	if err != nil {
		return nil, err
	}
	return []service.Option{
		service.WithLogger(a.Logger),
		service.WithMetrics(a.Metrics),
		service.WithRuns(a.Runs),
		service.WithOperators(a.Operators),
		service.WithPanelVersion(a.Config.PanelVersion),
		service.WithHistogramBins(a.Config.HistogramBins),
		service.WithImmediateTimeout(a.Config.ImmediateTimeout),
		service.WithConcurrency(a.Config.OperatorConcurrency),
		service.WithPermission(perm),
	}, nil
}

// Engine opens the dataset with id and returns a loaded engine bound to it.
func (a *App) Engine(ctx context.Context, id string) (*service.Engine, error) {
	ds, err := a.OpenDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	opts, err := a.EngineOptions()
	if err != nil {
		return nil, err
	}
	e := service.New(a.Repo, ds, opts...)
	if err := e.Load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the backends.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sqlite != nil {
		errs = append(errs, a.sqlite.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close(ctx))
	}
	return errors.Join(errs...)
}

type memoryBackend struct {
	*store.Memory
	*runs.MemoryStore
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{Memory: store.NewMemory(), MemoryStore: runs.NewMemoryStore()}
}
