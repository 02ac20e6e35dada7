// Package app opens a workspace: config, workspace database, the configured
// persistence backend, seeds, store and engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"timeline/internal/config"
	"timeline/internal/db"
	"timeline/internal/engine"
	"timeline/internal/fetch"
	"timeline/internal/kv"
	"timeline/internal/migrate"
	"timeline/internal/repo"
	"timeline/internal/seed"
	"timeline/internal/store"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Store     *store.Store
	Engine    engine.Engine
	Logger    *slog.Logger

	closers []io.Closer
}

// Open loads the workspace config (defaults when absent), migrates the
// workspace database and builds the engine.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, logger)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Workspace: workspace, Config: cfg, Logger: logger}

	dbCfg := db.Config{Workspace: workspace}
	if cfg.Storage.Driver == config.DriverSQLite {
		dbCfg.Path = cfg.Storage.Path
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open workspace db: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn)
	if err := migrate.Migrate(ctx, conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	backend, err := a.openKV()
	if err != nil {
		a.Close()
		return nil, err
	}
	st, err := store.New(ctx, a.SeedSource(), backend,
		store.WithKey(cfg.Storage.Key), store.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st
	a.Engine = engine.New(conn, st, logger)
	logger.Debug("workspace opened", "workspace", workspace, "driver", cfg.Storage.Driver, "projects", st.Len())
	return a, nil
}

func (a *App) openKV() (store.KV, error) {
	switch a.Config.Storage.Driver {
	case config.DriverBadger:
		path := config.Resolve(a.Workspace, a.Config.Storage.Path)
		if path == "" {
			path = filepath.Join(db.Dir(a.Workspace), "badger")
		}
		b, err := kv.OpenBadger(kv.BadgerConfig{Path: path, Logger: a.Logger})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b)
		return b, nil
	case config.DriverMemory:
		return kv.NewMemory(), nil
	default:
		return repo.Repo{DB: a.DB}, nil
	}
}

// SeedPath is the artifact the store seeds from.
func (a *App) SeedPath() string {
	return config.Resolve(a.Workspace, a.Config.Seed.File)
}

func (a *App) SeedSource() store.SeedSource {
	return seed.File{Path: a.SeedPath(), Logger: a.Logger}
}

// Fetcher builds a fetcher from the fetch section. The token is read from
// the configured environment variable.
func (a *App) Fetcher() *fetch.Fetcher {
	fc := a.Config.Fetch
	sources := make([]fetch.Source, 0, len(fc.Repos))
	for _, r := range fc.Repos {
		sources = append(sources, fetch.Source{Owner: r.Owner, Repo: r.Repo, Branch: r.Branch, Private: r.Private})
	}
	var token string
	if fc.TokenEnv != "" {
		token = os.Getenv(fc.TokenEnv)
	}
	return &fetch.Fetcher{
		Config: fetch.Config{
			Sources:     sources,
			Filename:    fc.Filename,
			RawBaseURL:  fc.RawBaseURL,
			APIBaseURL:  fc.APIBaseURL,
			Token:       token,
			Concurrency: fc.Concurrency,
			Output:      config.Resolve(a.Workspace, fc.Output),
		},
		Logger:   a.Logger,
		Recorder: a.Engine.Repo,
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
