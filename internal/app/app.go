// Package app wires the engine and its services for the command-line front-ends.
// It is split into multiple files by domain.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"rgsx/internal/analytics"
	"rgsx/internal/catalog"
	"rgsx/internal/config"
	"rgsx/internal/engine"
	"rgsx/internal/extract"
	"rgsx/internal/filesystem"
	"rgsx/internal/history"
	"rgsx/internal/logger"
	"rgsx/internal/provider"
	"rgsx/internal/storage"
)

// Version is the released RGSX version, overridden at link time
var Version = "2.2.1.0"

// ErrReadOnly is returned by operations that need the engine when the app
// was opened without owning the history
var ErrReadOnly = errors.New("app opened read-only")

// Options tune New
type Options struct {
	Paths    config.Paths
	Console  io.Writer
	LogLevel slog.Leveler
	// ReadOnly skips the engine and the history hub. The history file is
	// only read, so a running server keeps its live entries.
	ReadOnly bool
}

// App owns every long-lived service. Close releases them in reverse order.
type App struct {
	Paths      config.Paths
	Logger     *slog.Logger
	Logs       *logger.RingHandler
	Storage    *storage.Storage
	Config     *config.ConfigManager
	Creds      *config.CredentialStore
	Extensions *config.ExtensionCatalog
	Catalog    *catalog.Catalog
	Resolver   *filesystem.PathResolver
	Hub        *history.Hub // nil when read-only
	Stats      *analytics.StatsManager
	Engine     *engine.Engine // nil when read-only

	historyStore *history.Store
	owner        *history.OwnerLock
}

// New builds the services from opts. Unless opts.ReadOnly is set it takes
// ownership of the history, marks entries left active by a previous run as
// interrupted and starts the engine.
func New(opts Options) (a *App, err error) {
	p := opts.Paths
	if err := p.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	var owner *history.OwnerLock
	if !opts.ReadOnly {
		if owner, err = history.AcquireOwner(p.Lock); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				owner.Release()
			}
		}()
	}

	level := opts.LogLevel
	if level == nil {
		level = slog.LevelInfo
	}
	console := opts.Console
	if console == nil {
		console = io.Discard
	}
	log, ring, err := logger.New(p.Logs, console, level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := storage.NewStorage(p.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a = &App{
		Paths:      p,
		Logger:     log,
		Logs:       ring,
		Storage:    store,
		Config:     config.NewConfigManager(store),
		Creds:      config.NewCredentialStore(p, log),
		Extensions: config.NewExtensionCatalog(p.Extensions, p.ESSystems, log),
		Catalog:    catalog.New(p.Sources, p.Games),

		historyStore: history.NewStore(p.History, log),
		owner:        owner,
	}
	a.Resolver = filesystem.NewPathResolver(p.Roms, p.Bios, a.Catalog)
	a.Stats = analytics.NewStatsManager(store, log, func() (string, error) { return p.Roms, nil })

	if opts.ReadOnly {
		log.Debug("RGSX opened read-only", "version", Version, "userdata", p.UserData)
		return a, nil
	}

	a.Hub = history.NewHub(a.historyStore, log, history.DefaultFlushInterval)
	if n := a.Hub.RecoverInterrupted(); n > 0 {
		log.Warn("Marked interrupted downloads as failed", "count", n)
	}

	a.Engine = engine.NewEngine(log, engine.Deps{
		Hub:         a.Hub,
		Paths:       a.Resolver,
		Providers:   provider.DefaultChain(log),
		Credentials: a.Creds,
		Processor: extract.NewProcessor(log, extract.Options{
			Unrar:   p.Unrar,
			Xdvdfs:  p.Xdvdfs,
			PS3Dir:  p.PS3Dir,
			XboxDir: p.XboxDir,
		}),
		Settings: a.Config,
		Stats:    a.Stats,
	})
	a.Engine.SetMaxConcurrent(a.Config.GetMaxConcurrent())
	a.Engine.SetGlobalLimit(a.Config.GetSpeedLimit())
	a.Engine.SetHostLimits(a.Config.GetHostLimits())

	log.Info("RGSX started", "version", Version, "userdata", p.UserData)
	return a, nil
}

// Close cancels running downloads and flushes history and the database
func (a *App) Close() error {
	var err error
	if a.Engine != nil {
		err = a.Engine.Shutdown(10 * time.Second)
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if rerr := a.owner.Release(); rerr != nil {
		a.Logger.Warn("Failed to release history owner file", "error", rerr)
	}
	a.owner = nil
	if cerr := a.Storage.Checkpoint(); cerr != nil {
		a.Logger.Warn("WAL checkpoint failed", "error", cerr)
	}
	if cerr := a.Storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// WaitAll blocks until none of ids is active or ctx ends
func (a *App) WaitAll(ctx context.Context, ids ...string) ([]engine.Result, error) {
	if a.Engine == nil {
		return nil, ErrReadOnly
	}
	results := make([]engine.Result, 0, len(ids))
	for _, id := range ids {
		res, err := a.Engine.Wait(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
