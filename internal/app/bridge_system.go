package app

import (
	"context"

	"rgsx/internal/analytics"
	"rgsx/internal/api"
	"rgsx/internal/history"
	"rgsx/internal/network"
	"rgsx/internal/updater"
)

// History returns the last tail entries, all of them when tail <= 0.
// A read-only app reads the file as the owning process last wrote it.
func (a *App) History(tail int) []history.Entry {
	var entries []history.Entry
	if a.Hub != nil {
		entries = a.Hub.Snapshot()
	} else {
		entries = a.historyStore.Load()
	}
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	return entries
}

// ClearHistory drops every finished entry
func (a *App) ClearHistory() error {
	if a.Hub == nil {
		return ErrReadOnly
	}
	return a.Hub.Clear()
}

// Analytics returns totals, the last week and disk usage
func (a *App) Analytics() analytics.AnalyticsData {
	return a.Stats.GetAnalytics()
}

// CheckForUpdates compares the running version with the published one
func (a *App) CheckForUpdates(ctx context.Context) (*updater.Release, error) {
	rel, err := updater.CheckForUpdates(ctx, Version, updater.DefaultEndpoint)
	if err != nil {
		a.Logger.Error("Update check failed", "error", err)
		return nil, err
	}
	if rel != nil {
		a.Logger.Info("Update available", "version", rel.Version, "archive", rel.Archive)
	}
	return rel, nil
}

// RunSpeedTest measures the connection and stores the result
func (a *App) RunSpeedTest(ctx context.Context, onPhase network.PhaseCallback) (*network.SpeedTestResult, error) {
	if !network.CheckInternet(ctx) {
		return nil, network.ErrOffline
	}
	return network.RunSpeedTest(ctx, onPhase, a.Storage)
}

// NewAPIServer builds the web API over the app's services. It needs the engine.
func (a *App) NewAPIServer() (*api.Server, error) {
	if a.Engine == nil {
		return nil, ErrReadOnly
	}
	return api.NewServer(a.Logger, api.Deps{
		Engine:     a.Engine,
		Hub:        a.Hub,
		Catalog:    a.Catalog,
		Extensions: a.Extensions,
		Config:     a.Config,
		Stats:      a.Stats,
		Logs:       a.Logs,
		SpeedTests: a.Storage,
		Archive:    a.Storage,
		Version:    Version,
	}), nil
}
