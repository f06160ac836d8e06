package app

import (
	"errors"
	"fmt"

	"rgsx/internal/catalog"
	"rgsx/internal/engine"
)

// ErrUnsupportedExtension is returned when a file is neither playable on the
// platform nor an archive the engine can extract
var ErrUnsupportedExtension = errors.New("unsupported file extension")

// Queued describes a download accepted by the engine
type Queued struct {
	TaskID       string
	Platform     catalog.Platform
	Game         catalog.Game
	ForceExtract bool
}

// QueueGame looks up a catalog game and queues it. force bypasses the
// unsupported-extension refusal.
func (a *App) QueueGame(platform, name string, force bool) (Queued, error) {
	p, err := a.Catalog.Find(platform)
	if err != nil {
		return Queued{}, err
	}
	game, ok := a.Catalog.FindGame(p.Name, name)
	if !ok {
		matches := []catalog.Game{}
		if games, err := a.Catalog.Games(p.Name); err == nil {
			matches = catalog.Search(games, name)
		}
		if len(matches) != 1 {
			return Queued{}, fmt.Errorf("game not found: %s (%d partial matches)", name, len(matches))
		}
		game = matches[0]
	}
	return a.queue(p, game, force)
}

// QueueURL downloads rawURL into the folder of platform
func (a *App) QueueURL(platform, rawURL string, force bool) (Queued, error) {
	p, err := a.Catalog.Find(platform)
	if err != nil {
		return Queued{}, err
	}
	return a.queue(p, catalog.Game{URL: rawURL}, force)
}

func (a *App) queue(p catalog.Platform, game catalog.Game, force bool) (Queued, error) {
	if a.Engine == nil {
		return Queued{}, ErrReadOnly
	}
	name := game.Name
	if name == "" {
		name = game.URL
	}
	decision := a.Extensions.Decide(name, p.Name, a.Resolver.FolderName(p.Name))
	if decision.Warn {
		if !force {
			return Queued{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedExtension, name, p.Name)
		}
		a.Logger.Warn("Downloading file with unsupported extension", "game", name, "platform", p.Name)
	}

	id, err := a.Engine.Start(engine.StartRequest{
		URL:          game.URL,
		Platform:     p.Name,
		GameName:     game.Name,
		ForceExtract: decision.ForceExtract,
	})
	if err != nil {
		return Queued{}, err
	}
	return Queued{TaskID: id, Platform: p, Game: game, ForceExtract: decision.ForceExtract}, nil
}

// Cancel stops a task by ID
func (a *App) Cancel(taskID string) error {
	if a.Engine == nil {
		return ErrReadOnly
	}
	return a.Engine.RequestCancel(taskID)
}

// SetMaxConcurrentDownloads persists and applies the slot count
func (a *App) SetMaxConcurrentDownloads(n int) error {
	if err := a.Config.SetMaxConcurrent(n); err != nil {
		return err
	}
	if a.Engine != nil {
		a.Engine.SetMaxConcurrent(a.Config.GetMaxConcurrent())
	}
	return nil
}

// SetGlobalSpeedLimit persists and applies the bandwidth cap in bytes/s
func (a *App) SetGlobalSpeedLimit(bytesPerSec int) error {
	if err := a.Config.SetSpeedLimit(bytesPerSec); err != nil {
		return err
	}
	if a.Engine != nil {
		a.Engine.SetGlobalLimit(a.Config.GetSpeedLimit())
	}
	return nil
}

// SetHostLimits persists and applies the per-host slot caps. A host missing
// from limits falls back to the global slot count.
func (a *App) SetHostLimits(limits map[string]int) error {
	if err := a.Config.SetHostLimits(limits); err != nil {
		return err
	}
	if a.Engine != nil {
		a.Engine.SetHostLimits(a.Config.GetHostLimits())
	}
	return nil
}
