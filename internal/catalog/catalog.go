// Package catalog loads the platform list and per-platform game lists.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrPlatformNotFound = errors.New("platform not found")

// Platform is one entry of systems_list.json
type Platform struct {
	Name   string `json:"platform_name"`
	Folder string `json:"folder"`
	Image  string `json:"platform_image,omitempty"`
}

// Game is a [name, url, size] row of a games file
type Game struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size string `json:"size,omitempty"`
}

func (g *Game) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("game row is not an array: %w", err)
	}
	if len(row) < 2 {
		return fmt.Errorf("game row has %d fields, want at least 2", len(row))
	}
	if err := json.Unmarshal(row[0], &g.Name); err != nil {
		return err
	}
	if err := json.Unmarshal(row[1], &g.URL); err != nil {
		return err
	}
	if len(row) > 2 {
		// Sizes are either preformatted strings or raw byte counts
		var s string
		if err := json.Unmarshal(row[2], &s); err == nil {
			g.Size = s
		} else {
			var n json.Number
			if err := json.Unmarshal(row[2], &n); err == nil {
				g.Size = n.String()
			}
		}
	}
	return nil
}

func (g Game) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{g.Name, g.URL, g.Size})
}

// Catalog reads systems_list.json and games/<platform>.json on demand
type Catalog struct {
	sourcesPath string
	gamesDir    string

	mu        sync.RWMutex
	platforms []Platform
	games     map[string][]Game
}

func New(sourcesPath, gamesDir string) *Catalog {
	return &Catalog{
		sourcesPath: sourcesPath,
		gamesDir:    gamesDir,
		games:       make(map[string][]Game),
	}
}

// Platforms returns the platform list, loading it on first use
func (c *Catalog) Platforms() ([]Platform, error) {
	c.mu.RLock()
	if c.platforms != nil {
		defer c.mu.RUnlock()
		return c.platforms, nil
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(c.sourcesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform list: %w", err)
	}
	var platforms []Platform
	if err := json.Unmarshal(data, &platforms); err != nil {
		return nil, fmt.Errorf("failed to parse platform list: %w", err)
	}

	c.mu.Lock()
	c.platforms = platforms
	c.mu.Unlock()
	return platforms, nil
}

// Find resolves a user-supplied platform by exact name, then folder, then substring.
// Matching is case-insensitive.
func (c *Catalog) Find(query string) (Platform, error) {
	platforms, err := c.Platforms()
	if err != nil {
		return Platform{}, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	for _, p := range platforms {
		if q == strings.ToLower(p.Name) || q == strings.ToLower(p.Folder) {
			return p, nil
		}
	}
	for _, p := range platforms {
		if q != "" && strings.Contains(strings.ToLower(p.Name), q) {
			return p, nil
		}
	}
	return Platform{}, fmt.Errorf("%w: %s", ErrPlatformNotFound, query)
}

// FolderFor returns the declared folder of a platform, or "" when unknown
func (c *Catalog) FolderFor(platform string) string {
	platforms, err := c.Platforms()
	if err != nil {
		return ""
	}
	for _, p := range platforms {
		if p.Name == platform {
			return p.Folder
		}
	}
	return ""
}

// Games returns the games of a platform by its display name
func (c *Catalog) Games(platform string) ([]Game, error) {
	c.mu.RLock()
	games, ok := c.games[platform]
	c.mu.RUnlock()
	if ok {
		return games, nil
	}

	data, err := os.ReadFile(filepath.Join(c.gamesDir, platform+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read games for %s: %w", platform, err)
	}
	if err := json.Unmarshal(data, &games); err != nil {
		return nil, fmt.Errorf("failed to parse games for %s: %w", platform, err)
	}

	c.mu.Lock()
	c.games[platform] = games
	c.mu.Unlock()
	return games, nil
}

// FindGame returns the game named exactly name (case-insensitive)
func (c *Catalog) FindGame(platform, name string) (Game, bool) {
	games, err := c.Games(platform)
	if err != nil {
		return Game{}, false
	}
	for _, g := range games {
		if strings.EqualFold(g.Name, name) {
			return g, true
		}
	}
	return Game{}, false
}

// Reload drops cached data so the next call re-reads the files
func (c *Catalog) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.platforms = nil
	c.games = make(map[string][]Game)
}
