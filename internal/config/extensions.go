package config

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rgsx/internal/filesystem"
)

// SystemExtensions is one row of rom_extensions.json
type SystemExtensions struct {
	Folder     string   `json:"folder"`
	Extensions []string `json:"extensions"`
}

// Decision is the outcome of the pre-download extension check
type Decision struct {
	ForceExtract bool
	// Warn is set when the file is neither supported nor an archive
	Warn bool
}

// ExtensionCatalog serves the per-folder extension whitelist. The JSON file is
// generated from es_systems.cfg when missing and cached for the process lifetime.
type ExtensionCatalog struct {
	jsonPath string
	cfgPath  string
	logger   *slog.Logger

	once    sync.Once
	systems map[string][]string
	loadErr error
}

func NewExtensionCatalog(jsonPath, esSystemsPath string, logger *slog.Logger) *ExtensionCatalog {
	return &ExtensionCatalog{jsonPath: jsonPath, cfgPath: esSystemsPath, logger: logger}
}

func (c *ExtensionCatalog) load() {
	c.once.Do(func() {
		if _, err := os.Stat(c.jsonPath); os.IsNotExist(err) {
			if err := GenerateExtensions(c.cfgPath, c.jsonPath); err != nil {
				c.logger.Warn("Failed to generate extension list", "source", c.cfgPath, "error", err)
			}
		}

		data, err := os.ReadFile(c.jsonPath)
		if err != nil {
			c.loadErr = err
			c.logger.Error("Failed to read extension list", "path", c.jsonPath, "error", err)
			return
		}
		var rows []SystemExtensions
		if err := json.Unmarshal(data, &rows); err != nil {
			c.loadErr = err
			c.logger.Error("Failed to parse extension list", "path", c.jsonPath, "error", err)
			return
		}

		c.systems = make(map[string][]string, len(rows))
		for _, r := range rows {
			c.systems[r.Folder] = r.Extensions
		}
	})
}

// Supported reports whether filename's extension is listed for folder
func (c *ExtensionCatalog) Supported(filename, folder string) bool {
	c.load()
	exts, ok := c.systems[filepath.Base(folder)]
	if !ok {
		c.logger.Warn("No system found for folder", "folder", folder)
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Decide computes ForceExtract for a file of platform about to be stored in
// folder. Archives of the BIOS platform are always extracted.
func (c *ExtensionCatalog) Decide(filename, platform, folder string) Decision {
	if filesystem.IsBIOS(platform) && IsArchive(filename) {
		return Decision{ForceExtract: true}
	}
	if c.Supported(filename, folder) {
		return Decision{}
	}
	if IsArchive(filename) {
		return Decision{ForceExtract: true}
	}
	return Decision{Warn: true}
}

// Err reports why the list could not be loaded, if it could not
func (c *ExtensionCatalog) Err() error {
	c.load()
	return c.loadErr
}

// IsArchive reports whether the engine knows how to extract filename
func IsArchive(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip", ".rar", ".txz", ".xz":
		return true
	}
	return false
}

type esSystemList struct {
	Systems []struct {
		Name      string `xml:"name"`
		Path      string `xml:"path"`
		Extension string `xml:"extension"`
	} `xml:"system"`
}

// GenerateExtensions builds rom_extensions.json from an EmulationStation config
func GenerateExtensions(esSystemsPath, outPath string) error {
	data, err := os.ReadFile(esSystemsPath)
	if err != nil {
		return err
	}
	var list esSystemList
	if err := xml.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("invalid es_systems.cfg: %w", err)
	}

	rows := make([]SystemExtensions, 0, len(list.Systems))
	for _, s := range list.Systems {
		folder := filepath.Base(strings.TrimRight(s.Path, "/\\"))
		if folder == "" || folder == "." {
			folder = s.Name
		}
		exts := make([]string, 0)
		for _, e := range strings.Fields(s.Extension) {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts = append(exts, e)
		}
		rows = append(rows, SystemExtensions{Folder: folder, Extensions: exts})
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outPath, out, 0644)
}
