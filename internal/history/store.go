package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var requiredKeys = []string{"platform", "game_name", "status"}

// Store reads and writes history.json
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted entries. A missing, empty or malformed file, or any
// entry lacking a required key, yields an empty list.
func (s *Store) Load() []Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Failed to read history", "path", s.path, "error", err)
		}
		return []Entry{}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.logger.Warn("History file is empty", "path", s.path)
		return []Entry{}
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("History file is not a valid list", "path", s.path, "error", err)
		return []Entry{}
	}
	for i, obj := range raw {
		for _, key := range requiredKeys {
			if _, ok := obj[key]; !ok {
				s.logger.Warn("Invalid history entry", "index", i, "missing", key)
				return []Entry{}
			}
		}
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("Failed to decode history entries", "error", err)
		return []Entry{}
	}
	return entries
}

// Save writes entries atomically: temp file, fsync, rename
func (s *Store) Save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create history dir: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp history: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}
