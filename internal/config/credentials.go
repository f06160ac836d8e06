package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Credentials holds the provider API keys. Empty means not configured.
type Credentials struct {
	OneFichier string
	AllDebrid  string
	RealDebrid string
}

// Any reports whether at least one provider key is set
func (c Credentials) Any() bool {
	return c.OneFichier != "" || c.AllDebrid != "" || c.RealDebrid != ""
}

type keyFile struct {
	path    string
	modTime time.Time
	value   string
}

// CredentialStore reads the three key files and re-reads a file only when its mtime changes
type CredentialStore struct {
	mu     sync.Mutex
	logger *slog.Logger
	files  [3]*keyFile
}

func NewCredentialStore(p Paths, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		logger: logger,
		files: [3]*keyFile{
			{path: p.OneFichierKey},
			{path: p.AllDebridKey},
			{path: p.RealDebridKey},
		},
	}
}

// Load returns the current keys, refreshing any file that changed on disk.
// The 1fichier key file is created empty when missing so users can find it.
func (s *CredentialStore) Load() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureFile(s.files[0].path)
	for _, f := range s.files {
		s.refresh(f)
	}
	return Credentials{
		OneFichier: s.files[0].value,
		AllDebrid:  s.files[1].value,
		RealDebrid: s.files[2].value,
	}
}

func (s *CredentialStore) refresh(f *keyFile) {
	info, err := os.Stat(f.path)
	if err != nil {
		f.value = ""
		f.modTime = time.Time{}
		return
	}
	if info.ModTime().Equal(f.modTime) {
		return
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		s.logger.Error("Failed to read API key", "path", f.path, "error", err)
		f.value = ""
		return
	}
	f.value = strings.TrimSpace(string(data))
	f.modTime = info.ModTime()
	s.logger.Debug("API key loaded", "path", filepath.Base(f.path), "present", f.value != "")
}

func (s *CredentialStore) ensureFile(path string) {
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.logger.Error("Failed to create key directory", "error", err)
		return
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		s.logger.Error("Failed to create API key file", "path", path, "error", err)
		return
	}
	s.logger.Info("API key file created", "path", path)
}
