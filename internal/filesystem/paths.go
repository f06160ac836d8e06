package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNotWritable is returned when the destination directory rejects writes
var ErrNotWritable = fmt.Errorf("destination not writable: %w", fs.ErrPermission)

var biosAliases = map[string]struct{}{
	"bios":              {},
	"- bios -":          {},
	"- bios by tmctv -": {},
}

// IsBIOS reports whether platform names the BIOS bundle pseudo-platform
func IsBIOS(platform string) bool {
	_, ok := biosAliases[strings.ToLower(strings.TrimSpace(platform))]
	return ok
}

// FolderLookup maps a platform name to its declared folder ("" when unknown)
type FolderLookup interface {
	FolderFor(platform string) string
}

// PathResolver computes and prepares per-platform destination directories
type PathResolver struct {
	romsRoot string
	biosRoot string
	catalog  FolderLookup
}

func NewPathResolver(romsRoot, biosRoot string, catalog FolderLookup) *PathResolver {
	return &PathResolver{romsRoot: romsRoot, biosRoot: biosRoot, catalog: catalog}
}

// FolderName returns the folder used for platform under the roms root
func (r *PathResolver) FolderName(platform string) string {
	if r.catalog != nil {
		if folder := r.catalog.FolderFor(platform); folder != "" {
			return folder
		}
	}
	return strings.ReplaceAll(strings.ToLower(platform), " ", "")
}

// Resolve returns the destination directory for platform, creating it if needed.
// With symlink mode the folder name is appended twice.
func (r *PathResolver) Resolve(platform string, symlink bool) (string, error) {
	var dir string
	if IsBIOS(platform) {
		dir = r.biosRoot
	} else {
		folder := r.FolderName(platform)
		dir = filepath.Join(r.romsRoot, folder)
		if symlink {
			dir = filepath.Join(dir, folder)
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%w: %s", ErrNotWritable, dir)
		}
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := probeWritable(dir); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotWritable, dir)
	}
	return dir, nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".rgsx-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFilename replaces characters that are invalid in file names
func SanitizeFilename(name string) string {
	return strings.TrimSpace(unsafeChars.ReplaceAllString(name, "_"))
}
