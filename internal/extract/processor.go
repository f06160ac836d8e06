// Package extract unpacks downloaded archives and applies the platform hooks
// (Xbox ISO repack, PS3 folder rename).
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"rgsx/internal/integrity"
)

var (
	// ErrCorruptArchive is returned when an archive fails its integrity check
	ErrCorruptArchive = integrity.ErrCorruptArchive
	// ErrPermissionDenied is returned when the destination cannot be written
	ErrPermissionDenied = errors.New("permission denied")
	// ErrToolUnavailable is returned when unrar or xdvdfs cannot be run
	ErrToolUnavailable = errors.New("external tool unavailable")
)

// Phase is reported with every progress callback
type Phase string

const (
	PhaseExtracting Phase = "extracting"
	PhaseConverting Phase = "converting"
)

// ProgressFunc receives the current phase and its percentage
type ProgressFunc func(phase Phase, percent int)

// Request describes one archive to post-process
type Request struct {
	ArchivePath string
	DestDir     string
}

// Result summarises a finished post-process run
type Result struct {
	Extracted bool // false when the archive type is not handled
	Files     int
	Converted int // Xbox ISOs repacked
	Renamed   string
}

// execCommandFunc is a function type for creating exec.Cmd, allowing injection for testing
type execCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

func defaultExecCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, arg...)
}

// Options locates the external tools and the hook directories
type Options struct {
	Unrar   string
	Xdvdfs  string
	PS3Dir  string
	XboxDir string
}

// Processor runs extraction for the engine's workers. It is safe for concurrent use.
type Processor struct {
	logger      *slog.Logger
	opts        Options
	execCommand execCommandFunc

	settleDelay time.Duration // pause before the platform hooks touch the tree
	retryDelay  time.Duration // between PS3 rename attempts
}

func NewProcessor(logger *slog.Logger, opts Options) *Processor {
	if opts.Unrar == "" {
		opts.Unrar = "unrar"
	}
	if opts.Xdvdfs == "" {
		opts.Xdvdfs = "xdvdfs"
	}
	return &Processor{
		logger:      logger,
		opts:        opts,
		execCommand: defaultExecCommand,
		settleDelay: 2 * time.Second,
		retryDelay:  2 * time.Second,
	}
}

// SetExecCommand allows injecting a mock exec.Command for testing
func (p *Processor) SetExecCommand(fn execCommandFunc) {
	p.execCommand = fn
}

// SetDelays overrides the hook settle and retry pauses
func (p *Processor) SetDelays(settle, retry time.Duration) {
	p.settleDelay = settle
	p.retryDelay = retry
}

// Run extracts req.ArchivePath into req.DestDir. Archive types it does not
// handle are left untouched and reported with Result.Extracted false.
func (p *Processor) Run(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	if onProgress == nil {
		onProgress = func(Phase, int) {}
	}
	name := strings.ToLower(filepath.Base(req.ArchivePath))

	switch {
	case strings.HasSuffix(name, ".zip"):
		return p.extractZip(ctx, req, onProgress)
	case strings.HasSuffix(name, ".rar"):
		return p.extractRar(ctx, req, onProgress)
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return p.extractTarXz(ctx, req, onProgress)
	case strings.HasSuffix(name, ".xz"):
		return p.decompressXz(ctx, req, onProgress)
	}

	p.logger.Warn("Unsupported archive type, leaving file as-is", "path", req.ArchivePath)
	return Result{}, nil
}

// safeJoin resolves name under dir and rejects entries escaping it
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: entry %q escapes destination", ErrCorruptArchive, name)
	}
	return target, nil
}

// classify maps filesystem failures to the package's sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) && !errors.Is(err, ErrPermissionDenied) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}

// sameDir compares two directory paths after cleaning
func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// percentTracker emits only when the integer percentage moves
type percentTracker struct {
	phase Phase
	total int64
	done  int64
	last  int
	emit  ProgressFunc
}

func newPercentTracker(phase Phase, total int64, emit ProgressFunc) *percentTracker {
	emit(phase, 0)
	return &percentTracker{phase: phase, total: total, emit: emit}
}

func (t *percentTracker) add(n int64) {
	t.done += n
	if t.total <= 0 {
		return
	}
	pct := int(t.done * 100 / t.total)
	if pct > 100 {
		pct = 100
	}
	if pct > t.last {
		t.last = pct
		t.emit(t.phase, pct)
	}
}

// removeSource deletes the consumed archive, logging instead of failing
func (p *Processor) removeSource(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to remove archive", "path", path, "error", err)
	}
}

// sleep waits d unless ctx ends first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
