package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var rarListLine = regexp.MustCompile(`^\s*(\S+)\s+(\d+)\s+\d*\s*(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2})\s+(.+)$`)

type rarEntry struct {
	Name string
	Size int64
}

// parseRarListing reads the file table printed by `unrar l -v`.
// Rows sit between two lines starting with "----"; directories are skipped.
func parseRarListing(out string) ([]rarEntry, int64) {
	var (
		entries []rarEntry
		total   int64
		inTable bool
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "----") {
			inTable = !inTable
			continue
		}
		if !inTable {
			continue
		}
		m := rarListLine.FindStringSubmatch(line)
		if m == nil || isRarDir(m[1]) {
			continue
		}
		size, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, rarEntry{Name: strings.TrimSpace(m[4]), Size: size})
		total += size
	}
	return entries, total
}

// isRarDir recognises both the Windows ("...D...") and Unix ("drwx...") attribute styles
func isRarDir(attrs string) bool {
	return strings.Contains(attrs, "D") || strings.HasPrefix(attrs, "d")
}

func (p *Processor) extractRar(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	var res Result
	// The archive never survives, whatever the outcome
	defer p.removeSource(req.ArchivePath)

	if err := os.MkdirAll(req.DestDir, 0755); err != nil {
		return res, classify(err)
	}
	if err := p.checkUnrar(ctx); err != nil {
		return res, err
	}

	var stdout, stderr bytes.Buffer
	list := p.execCommand(ctx, p.opts.Unrar, "l", "-v", req.ArchivePath)
	list.Stdout, list.Stderr = &stdout, &stderr
	if err := list.Run(); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: rar listing failed: %s", ErrCorruptArchive, strings.TrimSpace(stderr.String()))
	}
	p.logger.Debug("unrar listing", "path", req.ArchivePath, "output", stdout.String())

	entries, total := parseRarListing(stdout.String())
	if total == 0 {
		return res, fmt.Errorf("%w: rar is empty or its listing could not be parsed", ErrCorruptArchive)
	}
	p.logger.Info("Extracting rar", "path", req.ArchivePath, "files", len(entries), "bytes", total)
	onProgress(PhaseExtracting, 0)

	stderr.Reset()
	unpack := p.execCommand(ctx, p.opts.Unrar, "x", "-y", req.ArchivePath, req.DestDir+string(filepath.Separator))
	unpack.Stderr = &stderr
	if err := unpack.Run(); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("rar extraction failed: %s", strings.TrimSpace(stderr.String()))
	}

	for i, e := range entries {
		target, err := safeJoin(req.DestDir, e.Name)
		if err != nil {
			return res, err
		}
		info, err := os.Stat(target)
		if err != nil {
			p.logger.Warn("Listed file missing after extraction", "file", e.Name)
			continue
		}
		if info.IsDir() {
			continue
		}
		if err := os.Chmod(target, 0644); err != nil {
			return res, classify(err)
		}
		res.Files++
		onProgress(PhaseExtracting, (i+1)*100/len(entries))
	}

	if sameDir(req.DestDir, p.opts.PS3Dir) {
		renamed, err := p.ps3Hook(ctx, req.DestDir)
		if err != nil {
			return res, err
		}
		res.Renamed = renamed
	}

	if err := chmodDirs(req.DestDir); err != nil {
		return res, classify(err)
	}

	p.logger.Info("Rar extracted", "path", req.ArchivePath, "dest", req.DestDir, "files", res.Files)
	res.Extracted = true
	return res, nil
}

// checkUnrar runs the bare binary; it prints usage and exits 0 or 1 when present
func (p *Processor) checkUnrar(ctx context.Context) error {
	cmd := p.execCommand(ctx, p.opts.Unrar)
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return fmt.Errorf("%w: unrar: %v", ErrToolUnavailable, err)
}

func chmodDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root {
			return os.Chmod(path, 0755)
		}
		return nil
	})
}
