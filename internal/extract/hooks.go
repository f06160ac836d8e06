package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

const ps3RenameAttempts = 3

// ps3Hook renames the single freshly extracted game folder to <name>.ps3.
// Zero or several candidates only log a warning.
func (p *Processor) ps3Hook(ctx context.Context, dest string) (string, error) {
	if err := sleep(ctx, p.settleDelay); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", classify(err)
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasSuffix(e.Name(), ".ps3") {
			candidates = append(candidates, e.Name())
		}
	}

	switch len(candidates) {
	case 0:
		p.logger.Warn("No PS3 folder to rename", "dest", dest)
		return "", nil
	case 1:
	default:
		p.logger.Warn("Several PS3 folders found, not renaming", "dest", dest, "folders", candidates)
		return "", nil
	}

	oldPath := filepath.Join(dest, candidates[0])
	newPath := oldPath + ".ps3"

	var lastErr error
	for attempt := 1; attempt <= ps3RenameAttempts; attempt++ {
		fixPermissions(oldPath)
		if _, err := os.Stat(newPath); err == nil {
			os.RemoveAll(newPath)
		}
		if lastErr = os.Rename(oldPath, newPath); lastErr == nil {
			p.logger.Info("PS3 folder renamed", "from", oldPath, "to", newPath)
			return newPath, nil
		}
		p.logger.Warn("PS3 rename failed", "attempt", attempt, "error", lastErr)
		if attempt < ps3RenameAttempts {
			if err := sleep(ctx, p.retryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("rename %s to %s: %w", oldPath, newPath, classify(lastErr))
}

// fixPermissions makes a tree readable before it is moved; failures are ignored
func fixPermissions(root string) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		if d.IsDir() {
			os.Chmod(path, 0755)
		} else {
			os.Chmod(path, 0644)
		}
		return nil
	})
}

// collectISOs returns the absolute paths of every .iso under root
func collectISOs(root string) map[string]bool {
	isos := make(map[string]bool)
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".iso") {
			if abs, err := filepath.Abs(path); err == nil {
				isos[abs] = true
			}
		}
		return nil
	})
	return isos
}

// xboxHook repacks every ISO that appeared during extraction with xdvdfs.
// Any failure fails the task.
func (p *Processor) xboxHook(ctx context.Context, dest string, before map[string]bool, onProgress ProgressFunc) (int, error) {
	var fresh []string
	for iso := range collectISOs(dest) {
		if !before[iso] {
			fresh = append(fresh, iso)
		}
	}
	if len(fresh) == 0 {
		p.logger.Warn("No new ISO found for Xbox conversion", "dest", dest)
		return 0, nil
	}
	sort.Strings(fresh)

	if err := sleep(ctx, p.settleDelay); err != nil {
		return 0, err
	}

	onProgress(PhaseConverting, 0)
	for i, src := range fresh {
		if err := p.convertXboxISO(ctx, src); err != nil {
			return i, err
		}
		onProgress(PhaseConverting, (i+1)*100/len(fresh))
	}
	return len(fresh), nil
}

func (p *Processor) convertXboxISO(ctx context.Context, src string) error {
	out := strings.TrimSuffix(src, filepath.Ext(src)) + "_xbox.iso"
	p.logger.Debug("Converting Xbox ISO", "src", src, "out", out)

	var stderr bytes.Buffer
	cmd := p.execCommand(ctx, p.opts.Xdvdfs, "pack", src, out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("%w: xdvdfs: %v", ErrToolUnavailable, err)
		}
		return fmt.Errorf("iso conversion failed: %s", strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("iso conversion produced no output: %s", filepath.Base(out))
	}
	if err := os.Remove(src); err != nil {
		return classify(err)
	}
	if err := os.Rename(out, src); err != nil {
		return classify(err)
	}
	p.logger.Info("Xbox ISO converted", "path", src)
	return nil
}
