package extract

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// countingReader tracks how much of the compressed source has been consumed
type countingReader struct {
	r       io.Reader
	tracker *percentTracker
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.tracker.add(int64(n))
	return n, err
}

func openXz(path string, onProgress ProgressFunc) (*os.File, *xz.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, classify(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	tracker := newPercentTracker(PhaseExtracting, info.Size(), onProgress)
	zr, err := xz.NewReader(bufio.NewReader(&countingReader{r: f, tracker: tracker}))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return f, zr, nil
}

func (p *Processor) extractTarXz(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	var res Result
	f, zr, err := openXz(req.ArchivePath, onProgress)
	if err != nil {
		return res, err
	}
	defer f.Close()

	if err := os.MkdirAll(req.DestDir, 0755); err != nil {
		return res, classify(err)
	}

	tr := tar.NewReader(zr)
	buf := make([]byte, copyChunk)
	noop := &percentTracker{emit: func(Phase, int) {}}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}

		target, err := safeJoin(req.DestDir, hdr.Name)
		if err != nil {
			return res, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return res, classify(err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return res, classify(err)
			}
			if err := writeFile(ctx, target, tr, buf, noop); err != nil {
				return res, corruptOr(err)
			}
			res.Files++
		default:
			p.logger.Debug("Skipping tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	f.Close()
	p.removeSource(req.ArchivePath)
	p.logger.Info("Tar.xz extracted", "path", req.ArchivePath, "dest", req.DestDir, "files", res.Files)
	res.Extracted = true
	return res, nil
}

// decompressXz turns game.iso.xz into game.iso inside DestDir
func (p *Processor) decompressXz(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	var res Result
	f, zr, err := openXz(req.ArchivePath, onProgress)
	if err != nil {
		return res, err
	}
	defer f.Close()

	name := filepath.Base(req.ArchivePath)
	name = name[:len(name)-len(filepath.Ext(name))]
	if strings.TrimSpace(name) == "" {
		return res, fmt.Errorf("%w: cannot derive output name from %s", ErrCorruptArchive, req.ArchivePath)
	}
	if err := os.MkdirAll(req.DestDir, 0755); err != nil {
		return res, classify(err)
	}

	target := filepath.Join(req.DestDir, name)
	if err := writeFile(ctx, target, zr, make([]byte, copyChunk), &percentTracker{emit: func(Phase, int) {}}); err != nil {
		os.Remove(target)
		return res, corruptOr(err)
	}

	f.Close()
	p.removeSource(req.ArchivePath)
	res.Files = 1
	res.Extracted = true
	return res, nil
}

func writeFile(ctx context.Context, target string, src io.Reader, buf []byte, tracker *percentTracker) error {
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return classify(err)
	}
	if err := copyWithProgress(ctx, dst, src, buf, tracker); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return classify(err)
	}
	return classify(os.Chmod(target, 0644))
}

// corruptOr keeps cancellation and permission errors, anything else is a bad stream
func corruptOr(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrCorruptArchive):
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
}
