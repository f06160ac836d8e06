package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rgsx/internal/integrity"
)

const copyChunk = 32 * 1024

func (p *Processor) extractZip(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	var res Result

	sum, err := integrity.TestZip(ctx, req.ArchivePath)
	if err != nil {
		return res, err
	}
	p.logger.Info("Zip verified", "path", req.ArchivePath, "files", sum.Files, "bytes", sum.TotalSize)

	isXbox := sameDir(req.DestDir, p.opts.XboxDir)
	var isoBefore map[string]bool
	if isXbox {
		isoBefore = collectISOs(req.DestDir)
	}

	if sum.TotalSize == 0 {
		p.logger.Warn("Zip is empty or holds only directories", "path", req.ArchivePath)
		p.removeSource(req.ArchivePath)
		res.Extracted = true
		return res, nil
	}

	zr, err := zip.OpenReader(req.ArchivePath)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(req.DestDir, 0755); err != nil {
		return res, classify(err)
	}

	tracker := newPercentTracker(PhaseExtracting, sum.TotalSize, onProgress)
	buf := make([]byte, copyChunk)
	for _, f := range zr.File {
		target, err := safeJoin(req.DestDir, f.Name)
		if err != nil {
			return res, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return res, classify(err)
			}
			continue
		}
		if err := p.writeZipMember(ctx, f, target, buf, tracker); err != nil {
			return res, err
		}
		res.Files++
	}
	zr.Close()

	if isXbox {
		converted, err := p.xboxHook(ctx, req.DestDir, isoBefore, onProgress)
		if err != nil {
			return res, err
		}
		res.Converted = converted
	}

	p.removeSource(req.ArchivePath)
	p.logger.Info("Zip extracted", "path", req.ArchivePath, "dest", req.DestDir, "files", res.Files)
	res.Extracted = true
	return res, nil
}

func (p *Processor) writeZipMember(ctx context.Context, f *zip.File, target string, buf []byte, tracker *percentTracker) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return classify(err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptArchive, f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return classify(err)
	}

	if err := copyWithProgress(ctx, dst, src, buf, tracker); err != nil {
		dst.Close()
		return classify(err)
	}
	if err := dst.Close(); err != nil {
		return classify(err)
	}
	return classify(os.Chmod(target, 0644))
}

// copyWithProgress copies src to dst, checking ctx between chunks
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, tracker *percentTracker) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			tracker.add(int64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
