package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rgsx/internal/filesystem"
	"rgsx/internal/network"
)

// Buffer pool for reading chunks
var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

// ProgressFunc receives byte counts and the instant speed in MB/s
type ProgressFunc func(downloaded, total int64, speedMBps float64)

// DownloadRequest is one file to stream to disk
type DownloadRequest struct {
	TaskID     string
	URL        string
	DestPath   string
	ChunkSize  int
	Retries    int // total attempts, 1 means no retry
	RetryDelay time.Duration
}

// Downloader streams HTTP bodies to files
type Downloader struct {
	logger       *slog.Logger
	client       *http.Client
	bandwidth    *network.BandwidthManager
	allocator    *filesystem.Allocator
	hotlinkHosts []string
}

func NewDownloader(logger *slog.Logger, client *http.Client, bandwidth *network.BandwidthManager, allocator *filesystem.Allocator, hotlinkHosts []string) *Downloader {
	return &Downloader{
		logger:       logger,
		client:       client,
		bandwidth:    bandwidth,
		allocator:    allocator,
		hotlinkHosts: hotlinkHosts,
	}
}

// localError marks failures on our side that a new attempt cannot fix
type localError struct{ err error }

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

// Run downloads req.URL into req.DestPath and returns the bytes written.
// The partial file is removed on failure and on cancellation.
func (d *Downloader) Run(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (int64, error) {
	attempts := req.Retries
	if attempts < 1 {
		attempts = 1
	}
	if req.ChunkSize <= 0 || req.ChunkSize > BufferSize {
		req.ChunkSize = DirectChunkSize
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		n, err := d.attempt(ctx, req, onProgress)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, ErrCanceled) || ctx.Err() != nil {
			return 0, ErrCanceled
		}
		lastErr = err

		var local *localError
		if errors.As(err, &local) {
			return 0, local.err
		}
		if attempt == attempts {
			break
		}
		d.logger.Warn("Download attempt failed, retrying", "id", req.TaskID, "attempt", attempt, "error", err)
		select {
		case <-time.After(req.RetryDelay):
		case <-ctx.Done():
			return 0, ErrCanceled
		}
	}
	return 0, friendlyError(lastErr)
}

func (d *Downloader) attempt(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (written int64, err error) {
	resp, err := d.open(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if err := d.allocator.CheckDiskSpace(req.DestPath, total); err != nil {
		return 0, &localError{err}
	}
	if err := os.MkdirAll(filepath.Dir(req.DestPath), 0755); err != nil {
		return 0, &localError{err}
	}
	file, err := os.Create(req.DestPath)
	if err != nil {
		return 0, &localError{err}
	}
	defer func() {
		if err != nil {
			file.Close()
			if rmErr := os.Remove(req.DestPath); rmErr != nil && !os.IsNotExist(rmErr) {
				d.logger.Warn("Failed to remove partial file", "path", req.DestPath, "error", rmErr)
			}
		}
	}()

	onProgress(0, total, 0)

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)
	buf := (*bufPtr)[:req.ChunkSize]

	lastEmit := time.Now()
	var lastBytes int64
	for {
		if ctx.Err() != nil {
			return written, ErrCanceled
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := d.bandwidth.Wait(ctx, n); err != nil {
				return written, ErrCanceled
			}
			if _, werr := file.Write(buf[:n]); werr != nil {
				return written, &localError{werr}
			}
			written += int64(n)

			if elapsed := time.Since(lastEmit); elapsed >= ProgressInterval {
				speed := float64(written-lastBytes) / elapsed.Seconds() / (1024 * 1024)
				onProgress(written, total, speed)
				lastEmit = time.Now()
				lastBytes = written
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ErrCanceled
			}
			return written, readErr
		}
	}

	if total > 0 && written < total {
		return written, io.ErrUnexpectedEOF
	}
	if err := file.Close(); err != nil {
		return written, &localError{err}
	}
	if err := os.Chmod(req.DestPath, 0644); err != nil {
		return written, &localError{err}
	}
	onProgress(written, total, 0)
	return written, nil
}

// open sends the request. Hotlink-protected hosts get the next header variant
// whenever the previous one is answered with 401 or 403.
func (d *Downloader) open(ctx context.Context, req DownloadRequest) (*http.Response, error) {
	variants := []headerVariant{defaultVariant}
	if d.isHotlinkHost(req.URL) {
		variants = hotlinkVariants
	}

	for i, variant := range variants {
		httpReq, err := newRequest(ctx, req.URL, variant)
		if err != nil {
			return nil, &localError{fmt.Errorf("invalid URL: %w", err)}
		}
		resp, err := d.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if i > 0 {
				d.logger.Info("Header variant accepted", "id", req.TaskID, "variant", variant.name)
			}
			return resp, nil
		}
		resp.Body.Close()

		denied := resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
		if denied && i < len(variants)-1 {
			d.logger.Debug("Request denied, trying next header variant", "id", req.TaskID, "status", resp.StatusCode, "variant", variant.name)
			continue
		}
		return nil, &HTTPStatusError{Status: resp.StatusCode}
	}
	return nil, errors.New("no header variant available")
}

func (d *Downloader) isHotlinkHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range d.hotlinkHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
