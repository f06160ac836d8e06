package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"rgsx/internal/extract"
	"rgsx/internal/filesystem"
	"rgsx/internal/history"
	"rgsx/internal/integrity"
	"rgsx/internal/provider"
	"rgsx/internal/queue"
	"rgsx/internal/storage"
)

// queueWorker hands queued jobs to task goroutines while slots are free
func (e *Engine) queueWorker() {
	defer close(e.workerDone)
	for {
		// Read the version first so a push between GetNextTask and WaitChange is not lost
		seen := e.queue.Version()

		e.workerMutex.Lock()
		job := e.scheduler.GetNextTask(e.runningDownloads, e.maxConcurrent)
		if job != nil {
			e.runningDownloads++
		}
		e.workerMutex.Unlock()

		if job == nil {
			if !e.queue.WaitChange(seen) {
				return
			}
			continue
		}

		val, ok := e.activeDownloads.Load(job.ID)
		if !ok {
			// Canceled between pop and dispatch
			e.releaseSlot(nil)
			continue
		}

		e.scheduler.OnTaskStarted(job)
		e.tasks.Add(1)
		go e.runTask(val.(*activeDownloadInfo))
	}
}

func (e *Engine) releaseSlot(job *queue.Job) {
	e.workerMutex.Lock()
	e.runningDownloads--
	e.workerMutex.Unlock()
	if job != nil {
		e.scheduler.OnTaskCompleted(job)
	} else {
		e.queue.Broadcast()
	}
}

func (e *Engine) runTask(info *activeDownloadInfo) {
	defer e.tasks.Done()
	job := info.job

	res := e.safeExecute(info.ctx, job)
	e.hub.Publish(history.Update{
		TaskID:   job.ID,
		URL:      job.URL,
		Status:   res.Status,
		Message:  res.Message,
		Provider: res.Provider,
		RawError: res.RawError,
	})
	e.record(job, res)

	e.logger.Info("Download finished", "id", job.ID, "status", res.Status, "message", res.Message)
	e.releaseSlot(job)
	e.finish(info, res)
}

// safeExecute turns a panic in the pipeline into an error result
func (e *Engine) safeExecute(ctx context.Context, job *queue.Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Download task panicked", "id", job.ID, "panic", r)
			res = Result{
				TaskID:   job.ID,
				Status:   history.StatusError,
				Message:  fmt.Sprintf("Error downloading %s: internal error", job.GameName),
				RawError: fmt.Sprint(r),
			}
		}
	}()
	return e.executeTask(ctx, job)
}

// executeTask runs resolve, download and post-process for one job
func (e *Engine) executeTask(ctx context.Context, job *queue.Job) Result {
	res := Result{TaskID: job.ID}
	canceled := func() Result {
		res.Status = history.StatusCanceled
		res.Message = CanceledMessage
		return res
	}
	failed := func(msg string, err error) Result {
		res.Status = history.StatusError
		res.Message = msg
		res.RawError = err.Error()
		return res
	}

	if ctx.Err() != nil {
		return canceled()
	}
	e.hub.Publish(history.Update{TaskID: job.ID, URL: job.URL, Status: history.StatusDownloading})

	destDir, err := e.paths.Resolve(job.Platform, e.settings.GetSymlinkPath())
	if err != nil {
		return failed(fmt.Sprintf("Error downloading %s: %v", job.GameName, err), err)
	}

	req := DownloadRequest{
		TaskID:    job.ID,
		URL:       job.URL,
		DestPath:  filepath.Join(destDir, filesystem.SanitizeFilename(job.GameName)),
		ChunkSize: DirectChunkSize,
		Retries:   1,
	}

	viaProvider := provider.IsProviderURL(job.URL)
	if viaProvider {
		link, err := e.providers.Resolve(ctx, job.URL, e.creds.Load())
		if err != nil {
			if ctx.Err() != nil {
				return canceled()
			}
			var perr *provider.Error
			if errors.As(err, &perr) {
				res.Provider = perr.Provider
				res.Status = history.StatusError
				res.Message = perr.Error()
				res.RawError = perr.Raw
				return res
			}
			return failed(fmt.Sprintf("Error downloading %s: %v", job.GameName, err), err)
		}
		res.Provider = link.Provider
		e.hub.Publish(history.Update{TaskID: job.ID, URL: job.URL, Provider: link.Provider})

		req.URL = link.URL
		if name := filesystem.SanitizeFilename(link.Filename); name != "" {
			req.DestPath = filepath.Join(destDir, name)
		}
		req.ChunkSize = ProviderChunkSize
		req.Retries = ProviderRetries
		req.RetryDelay = e.retryDelay
	}

	var lastSpeed int64
	n, err := e.downloader.Run(ctx, req, func(downloaded, total int64, speedMBps float64) {
		e.hub.Publish(history.Update{
			TaskID:     job.ID,
			URL:        job.URL,
			Downloaded: downloaded,
			Total:      total,
			Speed:      speedMBps,
		})
		if e.stats != nil {
			cur := int64(speedMBps * 1024 * 1024)
			e.stats.AddSpeed(cur - lastSpeed)
			lastSpeed = cur
		}
	})
	if e.stats != nil {
		e.stats.AddSpeed(-lastSpeed)
	}
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			return canceled()
		}
		return failed(fmt.Sprintf("Error downloading %s: %v", job.GameName, err), err)
	}
	res.Bytes = n
	res.Path = req.DestPath

	if job.ForceExtract {
		xres, err := e.processor.Run(ctx, extract.Request{ArchivePath: req.DestPath, DestDir: destDir}, func(phase extract.Phase, pct int) {
			status := history.StatusExtracting
			if phase == extract.PhaseConverting {
				status = history.StatusConverting
			}
			e.hub.Publish(history.Update{TaskID: job.ID, URL: job.URL, Status: status, Percent: pct})
		})
		if err != nil {
			if ctx.Err() != nil {
				return canceled()
			}
			return failed(fmt.Sprintf("Extraction failed: %v", err), err)
		}
		if xres.Extracted {
			res.Path = destDir
			res.Message = fmt.Sprintf("Downloaded and extracted %s", job.GameName)
		} else {
			res.Message = fmt.Sprintf("Downloaded %s", job.GameName)
		}
	} else {
		res.Message = fmt.Sprintf("Downloaded %s", job.GameName)
	}

	if !viaProvider && runtime.GOOS == "linux" && e.settings.GetNotifyReload() {
		e.notifyReload()
	}
	res.Status = history.StatusOK
	return res
}

// notifyReload asks EmulationStation to rescan. Failures are only logged.
func (e *Engine) notifyReload() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.reloadURL, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.logger.Debug("Game list reload request failed", "error", err)
		return
	}
	resp.Body.Close()
}

// record feeds the stats tables and archives the finished task
func (e *Engine) record(job *queue.Job, res Result) {
	if e.stats == nil {
		return
	}
	var checksum string
	if res.Status == history.StatusOK {
		e.stats.TrackDownloadBytes(res.Bytes)
		e.stats.TrackFileCompleted()
		if info, err := os.Stat(res.Path); err == nil && info.Mode().IsRegular() {
			if sum, err := integrity.CalculateHash(res.Path, "sha256"); err == nil {
				checksum = sum
			} else {
				e.logger.Warn("Checksum failed", "id", job.ID, "error", err)
			}
		}
	}
	e.stats.RecordFinished(storage.DownloadRecord{
		ID:         job.ID,
		URL:        job.URL,
		Platform:   job.Platform,
		GameName:   job.GameName,
		Status:     string(res.Status),
		Provider:   res.Provider,
		DestPath:   res.Path,
		TotalSize:  res.Bytes,
		Extracted:  job.ForceExtract && res.Status == history.StatusOK,
		Checksum:   checksum,
		Message:    res.Message,
		CreatedAt:  job.CreatedAt.Format(history.TimestampLayout),
		FinishedAt: history.Now(),
	})
}
