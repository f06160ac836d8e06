package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"rgsx/internal/history"
	"rgsx/internal/queue"

	"github.com/google/uuid"
)

// StartRequest describes a download asked for by a front-end
type StartRequest struct {
	URL          string
	Platform     string
	GameName     string
	ForceExtract bool
}

// Result is the terminal outcome of a task
type Result struct {
	TaskID   string         `json:"task_id"`
	Status   history.Status `json:"status"`
	Message  string         `json:"message"`
	Path     string         `json:"path,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Bytes    int64          `json:"bytes"`
	RawError string         `json:"raw_error,omitempty"`
}

// Start registers a task and queues it. It fails with ErrAlreadyActive when
// the URL already has a task in flight.
func (e *Engine) Start(req StartRequest) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	if strings.TrimSpace(req.URL) == "" {
		return "", fmt.Errorf("empty URL")
	}
	if strings.TrimSpace(req.Platform) == "" {
		return "", fmt.Errorf("empty platform")
	}
	if req.GameName == "" {
		req.GameName = nameFromURL(req.URL)
	}

	taskID := uuid.New().String()
	err := e.hub.Append(history.Entry{
		TaskID:       taskID,
		Platform:     req.Platform,
		GameName:     req.GameName,
		Status:       history.StatusQueued,
		URL:          req.URL,
		ForceExtract: req.ForceExtract,
	})
	if errors.Is(err, history.ErrActive) {
		return "", ErrAlreadyActive
	}
	if err != nil {
		return "", err
	}

	job := &queue.Job{
		ID:           taskID,
		URL:          req.URL,
		Platform:     req.Platform,
		GameName:     req.GameName,
		ForceExtract: req.ForceExtract,
		CreatedAt:    time.Now(),
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.activeDownloads.Store(taskID, &activeDownloadInfo{
		Cancel: cancel,
		Done:   make(chan struct{}),
		ctx:    ctx,
		job:    job,
	})
	e.queue.Push(job)

	e.logger.Info("Download queued", "id", taskID, "url", req.URL, "platform", req.Platform, "force_extract", req.ForceExtract)
	return taskID, nil
}

// RequestCancel asks a task to stop. Unknown and finished tasks are ignored;
// a queued task ends without ever starting.
func (e *Engine) RequestCancel(taskID string) error {
	val, ok := e.activeDownloads.Load(taskID)
	if !ok {
		return nil
	}
	info := val.(*activeDownloadInfo)
	info.Cancel()

	if job, removed := e.queue.Remove(taskID); removed {
		e.logger.Info("Queued download canceled", "id", taskID)
		e.hub.Publish(history.Update{TaskID: job.ID, URL: job.URL, Status: history.StatusCanceled, Message: CanceledMessage})
		e.finish(info, Result{TaskID: taskID, Status: history.StatusCanceled, Message: CanceledMessage})
		return nil
	}
	e.logger.Info("Cancel requested", "id", taskID)
	return nil
}

// CancelByURL cancels the active task downloading rawURL, if any
func (e *Engine) CancelByURL(rawURL string) (string, bool) {
	entry, ok := e.hub.ActiveByURL(rawURL)
	if !ok {
		return "", false
	}
	e.RequestCancel(entry.TaskID)
	return entry.TaskID, true
}

// Wait blocks until the task is terminal or ctx ends
func (e *Engine) Wait(ctx context.Context, taskID string) (Result, error) {
	val, ok := e.activeDownloads.Load(taskID)
	if !ok {
		entry, found := e.hub.Get(taskID)
		if !found || !entry.Status.Terminal() {
			return Result{}, ErrUnknownTask
		}
		return Result{
			TaskID:   taskID,
			Status:   entry.Status,
			Message:  entry.Message,
			Provider: entry.Provider,
			Bytes:    entry.DownloadedSize,
			RawError: entry.RawError,
		}, nil
	}

	info := val.(*activeDownloadInfo)
	select {
	case <-info.Done:
		return info.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish stores the result and releases the registry entry
func (e *Engine) finish(info *activeDownloadInfo, res Result) {
	info.result = res
	e.activeDownloads.Delete(res.TaskID)
	info.Cancel()
	close(info.Done)
}

// nameFromURL derives a file name from the last path segment of rawURL
func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
