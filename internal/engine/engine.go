// Package engine runs downloads end to end: link resolution, streaming,
// post-processing and history updates.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rgsx/internal/analytics"
	"rgsx/internal/config"
	"rgsx/internal/extract"
	"rgsx/internal/filesystem"
	"rgsx/internal/history"
	"rgsx/internal/network"
	"rgsx/internal/provider"
	"rgsx/internal/queue"
)

// Configurable constants
const (
	BufferSize        = 32 * 1024 // pooled read buffer
	DirectChunkSize   = 4096
	ProviderChunkSize = 8192
	ProgressInterval  = 100 * time.Millisecond
	ResponseTimeout   = 30 * time.Second

	ProviderRetries    = 10
	ProviderRetryDelay = 10 * time.Second

	GenericUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
	DefaultReferer   = "https://myrient.erista.me/"

	// ReloadGamesURL asks EmulationStation to rescan its game lists
	ReloadGamesURL = "http://127.0.0.1:1234/reloadgames"

	CanceledMessage = "Download canceled"
)

// Sentinel errors
var (
	ErrAlreadyActive = errors.New("a download for this url is already active")
	ErrCanceled      = errors.New("download canceled")
	ErrUnknownTask   = errors.New("unknown task")
	ErrClosed        = errors.New("engine is shut down")
)

// LinkResolver turns provider links into direct URLs
type LinkResolver interface {
	Resolve(ctx context.Context, rawURL string, creds config.Credentials) (*provider.ResolvedLink, error)
}

// CredentialSource returns the current provider keys
type CredentialSource interface {
	Load() config.Credentials
}

// DestinationResolver maps a platform to its directory
type DestinationResolver interface {
	Resolve(platform string, symlink bool) (string, error)
}

// PostProcessor extracts archives after download
type PostProcessor interface {
	Run(ctx context.Context, req extract.Request, onProgress extract.ProgressFunc) (extract.Result, error)
}

// Settings are the runtime toggles the engine reads per task
type Settings interface {
	GetSymlinkPath() bool
	GetNotifyReload() bool
}

// Deps are the collaborators of an Engine. Stats may be nil.
type Deps struct {
	Hub          *history.Hub
	Paths        DestinationResolver
	Providers    LinkResolver
	Credentials  CredentialSource
	Processor    PostProcessor
	Settings     Settings
	Stats        *analytics.StatsManager
	HTTPClient   *http.Client
	HotlinkHosts []string // hosts that get header variants on 401/403
	ReloadURL    string
	RetryDelay   time.Duration // provider path pause between attempts
}

// Engine is the download orchestrator
type Engine struct {
	logger     *slog.Logger
	hub        *history.Hub
	paths      DestinationResolver
	providers  LinkResolver
	creds      CredentialSource
	processor  PostProcessor
	settings   Settings
	stats      *analytics.StatsManager
	downloader *Downloader
	reloadURL  string
	retryDelay time.Duration

	ctx       context.Context
	cancelAll context.CancelFunc
	closed    atomic.Bool

	queue           *queue.DownloadQueue
	scheduler       *queue.SmartScheduler
	activeDownloads sync.Map // map[string]*activeDownloadInfo

	// Concurrency Control
	maxConcurrent    int
	runningDownloads int
	workerMutex      sync.Mutex
	workerDone       chan struct{}
	tasks            sync.WaitGroup

	bandwidthManager *network.BandwidthManager
}

// activeDownloadInfo is the cancellation registry entry of a task
type activeDownloadInfo struct {
	Cancel context.CancelFunc
	Done   chan struct{}
	ctx    context.Context
	job    *queue.Job
	result Result // written once before Done is closed
}

// NewEngine creates an engine and starts its queue worker
func NewEngine(logger *slog.Logger, deps Deps) *Engine {
	client := deps.HTTPClient
	if client == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: ResponseTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			DisableCompression:    true, // We want raw bytes
		}
		client = &http.Client{Transport: transport}
	}
	hotlink := deps.HotlinkHosts
	if hotlink == nil {
		hotlink = []string{"archive.org"}
	}
	reloadURL := deps.ReloadURL
	if reloadURL == "" {
		reloadURL = ReloadGamesURL
	}
	retryDelay := deps.RetryDelay
	if retryDelay <= 0 {
		retryDelay = ProviderRetryDelay
	}

	bandwidth := network.NewBandwidthManager()
	q := queue.NewDownloadQueue()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		logger:           logger,
		hub:              deps.Hub,
		paths:            deps.Paths,
		providers:        deps.Providers,
		creds:            deps.Credentials,
		processor:        deps.Processor,
		settings:         deps.Settings,
		stats:            deps.Stats,
		downloader:       NewDownloader(logger, client, bandwidth, filesystem.NewAllocator(), hotlink),
		reloadURL:        reloadURL,
		retryDelay:       retryDelay,
		ctx:              ctx,
		cancelAll:        cancel,
		queue:            q,
		scheduler:        queue.NewSmartScheduler(logger, q),
		maxConcurrent:    config.DefaultMaxConcurrent,
		workerDone:       make(chan struct{}),
		bandwidthManager: bandwidth,
	}

	go e.queueWorker()
	return e
}

// Shutdown cancels queued and running tasks and waits up to timeout for workers to finish
func (e *Engine) Shutdown(timeout time.Duration) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("Engine shutting down...")

	for _, job := range e.queue.GetAll() {
		e.RequestCancel(job.ID)
	}
	e.cancelAll()
	e.queue.Close()
	<-e.workerDone

	finished := make(chan struct{})
	go func() {
		e.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		e.logger.Info("Engine shutdown complete")
		return nil
	case <-time.After(timeout):
		e.logger.Warn("Engine shutdown timed out with tasks still running")
		return errors.New("timed out waiting for running downloads")
	}
}

// SetMaxConcurrent sets the maximum number of concurrent downloads (1..10)
func (e *Engine) SetMaxConcurrent(n int) {
	e.workerMutex.Lock()
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	e.maxConcurrent = n
	e.workerMutex.Unlock()
	// A larger cap may let queued jobs start
	e.queue.Broadcast()
}

// MaxConcurrent returns the current cap
func (e *Engine) MaxConcurrent() int {
	e.workerMutex.Lock()
	defer e.workerMutex.Unlock()
	return e.maxConcurrent
}

// Running returns how many tasks hold a worker slot
func (e *Engine) Running() int {
	e.workerMutex.Lock()
	defer e.workerMutex.Unlock()
	return e.runningDownloads
}

// SetGlobalLimit sets the global download speed limit in bytes per second
func (e *Engine) SetGlobalLimit(bytesPerSec int) {
	e.bandwidthManager.SetLimit(bytesPerSec)
}

// SetHostLimits replaces the per-host concurrency limits
func (e *Engine) SetHostLimits(limits map[string]int) {
	e.scheduler.SetHostLimits(limits)
}

// HostLimits returns the per-host concurrency limits
func (e *Engine) HostLimits() map[string]int {
	return e.scheduler.HostLimits()
}

// Queued returns the jobs waiting for a worker slot
func (e *Engine) Queued() []*queue.Job {
	return e.queue.GetAll()
}
