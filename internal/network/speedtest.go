package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"rgsx/internal/storage"
)

// SpeedTestResult contains the results of a network speed test
type SpeedTestResult struct {
	DownloadSpeed float64 `json:"download_mbps"`
	UploadSpeed   float64 `json:"upload_mbps"`
	Ping          int64   `json:"ping_ms"`
	Jitter        int64   `json:"jitter_ms"`
	ServerName    string  `json:"server_name"`
	ServerCountry string  `json:"server_country"`
	ISP           string  `json:"isp"`
	Timestamp     string  `json:"timestamp"`
}

// Phase names reported to PhaseCallback
const (
	PhaseConnecting = "connecting"
	PhasePing       = "ping"
	PhaseDownload   = "download"
	PhaseUpload     = "upload"
	PhaseComplete   = "complete"
)

// SpeedTestPhase is the partial result available when a phase starts
type SpeedTestPhase struct {
	Phase        string  `json:"phase"`
	PingMs       int64   `json:"ping_ms"`
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	ServerName   string  `json:"server_name"`
}

// PhaseCallback is called during each phase of the speed test
type PhaseCallback func(phase SpeedTestPhase)

// SpeedTestTimeout bounds a whole run
const SpeedTestTimeout = 60 * time.Second

// ErrOffline is returned when the speed test service cannot be reached
var ErrOffline = errors.New("no internet connection")

// SpeedTestRecorder persists finished runs
type SpeedTestRecorder interface {
	SaveSpeedTest(h storage.SpeedTestHistory) error
}

// RunSpeedTest measures against the closest server, reporting phases to onPhase
// and saving the result to rec when it is non-nil.
func RunSpeedTest(ctx context.Context, onPhase PhaseCallback, rec SpeedTestRecorder) (*SpeedTestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, SpeedTestTimeout)
	defer cancel()

	emit := func(p SpeedTestPhase) {
		if onPhase != nil {
			onPhase(p)
		}
	}
	emit(SpeedTestPhase{Phase: PhaseConnecting})

	user, err := speedtest.FetchUserInfo()
	if err != nil {
		return nil, ErrOffline
	}
	servers, err := speedtest.FetchServers()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch servers: %w", err)
	}
	targets, err := servers.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("no speed test servers available")
	}
	server := targets[0]

	emit(SpeedTestPhase{Phase: PhasePing, ServerName: server.Name})
	if err := server.PingTestContext(ctx, nil); err != nil {
		return nil, phaseError("ping", ctx, err)
	}
	pingMs := server.Latency.Milliseconds()

	emit(SpeedTestPhase{Phase: PhaseDownload, PingMs: pingMs, ServerName: server.Name})
	if err := server.DownloadTestContext(ctx); err != nil {
		return nil, phaseError("download", ctx, err)
	}
	downloadMbps := float64(server.DLSpeed) / 1000 / 1000 * 8

	emit(SpeedTestPhase{Phase: PhaseUpload, PingMs: pingMs, DownloadMbps: downloadMbps, ServerName: server.Name})
	if err := server.UploadTestContext(ctx); err != nil {
		return nil, phaseError("upload", ctx, err)
	}
	uploadMbps := float64(server.ULSpeed) / 1000 / 1000 * 8

	result := &SpeedTestResult{
		DownloadSpeed: downloadMbps,
		UploadSpeed:   uploadMbps,
		Ping:          pingMs,
		Jitter:        server.Jitter.Milliseconds(),
		ServerName:    server.Name,
		ServerCountry: server.Country,
		ISP:           user.Isp,
		Timestamp:     time.Now().Format(time.RFC3339),
	}
	emit(SpeedTestPhase{Phase: PhaseComplete, PingMs: pingMs, DownloadMbps: downloadMbps, UploadMbps: uploadMbps, ServerName: server.Name})

	if rec != nil {
		if err := rec.SaveSpeedTest(result.History()); err != nil {
			return result, fmt.Errorf("failed to save speed test: %w", err)
		}
	}
	return result, nil
}

// History converts the result to its stored form
func (r *SpeedTestResult) History() storage.SpeedTestHistory {
	return storage.SpeedTestHistory{
		DownloadSpeed: r.DownloadSpeed,
		UploadSpeed:   r.UploadSpeed,
		Ping:          r.Ping,
		ISP:           r.ISP,
		ServerName:    r.ServerName,
		Timestamp:     r.Timestamp,
	}
}

func phaseError(phase string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("speed test timed out during %s", phase)
	}
	return fmt.Errorf("%s test failed: %w", phase, err)
}
