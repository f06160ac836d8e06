// Package analytics provides download statistics and disk usage tracking.
package analytics

import (
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"rgsx/internal/storage"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsageInfo holds disk space information
type DiskUsageInfo struct {
	Path    string  `json:"path"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// AnalyticsData is the payload of `rgsx stats` and GET /api/stats
type AnalyticsData struct {
	TotalDownloaded int64            `json:"total_downloaded"`
	TotalFiles      int64            `json:"total_files"`
	DailyHistory    map[string]int64 `json:"daily_history"`
	StatusCounts    map[string]int64 `json:"status_counts"`
	CurrentSpeed    int64            `json:"current_speed"`
	DiskUsage       DiskUsageInfo    `json:"disk_usage"`
}

// StatsManager tracks download statistics and analytics
type StatsManager struct {
	storage      *storage.Storage
	logger       *slog.Logger
	currentSpeed int64 // Atomic, bytes/s summed over running tasks
	romsPathFn   func() (string, error)
}

// NewStatsManager creates a stats manager with storage backend. romsPathFn
// locates the volume reported by GetDiskUsage.
func NewStatsManager(s *storage.Storage, logger *slog.Logger, romsPathFn func() (string, error)) *StatsManager {
	return &StatsManager{
		storage:    s,
		logger:     logger,
		romsPathFn: romsPathFn,
	}
}

// AddSpeed adjusts the global speed by delta bytes/s
func (sm *StatsManager) AddSpeed(delta int64) {
	atomic.AddInt64(&sm.currentSpeed, delta)
}

// GetCurrentSpeed returns the instant speed
func (sm *StatsManager) GetCurrentSpeed() int64 {
	v := atomic.LoadInt64(&sm.currentSpeed)
	if v < 0 {
		return 0
	}
	return v
}

// TrackDownloadBytes increments today's download stats using SQL upsert
func (sm *StatsManager) TrackDownloadBytes(bytes int64) {
	if bytes <= 0 {
		return
	}
	if err := sm.storage.IncrementDailyBytes(bytes); err != nil {
		sm.logger.Warn("Failed to record daily bytes", "error", err)
	}
}

// TrackFileCompleted increments today's file count using SQL upsert
func (sm *StatsManager) TrackFileCompleted() {
	if err := sm.storage.IncrementDailyFiles(); err != nil {
		sm.logger.Warn("Failed to record daily files", "error", err)
	}
}

// RecordFinished archives a terminal task
func (sm *StatsManager) RecordFinished(rec storage.DownloadRecord) {
	if err := sm.storage.SaveRecord(rec); err != nil {
		sm.logger.Warn("Failed to archive download", "id", rec.ID, "error", err)
	}
}

// GetLifetimeStats returns total bytes downloaded using SQL SUM
func (sm *StatsManager) GetLifetimeStats() (int64, error) {
	return sm.storage.GetTotalLifetime()
}

// GetTotalFiles returns total files downloaded using SQL SUM
func (sm *StatsManager) GetTotalFiles() (int64, error) {
	return sm.storage.GetTotalFiles()
}

// GetDailyStats returns the last N days of stats from SQLite
func (sm *StatsManager) GetDailyStats(days int) (map[string]int64, error) {
	stats, err := sm.storage.GetDailyHistory(days)
	if err != nil {
		return make(map[string]int64), err
	}

	res := make(map[string]int64)
	for _, stat := range stats {
		res[stat.Date] = stat.Bytes
	}
	return res, nil
}

// GetDiskUsage returns disk space info for the roms volume
func (sm *StatsManager) GetDiskUsage() DiskUsageInfo {
	if sm.romsPathFn == nil {
		return DiskUsageInfo{}
	}
	romsPath, err := sm.romsPathFn()
	if err != nil {
		return DiskUsageInfo{}
	}

	// Windows reports per drive root
	target := romsPath
	if vol := filepath.VolumeName(romsPath); vol != "" {
		target = vol + "\\"
	}

	usage, err := disk.Usage(target)
	if err != nil {
		return DiskUsageInfo{Path: romsPath}
	}

	const bytesPerGB = 1024 * 1024 * 1024
	return DiskUsageInfo{
		Path:    romsPath,
		UsedGB:  float64(usage.Used) / bytesPerGB,
		FreeGB:  float64(usage.Free) / bytesPerGB,
		TotalGB: float64(usage.Total) / bytesPerGB,
		Percent: usage.UsedPercent,
	}
}

// GetAnalytics returns comprehensive analytics data
func (sm *StatsManager) GetAnalytics() AnalyticsData {
	lifetime, _ := sm.GetLifetimeStats()
	totalFiles, _ := sm.GetTotalFiles()
	daily, _ := sm.GetDailyStats(7)
	counts, err := sm.storage.CountByStatus()
	if err != nil {
		counts = map[string]int64{}
	}

	return AnalyticsData{
		TotalDownloaded: lifetime,
		TotalFiles:      totalFiles,
		DailyHistory:    daily,
		StatusCounts:    counts,
		CurrentSpeed:    sm.GetCurrentSpeed(),
		DiskUsage:       sm.GetDiskUsage(),
	}
}
