package analytics

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"rgsx/internal/storage"
)

func TestStatsManager(t *testing.T) {
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "rgsx.db"))
	if err != nil {
		t.Fatalf("Failed to init storage: %v", err)
	}
	defer s.Close()

	romsDir := t.TempDir()
	sm := NewStatsManager(s, slog.New(slog.NewTextHandler(io.Discard, nil)), func() (string, error) {
		return romsDir, nil
	})

	sm.TrackDownloadBytes(1024)
	sm.TrackDownloadBytes(2048)
	sm.TrackDownloadBytes(0)
	sm.TrackFileCompleted()
	sm.RecordFinished(storage.DownloadRecord{ID: "t1", URL: "u", Status: "download_ok"})
	sm.RecordFinished(storage.DownloadRecord{ID: "t2", URL: "v", Status: "error"})

	lifetime, err := sm.GetLifetimeStats()
	if err != nil {
		t.Fatalf("GetLifetimeStats returned error: %v", err)
	}
	if lifetime != 3072 {
		t.Errorf("Expected 3072 lifetime bytes, got %d", lifetime)
	}

	files, err := sm.GetTotalFiles()
	if err != nil {
		t.Fatalf("GetTotalFiles returned error: %v", err)
	}
	if files != 1 {
		t.Errorf("Expected 1 file, got %d", files)
	}

	daily, err := sm.GetDailyStats(7)
	if err != nil {
		t.Errorf("GetDailyStats returned error: %v", err)
	}
	if len(daily) != 1 {
		t.Errorf("Expected one day of stats, got %d", len(daily))
	}

	sm.AddSpeed(500)
	sm.AddSpeed(-200)
	if sm.GetCurrentSpeed() != 300 {
		t.Errorf("Expected speed 300, got %d", sm.GetCurrentSpeed())
	}

	usage := sm.GetDiskUsage()
	if usage.Percent < 0 || usage.Percent > 100 {
		t.Errorf("Disk usage percent out of range: %f", usage.Percent)
	}
	if usage.Path != romsDir {
		t.Errorf("Expected disk usage for %s, got %s", romsDir, usage.Path)
	}

	data := sm.GetAnalytics()
	if data.StatusCounts["download_ok"] != 1 || data.StatusCounts["error"] != 1 {
		t.Errorf("Unexpected status counts: %v", data.StatusCounts)
	}
	if data.TotalDownloaded != 3072 {
		t.Errorf("Expected analytics total 3072, got %d", data.TotalDownloaded)
	}
}
