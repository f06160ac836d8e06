package storage

import (
	"gorm.io/gorm"
)

// DownloadRecord archives a finished download task
type DownloadRecord struct {
	ID         string         `gorm:"primaryKey" json:"id"`
	URL        string         `gorm:"index" json:"url"`
	Platform   string         `gorm:"index" json:"platform"`
	GameName   string         `json:"game_name"`
	Status     string         `gorm:"index" json:"status"` // download_ok, error, canceled
	Provider   string         `json:"provider"`            // 1F, AD, RD or empty
	DestPath   string         `json:"dest_path"`
	TotalSize  int64          `json:"total_size"`
	Extracted  bool           `json:"extracted"`
	Checksum   string         `json:"checksum"` // sha256 of single-file downloads
	Message    string         `json:"message"`
	CreatedAt  string         `json:"created_at"`
	FinishedAt string         `json:"finished_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for DownloadRecord
func (DownloadRecord) TableName() string {
	return "download_records"
}

// DailyStat tracks daily download statistics for analytics
type DailyStat struct {
	Date  string `gorm:"primaryKey"` // Format: "YYYY-MM-DD"
	Bytes int64  `gorm:"default:0"`  // Total bytes for this day
	Files int64  `gorm:"default:0"`  // Files completed this day
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}

// AppSetting stores key-value application settings
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName specifies the table name for AppSetting
func (AppSetting) TableName() string {
	return "app_settings"
}

// SpeedTestHistory stores past speed test results
type SpeedTestHistory struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	DownloadSpeed float64 `json:"download_mbps"`
	UploadSpeed   float64 `json:"upload_mbps"`
	Ping          int64   `json:"ping_ms"`
	ISP           string  `json:"isp"`
	ServerName    string  `json:"server_name"`
	Timestamp     string  `json:"timestamp"`
}

// TableName specifies the table name for SpeedTestHistory
func (SpeedTestHistory) TableName() string {
	return "speed_test_history"
}
