package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage handles all database operations using SQLite
type Storage struct {
	DB *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at dbPath
func NewStorage(dbPath string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	// Open SQLite with Glebarez (Pure Go, no CGO)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	err = db.AutoMigrate(
		&DownloadRecord{},
		&DailyStat{},
		&AppSetting{},
		&SpeedTestHistory{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{DB: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint to ensure durability
func (s *Storage) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// ============= Download Records =============

// SaveRecord creates or updates a finished download record (upsert)
func (s *Storage) SaveRecord(record DownloadRecord) error {
	if record.FinishedAt == "" {
		record.FinishedAt = time.Now().Format(time.RFC3339)
	}
	return s.DB.Save(&record).Error
}

// ErrRecordNotFound is returned by the single-record lookups
var ErrRecordNotFound = gorm.ErrRecordNotFound

// GetRecord retrieves a specific record by task ID
func (s *Storage) GetRecord(id string) (DownloadRecord, error) {
	var record DownloadRecord
	err := s.DB.First(&record, "id = ?", id).Error
	return record, err
}

// GetRecordByURL returns the most recent record for a URL
func (s *Storage) GetRecordByURL(url string) (DownloadRecord, error) {
	var record DownloadRecord
	err := s.DB.Where("url = ?", url).Order("finished_at desc").First(&record).Error
	return record, err
}

// GetRecentRecords returns the last N records, newest first
func (s *Storage) GetRecentRecords(limit int) ([]DownloadRecord, error) {
	var records []DownloadRecord
	query := s.DB.Order("finished_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// CountByStatus returns how many archived records have each status
func (s *Storage) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.DB.Model(&DownloadRecord{}).Select("status, COUNT(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make(map[string]int64, len(rows))
	for _, r := range rows {
		res[r.Status] = r.Count
	}
	return res, nil
}

// ============= Statistics (SQL Analytics) =============

// IncrementDailyBytes adds bytes to today's stats
func (s *Storage) IncrementDailyBytes(bytes int64) error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"bytes": gorm.Expr("bytes + ?", bytes),
		}),
	}).Create(&DailyStat{Date: today, Bytes: bytes}).Error
}

// IncrementDailyFiles adds a file count to today's stats
func (s *Storage) IncrementDailyFiles() error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"files": gorm.Expr("files + 1"),
		}),
	}).Create(&DailyStat{Date: today, Files: 1}).Error
}

// GetTotalLifetime returns total bytes downloaded all-time using SQL SUM
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("IFNULL(SUM(bytes), 0)").Row().Scan(&total)
	return total, err
}

// GetTotalFiles returns total files downloaded all-time using SQL SUM
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("IFNULL(SUM(files), 0)").Row().Scan(&total)
	return total, err
}

// GetDailyHistory returns the last N days of stats
func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.DB.Order("date desc").Limit(days).Find(&stats).Error
	return stats, err
}

// ============= App Settings =============

// GetString retrieves a string setting by key
func (s *Storage) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.First(&setting, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	return setting.Value, err
}

// SetString stores a string setting
func (s *Storage) SetString(key, value string) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&AppSetting{Key: key, Value: value}).Error
}

// ============= Speed Test History =============

// SaveSpeedTest saves a speed test result
func (s *Storage) SaveSpeedTest(history SpeedTestHistory) error {
	return s.DB.Create(&history).Error
}

// GetSpeedTestHistory returns the last N speed tests
func (s *Storage) GetSpeedTestHistory(limit int) ([]SpeedTestHistory, error) {
	var history []SpeedTestHistory
	err := s.DB.Order("timestamp desc").Limit(limit).Find(&history).Error
	return history, err
}
