// Package history owns the download history shared by every front-end.
package history

import "time"

// Status is the lifecycle state of a download task
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusExtracting  Status = "extracting"
	StatusConverting  Status = "converting"
	StatusOK          Status = "download_ok"
	StatusError       Status = "error"
	StatusCanceled    Status = "canceled"
)

// Active reports whether the task still has work in flight
func (s Status) Active() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusExtracting, StatusConverting:
		return true
	}
	return false
}

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	switch s {
	case StatusOK, StatusError, StatusCanceled:
		return true
	}
	return false
}

// TimestampLayout is the format of Entry.Timestamp
const TimestampLayout = "2006-01-02 15:04:05"

// Entry is one download task as persisted in history.json.
// Size and speed fields are only meaningful while the task is active.
type Entry struct {
	TaskID         string  `json:"task_id,omitempty"`
	Platform       string  `json:"platform"`
	GameName       string  `json:"game_name"`
	Status         Status  `json:"status"`
	URL            string  `json:"url"`
	Progress       int     `json:"progress"`
	Message        string  `json:"message"`
	Timestamp      string  `json:"timestamp"`
	DownloadedSize int64   `json:"downloaded_size,omitempty"`
	TotalSize      int64   `json:"total_size,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	ForceExtract   bool    `json:"force_extract,omitempty"`
	RawError       string  `json:"raw_error,omitempty"`
}

// Now formats the current time the way entries store it
func Now() string {
	return time.Now().Format(TimestampLayout)
}
