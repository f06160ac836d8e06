package config

import (
	"encoding/json"
	"rgsx/internal/storage"
	"strconv"
	"strings"
)

// Keys for AppSettings in DB
const (
	KeySymlinkPath   = "symlink_path"
	KeyMaxConcurrent = "max_concurrent"
	KeySpeedLimit    = "speed_limit"
	KeyWebAddr       = "web_addr"
	KeyNotifyReload  = "notify_reload"
	KeyHostLimits    = "host_limits"
)

const (
	DefaultMaxConcurrent = 3
	DefaultWebAddr       = "0.0.0.0:5000"
)

// DefaultHostLimits keeps 1fichier to one download at a time, the most a
// free account is served
func DefaultHostLimits() map[string]int {
	return map[string]int{"1fichier.com": 1}
}

// SettingsStore is the key/value backend behind ConfigManager
type SettingsStore interface {
	GetString(key string) (string, error)
	SetString(key, value string) error
}

type ConfigManager struct {
	storage SettingsStore
}

func NewConfigManager(s *storage.Storage) *ConfigManager {
	return &ConfigManager{storage: s}
}

// NewConfigManagerWithStore is used when settings live outside SQLite (tests, CLI one-shots)
func NewConfigManagerWithStore(s SettingsStore) *ConfigManager {
	return &ConfigManager{storage: s}
}

func (c *ConfigManager) GetSymlinkPath() bool {
	val, err := c.storage.GetString(KeySymlinkPath)
	if err != nil {
		return false
	}
	return val == "true"
}

func (c *ConfigManager) SetSymlinkPath(enabled bool) error {
	return c.storage.SetString(KeySymlinkPath, strconv.FormatBool(enabled))
}

// GetMaxConcurrent returns the download slot count, clamped to 1..10
func (c *ConfigManager) GetMaxConcurrent() int {
	valStr, err := c.storage.GetString(KeyMaxConcurrent)
	if err != nil || valStr == "" {
		return DefaultMaxConcurrent
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return DefaultMaxConcurrent
	}
	return clampConcurrent(val)
}

func (c *ConfigManager) SetMaxConcurrent(max int) error {
	return c.storage.SetString(KeyMaxConcurrent, strconv.Itoa(clampConcurrent(max)))
}

// GetSpeedLimit returns the global limit in bytes/s (0 = unlimited)
func (c *ConfigManager) GetSpeedLimit() int {
	valStr, err := c.storage.GetString(KeySpeedLimit)
	if err != nil || valStr == "" {
		return 0
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (c *ConfigManager) SetSpeedLimit(bytesPerSec int) error {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return c.storage.SetString(KeySpeedLimit, strconv.Itoa(bytesPerSec))
}

func (c *ConfigManager) GetWebAddr() string {
	val, err := c.storage.GetString(KeyWebAddr)
	if err != nil || val == "" {
		return DefaultWebAddr
	}
	return val
}

func (c *ConfigManager) SetWebAddr(addr string) error {
	return c.storage.SetString(KeyWebAddr, addr)
}

func (c *ConfigManager) GetNotifyReload() bool {
	val, err := c.storage.GetString(KeyNotifyReload)
	if err != nil {
		return true // Default True
	}
	return val != "false"
}

func (c *ConfigManager) SetNotifyReload(enabled bool) error {
	return c.storage.SetString(KeyNotifyReload, strconv.FormatBool(enabled))
}

// GetHostLimits returns the per-host slot caps, keyed by lower-case domain
func (c *ConfigManager) GetHostLimits() map[string]int {
	val, err := c.storage.GetString(KeyHostLimits)
	if err != nil || val == "" {
		return DefaultHostLimits()
	}
	var limits map[string]int
	if err := json.Unmarshal([]byte(val), &limits); err != nil {
		return DefaultHostLimits()
	}
	return normalizeHostLimits(limits)
}

// SetHostLimits stores limits; domains with a limit <= 0 are dropped
func (c *ConfigManager) SetHostLimits(limits map[string]int) error {
	data, err := json.Marshal(normalizeHostLimits(limits))
	if err != nil {
		return err
	}
	return c.storage.SetString(KeyHostLimits, string(data))
}

func normalizeHostLimits(limits map[string]int) map[string]int {
	out := make(map[string]int, len(limits))
	for domain, limit := range limits {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" && limit > 0 {
			out[domain] = limit
		}
	}
	return out
}

// Snapshot returns every setting with defaults applied
func (c *ConfigManager) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		KeySymlinkPath:   c.GetSymlinkPath(),
		KeyMaxConcurrent: c.GetMaxConcurrent(),
		KeySpeedLimit:    c.GetSpeedLimit(),
		KeyWebAddr:       c.GetWebAddr(),
		KeyNotifyReload:  c.GetNotifyReload(),
		KeyHostLimits:    c.GetHostLimits(),
	}
}

func clampConcurrent(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}
