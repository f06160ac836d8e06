package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpaceBuffer is kept free on the volume for system stability
const FreeSpaceBuffer = 100 * 1024 * 1024

// Allocator checks free space before a download starts streaming
type Allocator struct {
	usage func(path string) (*disk.UsageStat, error)
}

func NewAllocator() *Allocator {
	return &Allocator{usage: disk.Usage}
}

// CheckDiskSpace fails when the volume holding path cannot take required more bytes.
// Unknown sizes (<= 0) always pass.
func (a *Allocator) CheckDiskSpace(path string, required int64) error {
	if required <= 0 {
		return nil
	}
	dir := filepath.Dir(path)

	usage, err := a.usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	if int64(usage.Free) < (required + FreeSpaceBuffer) {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", required, usage.Free)
	}

	return nil
}
