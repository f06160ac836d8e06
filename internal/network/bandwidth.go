// Package network provides bandwidth limiting, connectivity checks and speed tests.
package network

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// BandwidthManager enforces the global download speed limit with zero overhead when disabled
type BandwidthManager struct {
	limiter      *rate.Limiter
	limitEnabled atomic.Bool
	limit        atomic.Int64
}

// NewBandwidthManager creates a new bandwidth manager with no limits
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// SetLimit updates the global speed limit in bytes per second.
// 0 means unlimited.
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.limit.Store(0)
		bm.limiter.SetLimit(rate.Inf)
		return
	}
	bm.limit.Store(int64(bytesPerSec))
	bm.limiter.SetLimit(rate.Limit(bytesPerSec))
	bm.limiter.SetBurst(bytesPerSec) // 1s burst
	bm.limitEnabled.Store(true)
}

// Limit returns the current limit in bytes per second, 0 when unlimited
func (bm *BandwidthManager) Limit() int {
	return int(bm.limit.Load())
}

// Wait blocks until the requested bytes can be consumed.
// Chunks larger than the burst are split so WaitN never rejects them.
func (bm *BandwidthManager) Wait(ctx context.Context, bytes int) error {
	if !bm.limitEnabled.Load() {
		return nil
	}
	for bytes > 0 {
		n := bytes
		if burst := bm.limiter.Burst(); burst > 0 && n > burst {
			n = burst
		}
		if err := bm.limiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
