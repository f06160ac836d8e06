// Package queue holds pending download jobs and picks the next runnable one.
package queue

import (
	"sort"
	"sync"
	"time"
)

// Job is a download waiting for a worker slot
type Job struct {
	ID           string
	URL          string
	Platform     string
	GameName     string
	ForceExtract bool
	QueueOrder   int
	CreatedAt    time.Time
}

// DownloadQueue manages the ordered list of pending jobs.
// Every change bumps a version so waiters cannot miss a wake-up.
type DownloadQueue struct {
	items   []*Job
	mutex   sync.Mutex
	cond    *sync.Cond
	version uint64
	closed  bool
}

func NewDownloadQueue() *DownloadQueue {
	dq := &DownloadQueue{
		items: make([]*Job, 0),
	}
	dq.cond = sync.NewCond(&dq.mutex)
	return dq
}

// Push adds a job to the queue, sorted by QueueOrder
func (dq *DownloadQueue) Push(job *Job) {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()

	if job.QueueOrder == 0 {
		job.QueueOrder = dq.nextOrderLocked()
	}
	dq.items = append(dq.items, job)
	sort.SliceStable(dq.items, func(i, j int) bool {
		return dq.items[i].QueueOrder < dq.items[j].QueueOrder
	})
	dq.bumpLocked()
}

// Remove drops a job by ID
func (dq *DownloadQueue) Remove(id string) (*Job, bool) {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()

	for i, item := range dq.items {
		if item.ID == id {
			dq.items = append(dq.items[:i], dq.items[i+1:]...)
			dq.bumpLocked()
			return item, true
		}
	}
	return nil, false
}

// Contains reports whether a job with this ID is still pending
func (dq *DownloadQueue) Contains(id string) bool {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	for _, item := range dq.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Len returns the number of items in the queue
func (dq *DownloadQueue) Len() int {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	return len(dq.items)
}

// GetAll returns a copy of all queued jobs
func (dq *DownloadQueue) GetAll() []*Job {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()

	result := make([]*Job, len(dq.items))
	copy(result, dq.items)
	return result
}

func (dq *DownloadQueue) nextOrderLocked() int {
	maxOrder := 0
	for _, item := range dq.items {
		if item.QueueOrder > maxOrder {
			maxOrder = item.QueueOrder
		}
	}
	return maxOrder + 1
}

// Version returns the current change counter
func (dq *DownloadQueue) Version() uint64 {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	return dq.version
}

// WaitChange blocks until the version differs from seen or the queue is closed.
// It returns false once closed.
func (dq *DownloadQueue) WaitChange(seen uint64) bool {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	for dq.version == seen && !dq.closed {
		dq.cond.Wait()
	}
	return !dq.closed
}

// Broadcast wakes all waiters, used when a worker slot frees up
func (dq *DownloadQueue) Broadcast() {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	dq.bumpLocked()
}

// Close releases every waiter. Pending jobs are kept so callers can drain them.
func (dq *DownloadQueue) Close() {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	dq.closed = true
	dq.cond.Broadcast()
}

func (dq *DownloadQueue) bumpLocked() {
	dq.version++
	dq.cond.Broadcast()
}
