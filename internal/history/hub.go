package history

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrActive is returned by Append when the URL already has a task in flight
	ErrActive = errors.New("url already has an active download")
	// ErrClosed is returned once the hub has shut down
	ErrClosed = errors.New("history hub closed")
)

// DefaultFlushInterval bounds how often progress-only changes hit the disk
const DefaultFlushInterval = 500 * time.Millisecond

// InterruptedMessage is set on entries found active at startup
const InterruptedMessage = "Interrupted"

// Update is an immutable change published by a task. An empty Status keeps the
// current phase. Byte counts derive the percentage when Total is known, otherwise
// Percent is used as-is.
type Update struct {
	TaskID     string
	URL        string
	Status     Status
	Percent    int
	Downloaded int64
	Total      int64
	Speed      float64
	Provider   string
	Message    string
	RawError   string
}

// Hub is the single owner of the history list. Every mutation runs on its
// goroutine; readers get copies.
type Hub struct {
	store         *Store
	logger        *slog.Logger
	flushInterval time.Duration

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by run()
	entries   []Entry
	dirty     bool
	lastFlush time.Time
}

// NewHub loads the persisted history and starts the owner goroutine
func NewHub(store *Store, logger *slog.Logger, flushInterval time.Duration) *Hub {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	h := &Hub{
		store:         store,
		logger:        logger,
		flushInterval: flushInterval,
		ops:           make(chan func(), 256),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		entries:       store.Load(),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-h.ops:
			op()
		case <-ticker.C:
			if h.dirty {
				h.flush()
			}
		case <-h.quit:
			for {
				select {
				case op := <-h.ops:
					op()
				default:
					if h.dirty {
						h.flush()
					}
					return
				}
			}
		}
	}
}

func (h *Hub) flush() {
	if err := h.store.Save(h.entries); err != nil {
		h.logger.Error("Failed to save history", "error", err)
		return
	}
	h.dirty = false
	h.lastFlush = time.Now()
}

func (h *Hub) maybeFlush() {
	if h.dirty && time.Since(h.lastFlush) >= h.flushInterval {
		h.flush()
	}
}

// send queues op without waiting for it
func (h *Hub) send(op func()) error {
	select {
	case <-h.quit:
		return ErrClosed
	default:
	}
	select {
	case h.ops <- op:
		return nil
	case <-h.quit:
		return ErrClosed
	}
}

// call runs op on the owner goroutine and waits for it
func (h *Hub) call(op func()) error {
	finished := make(chan struct{})
	if err := h.send(func() {
		defer close(finished)
		op()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (h *Hub) findActive(taskID, url string) int {
	if taskID != "" {
		for i := len(h.entries) - 1; i >= 0; i-- {
			if h.entries[i].TaskID == taskID && h.entries[i].Status.Active() {
				return i
			}
		}
	}
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].URL == url && h.entries[i].Status.Active() {
			return i
		}
	}
	return -1
}

// Append adds a new entry and writes it out immediately
func (h *Hub) Append(e Entry) error {
	var err error
	if callErr := h.call(func() {
		if e.Status.Active() && e.URL != "" && h.findActive("", e.URL) >= 0 {
			err = ErrActive
			return
		}
		if e.Timestamp == "" {
			e.Timestamp = Now()
		}
		h.entries = append(h.entries, e)
		h.flush()
	}); callErr != nil {
		return callErr
	}
	return err
}

// Publish applies u asynchronously. Updates from one goroutine are applied in order.
func (h *Hub) Publish(u Update) {
	if err := h.send(func() { h.apply(u) }); err != nil {
		h.logger.Debug("Dropped history update", "id", u.TaskID, "error", err)
	}
}

func (h *Hub) apply(u Update) {
	idx := h.findActive(u.TaskID, u.URL)
	if idx < 0 {
		return
	}
	e := &h.entries[idx]

	phaseChange := u.Status != "" && u.Status != e.Status
	pct := u.Percent
	if u.Total > 0 {
		pct = int(u.Downloaded * 100 / u.Total)
	}
	pct = clamp(pct)

	if u.Provider != "" {
		e.Provider = u.Provider
	}
	if u.Message != "" {
		e.Message = u.Message
	}
	if u.RawError != "" {
		e.RawError = u.RawError
	}

	switch {
	case u.Status.Terminal():
		e.Status = u.Status
		if u.Status == StatusOK {
			e.Progress = 100
		} else {
			e.Progress = 0
		}
		e.Speed = 0
		e.Timestamp = Now()
		h.dirty = true
		h.flush()
		return
	case phaseChange:
		e.Status = u.Status
		e.Progress = pct
		e.Speed = 0
		h.dirty = true
		h.flush()
		return
	}

	if pct > e.Progress {
		e.Progress = pct
	}
	if u.Total > 0 || u.Downloaded > 0 {
		e.DownloadedSize = u.Downloaded
		e.TotalSize = u.Total
		e.Speed = u.Speed
	}
	h.dirty = true
	h.maybeFlush()
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Snapshot returns a copy of all entries in insertion order
func (h *Hub) Snapshot() []Entry {
	var out []Entry
	if err := h.call(func() {
		out = make([]Entry, len(h.entries))
		copy(out, h.entries)
	}); err != nil {
		return nil
	}
	return out
}

// Get returns the latest entry recorded for taskID
func (h *Hub) Get(taskID string) (Entry, bool) {
	var (
		e  Entry
		ok bool
	)
	h.call(func() {
		for i := len(h.entries) - 1; i >= 0; i-- {
			if h.entries[i].TaskID == taskID {
				e, ok = h.entries[i], true
				return
			}
		}
	})
	return e, ok
}

// ActiveByURL returns the in-flight entry for url, if any
func (h *Hub) ActiveByURL(url string) (Entry, bool) {
	var (
		e  Entry
		ok bool
	)
	h.call(func() {
		if idx := h.findActive("", url); idx >= 0 {
			e, ok = h.entries[idx], true
		}
	})
	return e, ok
}

// Clear drops every finished entry. Tasks still in flight are kept so their
// final update has somewhere to land.
func (h *Hub) Clear() error {
	var err error
	if callErr := h.call(func() {
		kept := make([]Entry, 0)
		for _, e := range h.entries {
			if e.Status.Active() {
				kept = append(kept, e)
			}
		}
		h.entries = kept
		h.dirty = true
		if saveErr := h.store.Save(h.entries); saveErr != nil {
			err = saveErr
			return
		}
		h.dirty = false
		h.lastFlush = time.Now()
	}); callErr != nil {
		return callErr
	}
	return err
}

// RecoverInterrupted marks entries left active by a previous run as failed
func (h *Hub) RecoverInterrupted() int {
	count := 0
	h.call(func() {
		for i := range h.entries {
			if h.entries[i].Status.Active() {
				h.entries[i].Status = StatusError
				h.entries[i].Progress = 0
				h.entries[i].Speed = 0
				h.entries[i].Message = InterruptedMessage
				count++
			}
		}
		if count > 0 {
			h.dirty = true
			h.flush()
		}
	})
	if count > 0 {
		h.logger.Info("Recovered interrupted downloads", "count", count)
	}
	return count
}

// Close stops the owner goroutine after applying queued updates and flushing
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
	<-h.done
}
