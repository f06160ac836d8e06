package queue

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// SmartScheduler picks the first queued job whose host is under its limit
type SmartScheduler struct {
	logger        *slog.Logger
	queue         *DownloadQueue
	hostLimits    map[string]int    // Domain -> Max Concurrent
	activePerHost map[string]int    // Domain -> Current Active
	jobKeys       map[string]string // Job ID -> Domain counted in activePerHost
	mu            sync.Mutex
}

func NewSmartScheduler(logger *slog.Logger, queue *DownloadQueue) *SmartScheduler {
	return &SmartScheduler{
		logger:        logger,
		queue:         queue,
		hostLimits:    make(map[string]int),
		activePerHost: make(map[string]int),
		jobKeys:       make(map[string]string),
	}
}

// SetHostLimits replaces every cap. A limit applies to the domain and its
// subdomains; entries <= 0 are ignored.
func (s *SmartScheduler) SetHostLimits(limits map[string]int) {
	s.mu.Lock()
	s.hostLimits = make(map[string]int, len(limits))
	for domain, limit := range limits {
		if limit > 0 {
			s.hostLimits[strings.ToLower(domain)] = limit
		}
	}
	s.mu.Unlock()
	s.queue.Broadcast()
}

// HostLimits returns a copy of the configured caps
func (s *SmartScheduler) HostLimits() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.hostLimits))
	for domain, limit := range s.hostLimits {
		out[domain] = limit
	}
	return out
}

// limitKeyLocked returns the configured domain matching host and its limit
func (s *SmartScheduler) limitKeyLocked(host string) (string, int) {
	for h := host; h != ""; {
		if limit, ok := s.hostLimits[h]; ok {
			return h, limit
		}
		_, rest, found := strings.Cut(h, ".")
		if !found {
			break
		}
		h = rest
	}
	return host, 0
}

// OnTaskStarted records a job taking a host slot
func (s *SmartScheduler) OnTaskStarted(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, _ := s.limitKeyLocked(extractDomain(job.URL))
	s.activePerHost[key]++
	s.jobKeys[job.ID] = key
}

// OnTaskCompleted releases the host slot and wakes waiting workers
func (s *SmartScheduler) OnTaskCompleted(job *Job) {
	s.mu.Lock()
	key, ok := s.jobKeys[job.ID]
	if !ok {
		key, _ = s.limitKeyLocked(extractDomain(job.URL))
	}
	delete(s.jobKeys, job.ID)
	if s.activePerHost[key] > 0 {
		s.activePerHost[key]--
	}
	s.mu.Unlock()
	s.queue.Broadcast()
}

// GetNextTask removes and returns the next eligible job, or nil when the global
// cap is reached or every queued job is blocked by its host limit.
func (s *SmartScheduler) GetNextTask(activeCount, maxConcurrent int) *Job {
	if activeCount >= maxConcurrent {
		return nil
	}

	for _, job := range s.queue.GetAll() {
		s.mu.Lock()
		key, limit := s.limitKeyLocked(extractDomain(job.URL))
		active := s.activePerHost[key]
		s.mu.Unlock()

		if limit > 0 && active >= limit {
			s.logger.Debug("Host limit reached", "host", key, "id", job.ID)
			continue
		}
		if removed, ok := s.queue.Remove(job.ID); ok {
			return removed
		}
	}
	return nil
}

func extractDomain(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
