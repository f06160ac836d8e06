package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ANSI color codes
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Gray   = "\033[37m"
)

// DefaultRingSize is the number of records kept for the web log view
const DefaultRingSize = 500

type ConsoleHandler struct {
	mu    sync.Mutex
	out   io.Writer
	level slog.Leveler
}

func NewConsoleHandler(out io.Writer, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ConsoleHandler{out: out, level: level}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	levelColor := Reset
	switch r.Level {
	case slog.LevelDebug:
		levelColor = Gray
	case slog.LevelInfo:
		levelColor = Green
	case slog.LevelWarn:
		levelColor = Yellow
	case slog.LevelError:
		levelColor = Red
	}

	timeStr := r.Time.Format(time.TimeOnly)
	msg := fmt.Sprintf("%s%s%s [%s] %s", levelColor, r.Level.String()[:4], Reset, timeStr, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})

	_, err := h.out.Write([]byte(msg + "\n"))
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return h
}

// Entry is a log record as exposed by the web API
type Entry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Time    string                 `json:"time"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// RingHandler keeps the most recent records in memory
type RingHandler struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewRingHandler(size int) *RingHandler {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingHandler{entries: make([]Entry, size)}
}

func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	data := make(map[string]interface{})
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = Entry{
		Level:   r.Level.String(),
		Message: r.Message,
		Time:    r.Time.Format(time.RFC3339),
		Data:    data,
	}
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h // Simplification
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	return h
}

// Recent returns up to limit records, newest first
func (h *RingHandler) Recent(limit int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.full {
		count = len(h.entries)
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	result := make([]Entry, 0, limit)
	idx := h.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(h.entries)) % len(h.entries)
		result = append(result, h.entries[idx])
	}
	return result
}

// New creates a new logger with FanoutHandler (JSON in File + Console + Ring)
func New(logDir string, consoleOutput io.Writer, level slog.Leveler) (*slog.Logger, *RingHandler, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(filepath.Join(logDir, "rgsx.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	jsonHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	consoleHandler := NewConsoleHandler(consoleOutput, level)
	ringHandler := NewRingHandler(DefaultRingSize)

	handler := &FanoutHandler{
		handlers: []slog.Handler{jsonHandler, consoleHandler, ringHandler},
	}

	return slog.New(handler), ringHandler, nil
}

type FanoutHandler struct {
	handlers []slog.Handler
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			_ = handler.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: newHandlers}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &FanoutHandler{handlers: newHandlers}
}
