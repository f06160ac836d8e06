// Package api serves the JSON API used by the web interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"rgsx/internal/analytics"
	"rgsx/internal/catalog"
	"rgsx/internal/config"
	"rgsx/internal/engine"
	"rgsx/internal/history"
	"rgsx/internal/logger"
	"rgsx/internal/network"
	"rgsx/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Archive reads finished downloads and past speed tests
type Archive interface {
	GetRecord(id string) (storage.DownloadRecord, error)
	GetRecordByURL(url string) (storage.DownloadRecord, error)
	GetRecentRecords(limit int) ([]storage.DownloadRecord, error)
	GetSpeedTestHistory(limit int) ([]storage.SpeedTestHistory, error)
}

// Deps are the services behind the API. Stats, Logs, SpeedTests and Archive may be nil.
type Deps struct {
	Engine     *engine.Engine
	Hub        *history.Hub
	Catalog    *catalog.Catalog
	Extensions *config.ExtensionCatalog
	Config     *config.ConfigManager
	Stats      *analytics.StatsManager
	Logs       *logger.RingHandler
	SpeedTests network.SpeedTestRecorder
	Archive    Archive
	Version    string
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	router *chi.Mux
	server *http.Server

	speedTestRunning int32
	// runSpeedTest is swapped in tests
	runSpeedTest func(ctx context.Context, rec network.SpeedTestRecorder) (*network.SpeedTestResult, error)
}

func NewServer(logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
		runSpeedTest: func(ctx context.Context, rec network.SpeedTestRecorder) (*network.SpeedTestResult, error) {
			return network.RunSpeedTest(ctx, nil, rec)
		},
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(corsMiddleware)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/platforms", s.handlePlatforms)
		r.Get("/games/{platform}", s.handleGames)
		r.Get("/search", s.handleSearch)
		r.Get("/progress", s.handleProgress)
		r.Get("/history", s.handleHistory)
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)
		r.Get("/settings", s.handleGetSettings)
		r.Get("/status", s.handleStatus)
		r.Get("/records", s.handleRecords)
		r.Get("/records/{id}", s.handleRecord)
		r.Get("/speedtest/history", s.handleSpeedTestHistory)

		r.Post("/download", s.handleDownload)
		r.Post("/cancel", s.handleCancel)
		r.Post("/clear-history", s.handleClearHistory)
		r.Post("/settings", s.handleUpdateSettings)
		r.With(s.singleFlight).Post("/speedtest", s.handleSpeedTest)
	})
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// ListenAndServe serves on addr until ctx is canceled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Start(addr); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// singleFlight rejects a request while another one on the same route is running
func (s *Server) singleFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !atomic.CompareAndSwapInt32(&s.speedTestRunning, 0, 1) {
			writeError(w, http.StatusTooManyRequests, "A speed test is already running")
			return
		}
		defer atomic.StoreInt32(&s.speedTestRunning, 0)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type envelope map[string]interface{}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "error": msg})
}
