package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"rgsx/internal/catalog"
	"rgsx/internal/engine"
	"rgsx/internal/history"
	"rgsx/internal/network"
	"rgsx/internal/storage"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := s.deps.Catalog.Platforms()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "platforms": platforms})
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.Find(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	games, err := s.deps.Catalog.Games(p.Name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if q := r.URL.Query().Get("q"); q != "" {
		games = catalog.Search(games, q)
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "platform": p.Name, "games": games})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	var platforms []catalog.Platform
	if name := r.URL.Query().Get("platform"); name != "" {
		p, err := s.deps.Catalog.Find(name)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		platforms = []catalog.Platform{p}
	} else {
		all, err := s.deps.Catalog.Platforms()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		platforms = all
	}

	type match struct {
		Platform string       `json:"platform"`
		Game     catalog.Game `json:"game"`
	}
	results := make([]match, 0)
	for _, p := range platforms {
		games, err := s.deps.Catalog.Games(p.Name)
		if err != nil {
			continue
		}
		for _, g := range catalog.Search(games, q) {
			results = append(results, match{Platform: p.Name, Game: g})
		}
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "results": results})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	active := make([]history.Entry, 0)
	for _, e := range s.deps.Hub.Snapshot() {
		if e.Status.Active() {
			active = append(active, e)
		}
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "downloads": active})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Hub.Snapshot()
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "history": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "statistics are not available")
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "stats": s.deps.Stats.GetAnalytics()})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, envelope{"success": true, "logs": []interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "logs": s.deps.Logs.Recent(queryLimit(r, 100))})
}

func queryLimit(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "download archive is not available")
		return
	}
	// ?url= returns the latest record of that URL only
	if u := r.URL.Query().Get("url"); u != "" {
		s.writeRecord(w, func() (storage.DownloadRecord, error) { return s.deps.Archive.GetRecordByURL(u) })
		return
	}
	records, err := s.deps.Archive.GetRecentRecords(queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "records": records})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "download archive is not available")
		return
	}
	id := chi.URLParam(r, "id")
	s.writeRecord(w, func() (storage.DownloadRecord, error) { return s.deps.Archive.GetRecord(id) })
}

func (s *Server) writeRecord(w http.ResponseWriter, get func() (storage.DownloadRecord, error)) {
	record, err := get()
	if errors.Is(err, storage.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "record": record})
}

func (s *Server) handleSpeedTestHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "speed test history is not available")
		return
	}
	tests, err := s.deps.Archive.GetSpeedTestHistory(queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "history": tests})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"success": true, "settings": s.deps.Config.Snapshot()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		"success":        true,
		"version":        s.deps.Version,
		"running":        s.deps.Engine.Running(),
		"queued":         len(s.deps.Engine.Queued()),
		"max_concurrent": s.deps.Engine.MaxConcurrent(),
		"host_limits":    s.deps.Engine.HostLimits(),
	})
}

// DownloadRequest is the body of POST /api/download. Either platform and
// game_name name a catalog entry, or url is downloaded as-is.
type DownloadRequest struct {
	Platform string `json:"platform"`
	GameName string `json:"game_name"`
	URL      string `json:"url"`
	Force    bool   `json:"force"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Platform == "" {
		writeError(w, http.StatusBadRequest, "platform is required")
		return
	}

	p, err := s.deps.Catalog.Find(req.Platform)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	url, name := req.URL, req.GameName
	if url == "" {
		game, ok := s.deps.Catalog.FindGame(p.Name, req.GameName)
		if !ok {
			writeError(w, http.StatusNotFound, "game not found: "+req.GameName)
			return
		}
		url, name = game.URL, game.Name
	}

	decision := s.deps.Extensions.Decide(nameOrURL(name, url), p.Name, p.Folder)
	if decision.Warn && !req.Force {
		writeError(w, http.StatusUnprocessableEntity, "unsupported file extension for "+p.Name)
		return
	}

	id, err := s.deps.Engine.Start(engine.StartRequest{
		URL:          url,
		Platform:     p.Name,
		GameName:     name,
		ForceExtract: decision.ForceExtract,
	})
	switch {
	case errors.Is(err, engine.ErrAlreadyActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{"success": true, "task_id": id, "force_extract": decision.ForceExtract})
}

func nameOrURL(name, url string) string {
	if name != "" {
		return name
	}
	return url
}

type cancelRequest struct {
	TaskID string `json:"task_id"`
	URL    string `json:"url"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch {
	case req.TaskID != "":
		if err := s.deps.Engine.RequestCancel(req.TaskID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, envelope{"success": true, "task_id": req.TaskID})
	case req.URL != "":
		id, ok := s.deps.Engine.CancelByURL(req.URL)
		if !ok {
			writeError(w, http.StatusNotFound, "no active download for this url")
			return
		}
		writeJSON(w, http.StatusOK, envelope{"success": true, "task_id": id})
	default:
		writeError(w, http.StatusBadRequest, "task_id or url is required")
	}
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Hub.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true})
}

// settingsUpdate carries the fields to change; absent fields are left alone
type settingsUpdate struct {
	SymlinkPath   *bool `json:"symlink_path"`
	MaxConcurrent *int  `json:"max_concurrent"`
	SpeedLimit    *int  `json:"speed_limit"`
	NotifyReload  *bool `json:"notify_reload"`
	// WebAddr applies on the next start
	WebAddr *string `json:"web_addr"`
	// HostLimits is merged into the current caps; a limit of 0 removes the host
	HostLimits map[string]int `json:"host_limits"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := s.deps.Config

	var err error
	if req.SymlinkPath != nil && err == nil {
		err = cfg.SetSymlinkPath(*req.SymlinkPath)
	}
	if req.NotifyReload != nil && err == nil {
		err = cfg.SetNotifyReload(*req.NotifyReload)
	}
	if req.WebAddr != nil && err == nil {
		err = cfg.SetWebAddr(strings.TrimSpace(*req.WebAddr))
	}
	if req.MaxConcurrent != nil && err == nil {
		if err = cfg.SetMaxConcurrent(*req.MaxConcurrent); err == nil {
			s.deps.Engine.SetMaxConcurrent(cfg.GetMaxConcurrent())
		}
	}
	if req.SpeedLimit != nil && err == nil {
		if err = cfg.SetSpeedLimit(*req.SpeedLimit); err == nil {
			s.deps.Engine.SetGlobalLimit(cfg.GetSpeedLimit())
		}
	}
	if req.HostLimits != nil && err == nil {
		limits := cfg.GetHostLimits()
		for host, limit := range req.HostLimits {
			limits[strings.ToLower(strings.TrimSpace(host))] = limit
		}
		if err = cfg.SetHostLimits(limits); err == nil {
			s.deps.Engine.SetHostLimits(cfg.GetHostLimits())
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "settings": cfg.Snapshot()})
}

func (s *Server) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	res, err := s.runSpeedTest(r.Context(), s.deps.SpeedTests)
	if errors.Is(err, network.ErrOffline) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "result": res})
}
