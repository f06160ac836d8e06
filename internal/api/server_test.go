package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rgsx/internal/catalog"
	"rgsx/internal/config"
	"rgsx/internal/engine"
	"rgsx/internal/extract"
	"rgsx/internal/filesystem"
	"rgsx/internal/history"
	"rgsx/internal/network"
	"rgsx/internal/provider"
	"rgsx/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) GetString(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) SetString(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type noCreds struct{}

func (noCreds) Load() config.Credentials { return config.Credentials{} }

type fakeSpeedTests struct{ saved []storage.SpeedTestHistory }

func (f *fakeSpeedTests) SaveSpeedTest(h storage.SpeedTestHistory) error {
	f.saved = append(f.saved, h)
	return nil
}

type testServer struct {
	*Server
	engine *engine.Engine
	roms   string
}

func newTestServer(t *testing.T, gameURL string) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sources := `[{"platform_name": "Nintendo Game Boy", "folder": "gb"}]`
	games := `[
		["Tetris (World).gb", "` + gameURL + `/Tetris.gb", "1 KiB"],
		["Manual (World).pdf", "` + gameURL + `/manual.pdf"]
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "systems_list.json"), []byte(sources), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "games"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "games", "Nintendo Game Boy.json"), []byte(games), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rom_extensions.json"), []byte(`[{"folder":"gb","extensions":[".gb",".gbc"]}]`), 0644))

	cat := catalog.New(filepath.Join(dir, "systems_list.json"), filepath.Join(dir, "games"))
	cfg := config.NewConfigManagerWithStore(&memStore{data: map[string]string{}})
	require.NoError(t, cfg.SetNotifyReload(false))

	hub := history.NewHub(history.NewStore(filepath.Join(dir, "history.json"), logger), logger, 10*time.Millisecond)
	roms := filepath.Join(dir, "roms")
	eng := engine.NewEngine(logger, engine.Deps{
		Hub:         hub,
		Paths:       filesystem.NewPathResolver(roms, filepath.Join(dir, "bios"), cat),
		Providers:   provider.NewChain(logger),
		Credentials: noCreds{},
		Processor:   extract.NewProcessor(logger, extract.Options{}),
		Settings:    cfg,
	})
	t.Cleanup(func() {
		eng.Shutdown(5 * time.Second)
		hub.Close()
	})

	s := NewServer(logger, Deps{
		Engine:     eng,
		Hub:        hub,
		Catalog:    cat,
		Extensions: config.NewExtensionCatalog(filepath.Join(dir, "rom_extensions.json"), "", logger),
		Config:     cfg,
		Version:    "2.2.1.0",
	})
	return &testServer{Server: s, engine: eng, roms: roms}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestAPI_CatalogRoutes(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")

	code, out := ts.do(t, http.MethodGet, "/api/platforms", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, out["platforms"], 1)

	code, out = ts.do(t, http.MethodGet, "/api/games/gb?q=tetris", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Nintendo Game Boy", out["platform"])
	assert.Len(t, out["games"], 1)

	code, out = ts.do(t, http.MethodGet, "/api/search?q=manual", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, out["results"], 1)

	code, out = ts.do(t, http.MethodGet, "/api/games/dreamcast", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, out["success"])
}

func TestAPI_DownloadFlow(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("rom data"))
	}))
	defer files.Close()
	ts := newTestServer(t, files.URL)

	code, out := ts.do(t, http.MethodPost, "/api/download", map[string]interface{}{
		"platform":  "gb",
		"game_name": "Tetris (World).gb",
	})
	require.Equal(t, http.StatusAccepted, code, out)
	id, _ := out["task_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, false, out["force_extract"])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := ts.engine.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, history.StatusOK, res.Status)

	data, err := os.ReadFile(filepath.Join(ts.roms, "gb", "Tetris (World).gb"))
	require.NoError(t, err)
	assert.Equal(t, "rom data", string(data))

	code, out = ts.do(t, http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, out["history"], 1)

	code, out = ts.do(t, http.MethodGet, "/api/progress", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, out["downloads"], 0)

	code, _ = ts.do(t, http.MethodPost, "/api/clear-history", nil)
	assert.Equal(t, http.StatusOK, code)
	_, out = ts.do(t, http.MethodGet, "/api/history", nil)
	assert.Len(t, out["history"], 0)
}

func TestAPI_DownloadRejectsUnsupportedExtension(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")

	code, out := ts.do(t, http.MethodPost, "/api/download", map[string]interface{}{
		"platform":  "gb",
		"game_name": "Manual (World).pdf",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, false, out["success"])

	code, _ = ts.do(t, http.MethodPost, "/api/download", map[string]interface{}{
		"platform":  "gb",
		"game_name": "Missing Game",
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_CancelValidation(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")

	code, _ := ts.do(t, http.MethodPost, "/api/cancel", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/cancel", map[string]interface{}{"url": "http://nothing.invalid/x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, out := ts.do(t, http.MethodPost, "/api/cancel", map[string]interface{}{"task_id": "unknown"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
}

func TestAPI_SettingsApplyToEngine(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")

	code, out := ts.do(t, http.MethodPost, "/api/settings", map[string]interface{}{
		"max_concurrent": 5,
		"symlink_path":   true,
		"web_addr":       "127.0.0.1:8080",
		"host_limits":    map[string]int{"Archive.org": 2, "1fichier.com": 0},
	})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, 5, ts.engine.MaxConcurrent())
	assert.Equal(t, map[string]int{"archive.org": 2}, ts.engine.HostLimits())

	_, out = ts.do(t, http.MethodGet, "/api/settings", nil)
	settings := out["settings"].(map[string]interface{})
	assert.Equal(t, float64(5), settings[config.KeyMaxConcurrent])
	assert.Equal(t, true, settings[config.KeySymlinkPath])
	assert.Equal(t, "127.0.0.1:8080", settings[config.KeyWebAddr])

	_, out = ts.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, "2.2.1.0", out["version"])
	assert.Equal(t, float64(5), out["max_concurrent"])
	assert.Equal(t, map[string]interface{}{"archive.org": float64(2)}, out["host_limits"])
}

func TestAPI_SpeedTest(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")
	rec := &fakeSpeedTests{}
	ts.deps.SpeedTests = rec
	ts.runSpeedTest = func(ctx context.Context, r network.SpeedTestRecorder) (*network.SpeedTestResult, error) {
		res := &network.SpeedTestResult{DownloadSpeed: 93.5, ServerName: "Paris"}
		return res, r.SaveSpeedTest(res.History())
	}

	code, out := ts.do(t, http.MethodPost, "/api/speedtest", nil)
	require.Equal(t, http.StatusOK, code, out)
	result := out["result"].(map[string]interface{})
	assert.Equal(t, 93.5, result["download_mbps"])
	assert.Len(t, rec.saved, 1)

	ts.runSpeedTest = func(ctx context.Context, r network.SpeedTestRecorder) (*network.SpeedTestResult, error) {
		return nil, network.ErrOffline
	}
	code, _ = ts.do(t, http.MethodPost, "/api/speedtest", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAPI_StatsUnavailableWithoutStorage(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")
	code, out := ts.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, out["success"])

	code, _ = ts.do(t, http.MethodGet, "/api/records", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, out = ts.do(t, http.MethodGet, "/api/logs", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, out["logs"], 0)
}

func TestAPI_ArchiveRoutes(t *testing.T) {
	ts := newTestServer(t, "http://example.invalid")
	db, err := storage.NewStorage(filepath.Join(t.TempDir(), "rgsx.db"))
	require.NoError(t, err)
	defer db.Close()
	ts.deps.Archive = db

	require.NoError(t, db.SaveRecord(storage.DownloadRecord{ID: "a", URL: "https://myrient.erista.me/Tetris.gb", GameName: "Tetris.gb", Status: "download_ok", FinishedAt: "2026-01-01T10:00:00Z"}))
	require.NoError(t, db.SaveRecord(storage.DownloadRecord{ID: "b", URL: "https://1fichier.com/?halo", GameName: "Halo.zip", Status: "error", FinishedAt: "2026-01-02T10:00:00Z"}))
	require.NoError(t, db.SaveRecord(storage.DownloadRecord{ID: "c", URL: "https://1fichier.com/?halo", GameName: "Halo.zip", Status: "download_ok", FinishedAt: "2026-01-03T10:00:00Z"}))
	require.NoError(t, db.SaveSpeedTest(storage.SpeedTestHistory{DownloadSpeed: 50, Timestamp: "2026-01-01T10:00:00Z"}))

	code, out := ts.do(t, http.MethodGet, "/api/records?limit=2", nil)
	require.Equal(t, http.StatusOK, code, out)
	records := out["records"].([]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].(map[string]interface{})["id"])

	code, out = ts.do(t, http.MethodGet, "/api/records/a", nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Tetris.gb", out["record"].(map[string]interface{})["game_name"])

	code, _ = ts.do(t, http.MethodGet, "/api/records/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// The latest attempt for a URL wins
	code, out = ts.do(t, http.MethodGet, "/api/records?url="+url.QueryEscape("https://1fichier.com/?halo"), nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "c", out["record"].(map[string]interface{})["id"])

	code, _ = ts.do(t, http.MethodGet, "/api/records?url="+url.QueryEscape("https://example.com/none"), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = ts.do(t, http.MethodGet, "/api/speedtest/history", nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Len(t, out["history"], 1)
}
