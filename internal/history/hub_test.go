package history

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, interval time.Duration) (*Hub, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "history.json"), quietLogger())
	hub := NewHub(store, quietLogger(), interval)
	t.Cleanup(hub.Close)
	return hub, store
}

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"), quietLogger())
	in := []Entry{
		{Platform: "Nintendo Game Boy", GameName: "Tetris.zip", Status: StatusOK, URL: "u1", Progress: 100, Timestamp: Now()},
		{Platform: "Sony PlayStation 3", GameName: "Game.rar", Status: StatusError, URL: "u2", Message: "RD: File not found"},
	}
	require.NoError(t, store.Save(in))

	out := store.Load()
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Platform, out[i].Platform)
		assert.Equal(t, in[i].GameName, out[i].GameName)
		assert.Equal(t, in[i].Status, out[i].Status)
	}
	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not be left behind")
}

func TestStore_WritesEveryRequiredKey(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"), quietLogger())
	require.NoError(t, store.Save([]Entry{
		{TaskID: "t", Platform: "Nintendo Game Boy", GameName: "Tetris.zip", Status: StatusDownloading, URL: "u", Timestamp: Now()},
	}))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	for _, key := range []string{"platform", "game_name", "status", "url", "progress", "message", "timestamp"} {
		assert.Contains(t, raw[0], key)
	}
	assert.Equal(t, "", raw[0]["message"])
}

func TestStore_LoadRejectsCorruptFiles(t *testing.T) {
	cases := map[string]string{
		"empty":       "   ",
		"not a list":  `{"platform": "x"}`,
		"bad json":    `[{"platform": `,
		"missing key": `[{"platform": "p", "game_name": "g", "status": "error"}, {"platform": "p", "game_name": "g"}]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			assert.Empty(t, NewStore(path, quietLogger()).Load())
		})
	}

	assert.Empty(t, NewStore(filepath.Join(t.TempDir(), "missing.json"), quietLogger()).Load())
}

func TestHub_OneActiveEntryPerURL(t *testing.T) {
	hub, _ := newTestHub(t, time.Hour)

	require.NoError(t, hub.Append(Entry{TaskID: "a", URL: "u", Platform: "p", GameName: "g", Status: StatusQueued}))
	err := hub.Append(Entry{TaskID: "b", URL: "u", Platform: "p", GameName: "g", Status: StatusQueued})
	assert.ErrorIs(t, err, ErrActive)

	hub.Publish(Update{TaskID: "a", URL: "u", Status: StatusCanceled, Message: "Download canceled"})
	require.NoError(t, hub.Append(Entry{TaskID: "b", URL: "u", Platform: "p", GameName: "g", Status: StatusQueued}))

	active := 0
	for _, e := range hub.Snapshot() {
		if e.URL == "u" && e.Status.Active() {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestHub_ProgressIsMonotonicWithinPhase(t *testing.T) {
	hub, _ := newTestHub(t, time.Hour)
	require.NoError(t, hub.Append(Entry{TaskID: "t", URL: "u", Platform: "p", GameName: "g", Status: StatusQueued}))

	hub.Publish(Update{TaskID: "t", URL: "u", Status: StatusDownloading})
	hub.Publish(Update{TaskID: "t", URL: "u", Downloaded: 500, Total: 1000, Speed: 1.5})
	hub.Publish(Update{TaskID: "t", URL: "u", Downloaded: 300, Total: 1000})
	hub.Publish(Update{TaskID: "t", URL: "u", Downloaded: 5000, Total: 1000})

	e, ok := hub.Get("t")
	require.True(t, ok)
	assert.Equal(t, StatusDownloading, e.Status)
	assert.Equal(t, 100, e.Progress)

	hub.Publish(Update{TaskID: "t", URL: "u", Status: StatusExtracting, Percent: 0})
	e, _ = hub.Get("t")
	assert.Equal(t, StatusExtracting, e.Status)
	assert.Equal(t, 0, e.Progress, "a new phase restarts at its own percentage")

	hub.Publish(Update{TaskID: "t", URL: "u", Percent: 40})
	hub.Publish(Update{TaskID: "t", URL: "u", Percent: 20})
	e, _ = hub.Get("t")
	assert.Equal(t, 40, e.Progress)

	hub.Publish(Update{TaskID: "t", URL: "u", Status: StatusOK, Message: "Downloaded and extracted g"})
	e, _ = hub.Get("t")
	assert.Equal(t, StatusOK, e.Status)
	assert.Equal(t, 100, e.Progress)
	assert.Zero(t, e.Speed)

	// Terminal entries no longer match
	hub.Publish(Update{TaskID: "t", URL: "u", Status: StatusError})
	e, _ = hub.Get("t")
	assert.Equal(t, StatusOK, e.Status)
}

func TestHub_ThrottlesProgressButFlushesPhases(t *testing.T) {
	hub, store := newTestHub(t, time.Hour)
	require.NoError(t, hub.Append(Entry{TaskID: "t", URL: "u", Platform: "p", GameName: "g", Status: StatusDownloading}))

	hub.Publish(Update{TaskID: "t", URL: "u", Downloaded: 10, Total: 100})
	hub.Snapshot() // barrier
	onDisk := store.Load()
	require.Len(t, onDisk, 1)
	assert.Equal(t, 0, onDisk[0].Progress, "progress-only change should wait for the flush interval")

	hub.Publish(Update{TaskID: "t", URL: "u", Status: StatusError, Message: "boom"})
	hub.Snapshot()
	onDisk = store.Load()
	assert.Equal(t, StatusError, onDisk[0].Status)
	assert.Equal(t, "boom", onDisk[0].Message)
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	hub, _ := newTestHub(t, 10*time.Millisecond)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, hub.Append(Entry{TaskID: id, URL: "u-" + id, Platform: "p", GameName: id, Status: StatusDownloading}))
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := int64(0); i <= 100; i++ {
				hub.Publish(Update{TaskID: id, URL: "u-" + id, Downloaded: i, Total: 100})
			}
			hub.Publish(Update{TaskID: id, URL: "u-" + id, Status: StatusOK})
		}(id)
	}
	wg.Wait()

	for _, e := range hub.Snapshot() {
		assert.Equal(t, StatusOK, e.Status, e.TaskID)
		assert.Equal(t, 100, e.Progress, e.TaskID)
	}
}

func TestHub_ClearKeepsActive(t *testing.T) {
	hub, store := newTestHub(t, time.Hour)
	require.NoError(t, hub.Append(Entry{TaskID: "done", URL: "u1", Platform: "p", GameName: "g", Status: StatusOK}))
	require.NoError(t, hub.Append(Entry{TaskID: "live", URL: "u2", Platform: "p", GameName: "g", Status: StatusDownloading}))

	require.NoError(t, hub.Clear())
	snap := hub.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "live", snap[0].TaskID)
	assert.Len(t, store.Load(), 1)
}

func TestHub_RecoverInterrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewStore(path, quietLogger())
	require.NoError(t, store.Save([]Entry{
		{TaskID: "x", URL: "u", Platform: "p", GameName: "g", Status: StatusDownloading, Progress: 42},
		{TaskID: "y", URL: "v", Platform: "p", GameName: "g", Status: StatusOK, Progress: 100},
	}))

	hub := NewHub(store, quietLogger(), 0)
	defer hub.Close()

	assert.Equal(t, 1, hub.RecoverInterrupted())
	e, _ := hub.Get("x")
	assert.Equal(t, StatusError, e.Status)
	assert.Equal(t, InterruptedMessage, e.Message)
	assert.Equal(t, StatusError, store.Load()[0].Status)
}

func TestHub_CloseFlushesPending(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"), quietLogger())
	hub := NewHub(store, quietLogger(), time.Hour)
	require.NoError(t, hub.Append(Entry{TaskID: "t", URL: "u", Platform: "p", GameName: "g", Status: StatusDownloading}))
	hub.Publish(Update{TaskID: "t", URL: "u", Downloaded: 70, Total: 100})
	hub.Close()

	assert.Equal(t, 70, store.Load()[0].Progress)
	assert.ErrorIs(t, hub.Append(Entry{URL: "z"}), ErrClosed)
}
