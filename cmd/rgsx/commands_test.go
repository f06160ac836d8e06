package main

import (
	"context"
	"testing"

	"rgsx/internal/app"
	"rgsx/internal/config"
	"rgsx/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressLine(t *testing.T) {
	e := history.Entry{
		Status:         history.StatusDownloading,
		Progress:       42,
		DownloadedSize: 21 * megabyte,
		TotalSize:      50 * megabyte,
		Speed:          3.25,
	}
	assert.Equal(t, "Downloading: 42% (21.0/50.0 MB) @ 3.25 MB/s", progressLine(e))

	assert.Equal(t, "Extracting: 10%", progressLine(history.Entry{Status: history.StatusExtracting, Progress: 10}))
	assert.Equal(t, "Converting: 99%", progressLine(history.Entry{Status: history.StatusConverting, Progress: 99}))
	assert.Empty(t, progressLine(history.Entry{Status: history.StatusQueued}))
}

func TestCommandsRejectMissingFlags(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, cmdGames(ctx, nil), errUsage)
	assert.ErrorIs(t, cmdDownload(ctx, []string{"--platform", "gb"}), errUsage)
	assert.ErrorIs(t, cmdDownload(ctx, []string{"--platform", "gb", "--game", "a", "--url", "http://x/a"}), errUsage)
	assert.ErrorIs(t, cmdCancel(ctx, nil), errUsage)
	assert.ErrorIs(t, cmdHistory(ctx, []string{"--bogus"}), errUsage)
	assert.ErrorIs(t, cmdSettings(ctx, []string{"--host-limit", "1fichier.com"}), errUsage)
}

func TestParseHostLimit(t *testing.T) {
	host, limit, err := parseHostLimit(" 1Fichier.com = 2")
	require.NoError(t, err)
	assert.Equal(t, "1fichier.com", host)
	assert.Equal(t, 2, limit)

	host, limit, err = parseHostLimit("archive.org=0")
	require.NoError(t, err)
	assert.Equal(t, "archive.org", host)
	assert.Equal(t, 0, limit)

	for _, bad := range []string{"archive.org", "=2", "archive.org=x", "archive.org=-1"} {
		_, _, err := parseHostLimit(bad)
		assert.Error(t, err, bad)
	}
}

func TestSettingsCommandPersistsWithoutEngine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, cmdSettings(context.Background(), []string{
		"--userdata", dir,
		"--max-concurrent", "4",
		"--speed-limit", "512",
		"--host-limit", "archive.org=2",
		"--host-limit", "1fichier.com=0",
		"--json",
	}))

	a, err := app.New(app.Options{Paths: config.NewPaths(dir, ""), ReadOnly: true})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 4, a.Config.GetMaxConcurrent())
	assert.Equal(t, 512*1024, a.Config.GetSpeedLimit())
	assert.Equal(t, map[string]int{"archive.org": 2}, a.Config.GetHostLimits())
}
