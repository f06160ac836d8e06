package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(opts Options) *Processor {
	p := NewProcessor(quietLogger(), opts)
	p.SetDelays(0, 0)
	return p
}

// shell returns a fake command running script with args as $1..$n
func shell(ctx context.Context, script string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", append([]string{"-c", script, "sh"}, args...)...)
}

type progressLog struct {
	mu     sync.Mutex
	phases []Phase
	values []int
}

func (l *progressLog) record(phase Phase, pct int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, phase)
	l.values = append(l.values, pct)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func assertMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, want, info.Mode().Perm(), path)
}

func TestZip_ExtractsAndRemovesArchive(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "gb")
	archive := filepath.Join(dir, "Tetris.zip")
	writeZip(t, archive, map[string]string{
		"Tetris.gb":        string(bytes.Repeat([]byte("x"), 100000)),
		"extras/manual.txt": "read me",
	})

	log := &progressLog{}
	res, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: dest}, log.record)
	require.NoError(t, err)
	assert.True(t, res.Extracted)
	assert.Equal(t, 2, res.Files)

	assertMode(t, filepath.Join(dest, "Tetris.gb"), 0644)
	assertMode(t, filepath.Join(dest, "extras", "manual.txt"), 0644)
	_, err = os.Stat(archive)
	assert.True(t, os.IsNotExist(err), "zip should be removed")

	require.NotEmpty(t, log.values)
	assert.Equal(t, 100, log.values[len(log.values)-1])
	for i := 1; i < len(log.values); i++ {
		assert.GreaterOrEqual(t, log.values[i], log.values[i-1])
		assert.Equal(t, PhaseExtracting, log.phases[i])
	}
}

func TestZip_Corrupt(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK not really"), 0644))

	_, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: dir}, nil)
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestZip_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../escape.txt": "boom"})

	_, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: filepath.Join(dir, "dest")}, nil)
	assert.ErrorIs(t, err, ErrCorruptArchive)
	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestZip_EmptyIsSuccess(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "empty.zip")
	writeZip(t, archive, map[string]string{"folder/": ""})

	res, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: dir}, nil)
	require.NoError(t, err)
	assert.True(t, res.Extracted)
	assert.Zero(t, res.Files)
}

func TestZip_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "game.zip")
	writeZip(t, archive, map[string]string{"game.bin": "data"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestProcessor(Options{}).Run(ctx, Request{ArchivePath: archive, DestDir: dir}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZip_XboxConvertsOnlyNewISOs(t *testing.T) {
	dir := t.TempDir()
	xbox := filepath.Join(dir, "xbox")
	require.NoError(t, os.MkdirAll(xbox, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xbox, "Old.iso"), []byte("old"), 0644))

	archive := filepath.Join(dir, "Halo.zip")
	writeZip(t, archive, map[string]string{"Halo.iso": "raw redump image"})

	var (
		mu    sync.Mutex
		calls [][]string
	)
	p := newTestProcessor(Options{XboxDir: xbox, Xdvdfs: "xdvdfs"})
	p.SetExecCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		mu.Lock()
		calls = append(calls, append([]string{name}, args...))
		mu.Unlock()
		// xdvdfs pack <src> <out>
		return shell(ctx, `printf converted > "$3"`, args...)
	})

	log := &progressLog{}
	res, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: xbox}, log.record)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)

	require.Len(t, calls, 1)
	assert.Equal(t, "xdvdfs", calls[0][0])
	assert.Equal(t, "pack", calls[0][1])
	assert.Equal(t, "Halo.iso", filepath.Base(calls[0][2]))
	assert.Equal(t, "Halo_xbox.iso", filepath.Base(calls[0][3]))

	data, err := os.ReadFile(filepath.Join(xbox, "Halo.iso"))
	require.NoError(t, err)
	assert.Equal(t, "converted", string(data))
	old, _ := os.ReadFile(filepath.Join(xbox, "Old.iso"))
	assert.Equal(t, "old", string(old))
	assert.Contains(t, log.phases, PhaseConverting)
}

func TestZip_XboxConversionFailureFailsTask(t *testing.T) {
	dir := t.TempDir()
	xbox := filepath.Join(dir, "xbox")
	archive := filepath.Join(dir, "Halo.zip")
	writeZip(t, archive, map[string]string{"Halo.iso": "image"})

	p := newTestProcessor(Options{XboxDir: xbox})
	p.SetExecCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return shell(ctx, `echo "bad image" >&2; exit 2`, args...)
	})

	_, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: xbox}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad image")
}

func TestZip_XboxMissingOutput(t *testing.T) {
	dir := t.TempDir()
	xbox := filepath.Join(dir, "xbox")
	archive := filepath.Join(dir, "Halo.zip")
	writeZip(t, archive, map[string]string{"Halo.iso": "image"})

	p := newTestProcessor(Options{XboxDir: xbox})
	p.SetExecCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return shell(ctx, `exit 0`, args...)
	})

	_, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: xbox}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

const rarListing = `
UNRAR 7.00 freeware      Copyright (c) 1993-2024 Alexander Roshal

Archive: game.rar
Details: RAR 5

 Attributes      Size     Date    Time   Name
----------- ---------  ---------- -----  ----
 -rw-r--r--      2048  2024-01-01 10:00  Demons Souls/PS3_GAME/USRDIR/EBOOT.BIN
 -rw-r--r--       512  2024-01-01 10:00  Demons Souls/PS3_DISC.SFB
 drwxr-xr-x         0  2024-01-01 10:00  Demons Souls/PS3_GAME
    ..A....      100  2024-01-01 10:00  Demons Souls/readme.txt
    ...D...        0  2024-01-01 10:00  Demons Souls
----------- ---------  ---------- -----  ----
                 2660                    3
`

func TestParseRarListing(t *testing.T) {
	entries, total := parseRarListing(rarListing)
	assert.Equal(t, int64(2660), total)
	require.Len(t, entries, 3)
	assert.Equal(t, "Demons Souls/PS3_GAME/USRDIR/EBOOT.BIN", entries[0].Name)
	assert.Equal(t, int64(2048), entries[0].Size)
	assert.Equal(t, "Demons Souls/readme.txt", entries[2].Name)

	_, total = parseRarListing("no table here")
	assert.Zero(t, total)
}

// fakeUnrar answers the availability probe, the listing and the extraction
func fakeUnrar(listing string) execCommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		switch {
		case len(args) == 0:
			return shell(ctx, `echo usage; exit 1`)
		case args[0] == "l":
			return shell(ctx, `printf '%s' "$1"`, listing)
		default:
			// x -y <archive> <dest>/
			script := `d="$4"
mkdir -p "$d/Demons Souls/PS3_GAME/USRDIR"
printf eboot > "$d/Demons Souls/PS3_GAME/USRDIR/EBOOT.BIN"
printf sfb > "$d/Demons Souls/PS3_DISC.SFB"
printf txt > "$d/Demons Souls/readme.txt"
chmod 600 "$d/Demons Souls/readme.txt"`
			return shell(ctx, script, args...)
		}
	}
}

func TestRar_ExtractsAndRenamesPS3Folder(t *testing.T) {
	dir := t.TempDir()
	ps3 := filepath.Join(dir, "ps3")
	require.NoError(t, os.MkdirAll(filepath.Join(ps3, "Existing.ps3"), 0755))
	archive := filepath.Join(dir, "Demons Souls.rar")
	require.NoError(t, os.WriteFile(archive, []byte("rar"), 0644))

	p := newTestProcessor(Options{PS3Dir: ps3})
	p.SetExecCommand(fakeUnrar(rarListing))

	log := &progressLog{}
	res, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: ps3}, log.record)
	require.NoError(t, err)
	assert.True(t, res.Extracted)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, filepath.Join(ps3, "Demons Souls.ps3"), res.Renamed)

	assertMode(t, filepath.Join(ps3, "Demons Souls.ps3", "readme.txt"), 0644)
	assertMode(t, filepath.Join(ps3, "Demons Souls.ps3", "PS3_GAME"), 0755)
	_, err = os.Stat(archive)
	assert.True(t, os.IsNotExist(err), "rar should be removed")
	assert.Equal(t, 100, log.values[len(log.values)-1])
}

func TestRar_NotPS3DirSkipsRename(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "psx")
	archive := filepath.Join(dir, "game.rar")
	require.NoError(t, os.WriteFile(archive, []byte("rar"), 0644))

	p := newTestProcessor(Options{PS3Dir: filepath.Join(dir, "ps3")})
	p.SetExecCommand(fakeUnrar(rarListing))

	res, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: dest}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Renamed)
	assert.DirExists(t, filepath.Join(dest, "Demons Souls"))
}

func TestRar_EmptyListingIsError(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "game.rar")
	require.NoError(t, os.WriteFile(archive, []byte("rar"), 0644))

	p := newTestProcessor(Options{})
	p.SetExecCommand(fakeUnrar("nothing"))

	_, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: dir}, nil)
	assert.ErrorIs(t, err, ErrCorruptArchive)
	_, statErr := os.Stat(archive)
	assert.True(t, os.IsNotExist(statErr), "rar is removed even on failure")
}

func TestRar_ToolUnavailable(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "game.rar")
	require.NoError(t, os.WriteFile(archive, []byte("rar"), 0644))

	p := newTestProcessor(Options{})
	p.SetExecCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return shell(ctx, `exit 127`)
	})

	_, err := p.Run(context.Background(), Request{ArchivePath: archive, DestDir: dir}, nil)
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestPS3Hook_SeveralCandidatesOnlyWarn(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "A"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "B"), 0755))

	renamed, err := newTestProcessor(Options{}).ps3Hook(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, renamed)
	assert.DirExists(t, filepath.Join(dir, "A"))
	assert.DirExists(t, filepath.Join(dir, "B"))
}

func TestTarXz_Extracts(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pack.tar.xz")

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pack/", Typeflag: tar.TypeDir, Mode: 0755}))
	body := []byte("rom contents")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pack/game.bin", Typeflag: tar.TypeReg, Mode: 0600, Size: int64(len(body))}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0644))

	dest := filepath.Join(dir, "out")
	res, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: dest}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)

	data, err := os.ReadFile(filepath.Join(dest, "pack", "game.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assertMode(t, filepath.Join(dest, "pack", "game.bin"), 0644)
	_, err = os.Stat(archive)
	assert.True(t, os.IsNotExist(err))
}

func TestXz_DecompressesSingleFile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "game.iso.xz")

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	xw.Write([]byte("iso image"))
	require.NoError(t, xw.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0644))

	res, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: dir}, nil)
	require.NoError(t, err)
	assert.True(t, res.Extracted)
	data, err := os.ReadFile(filepath.Join(dir, "game.iso"))
	require.NoError(t, err)
	assert.Equal(t, "iso image", string(data))
}

func TestUnsupportedArchiveLeftInPlace(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "game.7z")
	require.NoError(t, os.WriteFile(archive, []byte("7z"), 0644))

	res, err := newTestProcessor(Options{}).Run(context.Background(), Request{ArchivePath: archive, DestDir: dir}, nil)
	require.NoError(t, err)
	assert.False(t, res.Extracted)
	assert.FileExists(t, archive)
}
