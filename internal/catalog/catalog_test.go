package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	sources := `[
		{"platform_name": "Nintendo Game Boy", "folder": "gb"},
		{"platform_name": "SNK Neo Geo", "folder": "neogeo"},
		{"platform_name": "- BIOS by TMCTV -", "folder": "bios"}
	]`
	games := `[
		["Super Mario Land (World).zip", "https://example.com/sml.zip", "64 KiB"],
		["Tetris (World).zip", "https://example.com/tetris.zip", 32768],
		["Mario's Picross (USA).zip", "https://example.com/picross.zip"]
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "systems_list.json"), []byte(sources), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "games"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "games", "Nintendo Game Boy.json"), []byte(games), 0644))
	return New(filepath.Join(dir, "systems_list.json"), filepath.Join(dir, "games"))
}

func TestCatalog_Find(t *testing.T) {
	c := writeCatalog(t)

	p, err := c.Find("snk neo geo")
	require.NoError(t, err)
	assert.Equal(t, "neogeo", p.Folder)

	p, err = c.Find("GB")
	require.NoError(t, err)
	assert.Equal(t, "Nintendo Game Boy", p.Name)

	p, err = c.Find("game boy")
	require.NoError(t, err)
	assert.Equal(t, "gb", p.Folder)

	_, err = c.Find("dreamcast")
	assert.True(t, errors.Is(err, ErrPlatformNotFound))

	assert.Equal(t, "bios", c.FolderFor("- BIOS by TMCTV -"))
	assert.Equal(t, "", c.FolderFor("unknown"))
}

func TestCatalog_GamesParsesRows(t *testing.T) {
	c := writeCatalog(t)

	games, err := c.Games("Nintendo Game Boy")
	require.NoError(t, err)
	require.Len(t, games, 3)
	assert.Equal(t, "64 KiB", games[0].Size)
	assert.Equal(t, "32768", games[1].Size)
	assert.Equal(t, "", games[2].Size)

	g, ok := c.FindGame("Nintendo Game Boy", "tetris (world).zip")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/tetris.zip", g.URL)
}

func TestSearch_Ranking(t *testing.T) {
	games := []Game{
		{Name: "Mario's Picross (USA).zip"},
		{Name: "Super Mario Land (World).zip"},
		{Name: "Land of Mario Super.zip"},
		{Name: "Tetris (World).zip"},
	}

	res := Search(games, "mario land")
	require.Len(t, res, 2)
	assert.Equal(t, "Super Mario Land (World).zip", res[0].Name)
	assert.Equal(t, "Land of Mario Super.zip", res[1].Name)

	res = Search(games, "tetris")
	require.Len(t, res, 1)

	assert.Len(t, Search(games, ""), 4)
}
