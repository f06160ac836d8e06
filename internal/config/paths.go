package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// EnvUserData overrides the detected user-data root
const EnvUserData = "RGSX_USERDATA"

// Paths lists every file location the engine touches
type Paths struct {
	UserData string
	Roms     string
	Bios     string
	Save     string

	History    string
	Sources    string
	Games      string
	Extensions string
	ESSystems  string
	Database   string
	Lock       string
	Logs       string

	OneFichierKey string
	AllDebridKey  string
	RealDebridKey string

	Unrar  string
	Xdvdfs string

	PS3Dir  string
	XboxDir string
}

// DefaultPaths detects the user-data root and derives the rest from it
func DefaultPaths() Paths {
	return NewPaths(detectUserData(), "")
}

// NewPaths derives the layout from userData. Tools are looked up under appDir/assets
// when appDir is set, otherwise on PATH.
func NewPaths(userData, appDir string) Paths {
	roms := filepath.Join(userData, "roms")
	save := filepath.Join(userData, "saves", "ports", "rgsx")

	p := Paths{
		UserData: userData,
		Roms:     roms,
		Bios:     filepath.Join(userData, "bios"),
		Save:     save,

		History:    filepath.Join(save, "history.json"),
		Sources:    filepath.Join(save, "systems_list.json"),
		Games:      filepath.Join(save, "games"),
		Extensions: filepath.Join(save, "rom_extensions.json"),
		ESSystems:  "/usr/share/emulationstation/es_systems.cfg",
		Database:   filepath.Join(save, "rgsx.db"),
		Lock:       filepath.Join(save, "rgsx.pid"),
		Logs:       filepath.Join(save, "logs"),

		OneFichierKey: filepath.Join(save, "1FichierAPI.txt"),
		AllDebridKey:  filepath.Join(save, "AllDebridAPI.txt"),
		RealDebridKey: filepath.Join(save, "RealDebridAPI.txt"),

		Unrar:  "unrar",
		Xdvdfs: "xdvdfs",

		PS3Dir:  filepath.Join(roms, "ps3"),
		XboxDir: filepath.Join(roms, "xbox"),
	}

	if appDir != "" {
		assets := filepath.Join(appDir, "assets")
		if runtime.GOOS == "windows" {
			p.Unrar = filepath.Join(assets, "unrar.exe")
			p.Xdvdfs = filepath.Join(assets, "xdvdfs.exe")
		} else {
			p.Xdvdfs = filepath.Join(assets, "xdvdfs")
		}
	}
	return p
}

func detectUserData() string {
	if v := os.Getenv(EnvUserData); v != "" {
		return v
	}
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/userdata"); err == nil && info.IsDir() {
			return "/userdata"
		}
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "RGSX")
	}
	return filepath.Join(configDir, "RGSX")
}

// EnsureDirs creates the directories the engine writes into
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Roms, p.Save, p.Games, p.Logs} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
