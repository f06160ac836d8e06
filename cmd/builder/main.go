// Package main builds RGSX binaries and the release archive.
// Usage: go run ./cmd/builder [check|build|release]
package main

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

const (
	appName    = "rgsx"
	versionPkg = "rgsx/internal/app.Version"
	versionSrc = "internal/app/app.go"
	releaseDir = "build/release"
)

// Batocera and RetroBat targets. All builds are CGO-free.
var releaseTargets = []struct {
	goos   string
	goarch string
	goarm  string
}{
	{"linux", "amd64", ""},
	{"linux", "arm64", ""},
	{"linux", "arm", "7"},
	{"windows", "amd64", ""},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "check":
		runCheck()
	case "build":
		runBuild()
	case "release":
		runRelease()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`
RGSX Build System
=================

Usage: go run ./cmd/builder <command>

Commands:
  check     Verify the Go toolchain and read the version
  build     Build rgsx for the current platform into build/bin
  release   Cross-compile every target and package RGSX_v<version>.zip
  help      Show this help message`)
}

func runCheck() string {
	fmt.Println("🔍 Checking required tools...")

	out, err := exec.Command("go", "version").Output()
	if err != nil {
		fmt.Println("❌ CRITICAL: go is missing or not in PATH")
		os.Exit(1)
	}
	fmt.Printf("✅ go: %s\n", strings.TrimSpace(string(out)))

	version, err := readVersion(versionSrc)
	if err != nil {
		fmt.Printf("❌ Cannot read version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ version: %s\n", version)
	return version
}

var versionRe = regexp.MustCompile(`var Version = "([^"]+)"`)

func readVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	m := versionRe.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no Version declaration in %s", path)
	}
	return string(m[1]), nil
}

func runBuild() {
	version := runCheck()

	fmt.Printf("\n🔨 Building for %s/%s...\n", runtime.GOOS, runtime.GOARCH)
	out := filepath.Join("build", "bin", binaryName(runtime.GOOS))
	if err := goBuild(version, out, nil); err != nil {
		fmt.Printf("❌ Build failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Build completed successfully!")
	printBuildArtifacts("build/bin")
}

func runRelease() {
	version := runCheck()

	fmt.Println("\n📦 Building release packages...")
	stage := filepath.Join(releaseDir, "stage")
	os.RemoveAll(stage)
	if err := os.MkdirAll(stage, 0755); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	var built []string
	for _, t := range releaseTargets {
		arch := t.goarch
		if t.goarm != "" {
			arch += "v" + t.goarm
		}
		fmt.Printf("\n🔨 Building for %s/%s...\n", t.goos, arch)

		env := []string{"GOOS=" + t.goos, "GOARCH=" + t.goarch, "CGO_ENABLED=0"}
		if t.goarm != "" {
			env = append(env, "GOARM="+t.goarm)
		}
		name := fmt.Sprintf("%s-%s-%s", appName, t.goos, arch)
		if t.goos == "windows" {
			name += ".exe"
		}
		if err := goBuild(version, filepath.Join(stage, name), env); err != nil {
			fmt.Printf("❌ Build failed for %s/%s: %v\n", t.goos, arch, err)
			continue
		}
		built = append(built, name)
	}

	if len(built) == 0 {
		fmt.Println("❌ No target built")
		os.Exit(1)
	}

	archive := filepath.Join(releaseDir, fmt.Sprintf("RGSX_v%s.zip", version))
	if err := zipFiles(stage, built, archive); err != nil {
		fmt.Printf("❌ Packaging failed: %v\n", err)
		os.Exit(1)
	}
	os.RemoveAll(stage)

	fmt.Println("\n✅ Release build completed!")
	printBuildArtifacts(releaseDir)
}

func binaryName(goos string) string {
	if goos == "windows" {
		return appName + ".exe"
	}
	return appName
}

func goBuild(version, out string, env []string) error {
	ldflags := fmt.Sprintf("-s -w -X %s=%s", versionPkg, version)
	cmd := exec.Command("go", "build", "-trimpath", "-ldflags", ldflags, "-o", out, "./cmd/rgsx")
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func printBuildArtifacts(dir string) {
	fmt.Println("\n📁 Build artifacts:")
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size := float64(info.Size()) / (1024 * 1024)
			fmt.Printf("   %s (%.1f MB)\n", path, size)
		}
		return nil
	})
}

// zipFiles stores names from dir at the root of target
func zipFiles(dir string, names []string, target string) error {
	zipFile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	archive := zip.NewWriter(zipFile)
	defer archive.Close()

	for _, name := range names {
		if err := addFile(archive, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}
	return nil
}

func addFile(archive *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	// keep the executable bit for Linux targets
	header.SetMode(0755)

	writer, err := archive.CreateHeader(header)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	return err
}
