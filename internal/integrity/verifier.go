// Package integrity checks downloaded files before they are post-processed
package integrity

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

// ErrCorruptArchive wraps every archive consistency failure
var ErrCorruptArchive = errors.New("corrupt archive")

// CalculateHash computes the hex digest of a file.
// algorithm should be "sha256" or "md5".
func CalculateHash(filePath string, algorithm string) (string, error) {
	var hasher hash.Hash
	switch algorithm {
	case "sha256":
		hasher = sha256.New()
	case "md5":
		hasher = md5.New()
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", algorithm)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify checks that the file at path matches the expected digest
func Verify(path, algorithm, expected string) error {
	actual, err := CalculateHash(path, algorithm)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// ZipSummary describes a zip that passed TestZip
type ZipSummary struct {
	Files     int
	TotalSize int64 // uncompressed bytes of regular files
}

// TestZip reads every member of the zip and checks its CRC.
// The returned error wraps ErrCorruptArchive and names the first bad member.
func TestZip(ctx context.Context, path string) (ZipSummary, error) {
	var sum ZipSummary
	r, err := zip.OpenReader(path)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if err := checkMember(f); err != nil {
			return sum, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, f.Name, err)
		}
		sum.Files++
		sum.TotalSize += int64(f.UncompressedSize64)
	}
	return sum, nil
}

// checkMember drains f; archive/zip verifies the CRC at EOF
func checkMember(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}
