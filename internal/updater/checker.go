package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint publishes the latest release version
const DefaultEndpoint = "https://retrogamesets.fr/softs/version.json"

// Release describes an available update
type Release struct {
	Version string `json:"version"`
	Archive string `json:"archive"` // RGSX_v<version>.zip
}

// CheckForUpdates fetches endpoint and returns the remote release when it differs
// from currentVersion, or nil when up to date.
func CheckForUpdates(ctx context.Context, currentVersion, endpoint string) (*Release, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "RGSX-Updater")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to check update: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return nil, fmt.Errorf("version.json is not valid JSON (content type: %s)", ct)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode version.json: %w", err)
	}
	if rel.Version == "" {
		return nil, fmt.Errorf("version.json has no version")
	}

	// Normalize versions (remove 'v' prefix)
	current := strings.TrimPrefix(currentVersion, "v")
	remote := strings.TrimPrefix(rel.Version, "v")

	if current != remote {
		rel.Version = remote
		rel.Archive = fmt.Sprintf("RGSX_v%s.zip", remote)
		return &rel, nil
	}
	return nil, nil // No update
}
