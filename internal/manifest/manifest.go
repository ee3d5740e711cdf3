package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dryas/packsync/internal/logging"
)

// DefaultURL is the published update manifest. It can be overridden with
// --manifest-url or the PACKSYNC_MANIFEST_URL environment variable.
const DefaultURL = "https://packsync.dryas.dev/manifest.json"

const envURL = "PACKSYNC_MANIFEST_URL"

// Manifest is the server-declared target state for one sync session.
// An empty Latest means "content-only": skip the binary update check but
// still process the entitlement catalog and downloads.
type Manifest struct {
	Latest          string                       `json:"latest"`
	GameLatest      string                       `json:"game_latest"`
	Patches         []PatchEdge                  `json:"patches"`
	Fingerprints    map[string]map[string]string `json:"fingerprints"`
	FingerprintsURL string                       `json:"fingerprints_url"`
	ReportURL       string                       `json:"report_url"`
	DLCCatalog      []CatalogEntry               `json:"dlc_catalog"`
	DLCDownloads    map[string]File              `json:"dlc_downloads"`
}

// PatchEdge is one declared version-to-version transition and the
// artifacts required to perform it.
type PatchEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Files []File `json:"files"`
	Crack *File  `json:"crack,omitempty"`
}

// File describes one downloadable artifact. MD5 may be empty, in which
// case the transfer is accepted without verification.
type File struct {
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5"`
	Filename string `json:"filename"`
}

// CatalogEntry is an additive entitlement-catalog entry declared by the
// server, merged over the bundled catalog at startup.
type CatalogEntry struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	SecondaryCode string `json:"secondary_code,omitempty"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	SteamAppID    int    `json:"steam_app_id,omitempty"`
}

// TotalSize returns the summed declared artifact size for the edge.
func (e *PatchEdge) TotalSize() int64 {
	var total int64
	for _, f := range e.Files {
		total += f.Size
	}
	return total
}

// URL returns the effective manifest URL, applying the environment
// override when the flag value is empty.
func URL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(envURL); env != "" {
		return env
	}
	return DefaultURL
}

// Fetch downloads and parses the update manifest.
func Fetch(ctx context.Context, url string) (*Manifest, error) {
	data, err := get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	for _, e := range m.Patches {
		if e.From == e.To {
			return nil, fmt.Errorf("parsing manifest: patch edge %q -> %q is a self-loop", e.From, e.To)
		}
	}

	return &m, nil
}

// FetchFingerprints downloads the crowd-sourced fingerprint layer from a
// manifest-provided URL. The payload is the same version -> {path: hash}
// shape as the manifest's inline fingerprints.
func FetchFingerprints(ctx context.Context, url string) (map[string]map[string]string, error) {
	data, err := get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching fingerprints: %w", err)
	}

	var fps map[string]map[string]string
	if err := json.Unmarshal(data, &fps); err != nil {
		return nil, fmt.Errorf("parsing fingerprints: %w", err)
	}
	return fps, nil
}

// Report posts a newly learned fingerprint to the manifest's report URL.
// Fire-and-forget: failures are logged at debug level and never surfaced,
// since reporting is a courtesy to the crowd-sourced layer.
func Report(ctx context.Context, url, version string, hashes map[string]string) {
	if url == "" || version == "" || len(hashes) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]map[string]string{version: hashes})
	if err != nil {
		logging.Debugf("Verbose: fingerprint report marshal failed: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		logging.Debugf("Verbose: fingerprint report request failed: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logging.Debugf("Verbose: fingerprint report failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	logging.Debugf("Verbose: reported fingerprint version=%s sentinels=%d status=%d\n", version, len(hashes), resp.StatusCode)
}

func get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
