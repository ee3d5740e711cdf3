package fingerprint

import (
	"embed"
	"encoding/json"
)

//go:embed data/fingerprints.json
var bundledFS embed.FS

// bundledDataset parses the fingerprint layer shipped with the binary.
// It is the lowest-priority layer and seeds the sentinel file list.
func bundledDataset() (*storeFile, error) {
	data, err := bundledFS.ReadFile("data/fingerprints.json")
	if err != nil {
		return nil, err
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
