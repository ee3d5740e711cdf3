package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dryas/packsync/internal/logging"
)

// ErrInvalidRoot reports that the given directory does not look like a
// product installation at all, as opposed to one whose version merely
// cannot be identified.
var ErrInvalidRoot = errors.New("not a product installation directory")

// markerPaths are structural paths that exist in every install regardless
// of version. They are distinct from sentinel files: markers reject a
// wrong directory early, sentinels identify the version.
var markerPaths = []string{
	"Game/Bin",
	"Data/Client",
}

// Confidence is the detector's certainty in a version identification.
type Confidence int

const (
	Unknown Confidence = iota
	Probable
	Definitive
)

func (c Confidence) String() string {
	switch c {
	case Definitive:
		return "definitive"
	case Probable:
		return "probable"
	default:
		return "unknown"
	}
}

// Result is one version identification. Version is empty when no record
// matched; Matched lists every candidate tied at or below the top rank.
type Result struct {
	Version     string
	Confidence  Confidence
	LocalHashes map[string]string
	Matched     []Candidate
}

// Validate verifies the structural marker paths exist under root so an
// obviously wrong directory fails with a dedicated error instead of a
// silent Unknown detection.
func Validate(root string) error {
	for _, marker := range markerPaths {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(marker))); err != nil {
			return fmt.Errorf("%w: missing %s", ErrInvalidRoot, marker)
		}
	}
	return nil
}

// Detect hashes the store's sentinel files under root and ranks version
// records against them. Sentinel files missing on disk are simply absent
// from the local map, not an error. Confidence is Definitive when exactly
// one candidate holds the top matched count, Probable when two or more
// tie, Unknown when nothing matched.
func Detect(root string, store *Store) (*Result, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}

	local := make(map[string]string)
	for _, sentinel := range store.Sentinels() {
		path := filepath.Join(root, filepath.FromSlash(sentinel))
		hash, err := hashFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("hashing %s: %w", sentinel, err)
		}
		local[sentinel] = hash
		logging.Debugf("Verbose: sentinel %s hash=%s\n", sentinel, hash)
	}

	res := &Result{LocalHashes: local, Matched: store.Lookup(local)}
	if len(res.Matched) == 0 {
		return res, nil
	}

	top := res.Matched[0].Matched
	tied := 0
	for _, c := range res.Matched {
		if c.Matched == top {
			tied++
		}
	}

	res.Version = res.Matched[0].Version
	if tied == 1 {
		res.Confidence = Definitive
	} else {
		res.Confidence = Probable
	}
	logging.Debugf("Verbose: detection version=%s confidence=%s candidates=%d\n", res.Version, res.Confidence, len(res.Matched))
	return res, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
