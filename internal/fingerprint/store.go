package fingerprint

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dryas/packsync/internal/buildver"
	"github.com/dryas/packsync/internal/logging"
)

// LearnedFile is the on-disk name of the locally-learned fingerprint layer,
// kept next to the tool's other state under the user config directory.
const LearnedFile = "fingerprints.json"

// Store is the layered fingerprint database mapping version identifiers to
// per-sentinel content hashes. Layers are merged in priority order
// (bundled < learned < manifest < crowd-sourced); a later layer may replace
// an individual sentinel value but never removes entries contributed by an
// earlier one.
type Store struct {
	sentinels []string
	versions  map[string]map[string]string

	// learned holds only the locally-observed layer, persisted separately
	// so re-merging the bundled data on next start stays cheap.
	learned     map[string]map[string]string
	learnedPath string
	dirty       bool
}

// storeFile is the persisted shape of the learned layer.
type storeFile struct {
	SentinelFiles []string                     `json:"sentinel_files"`
	Versions      map[string]map[string]string `json:"versions"`
	Updated       int64                        `json:"updated"`
}

// DefaultLearnedPath returns the learned layer location, using
// XDG_CONFIG_HOME with a fallback to ~/.config.
func DefaultLearnedPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "packsync", LearnedFile)
}

// Candidate is one ranked version match from Lookup.
type Candidate struct {
	Version string
	Matched int
}

// Load builds a store from the bundled dataset and the learned layer at
// learnedPath, if present. A missing or unreadable learned file is not an
// error; the store simply starts from the bundled layer.
func Load(learnedPath string) (*Store, error) {
	s := &Store{
		versions:    make(map[string]map[string]string),
		learned:     make(map[string]map[string]string),
		learnedPath: learnedPath,
	}

	bundled, err := bundledDataset()
	if err != nil {
		return nil, fmt.Errorf("loading bundled fingerprints: %w", err)
	}
	s.sentinels = bundled.SentinelFiles
	for _, v := range slices.Sorted(maps.Keys(bundled.Versions)) {
		s.Merge(v, bundled.Versions[v])
	}

	if learnedPath != "" {
		data, err := os.ReadFile(learnedPath)
		switch {
		case os.IsNotExist(err):
			// First run.
		case err != nil:
			logging.Warnf("could not read learned fingerprints %s: %v\n", learnedPath, err)
		default:
			var f storeFile
			if err := json.Unmarshal(data, &f); err != nil {
				logging.Warnf("could not parse learned fingerprints %s: %v\n", learnedPath, err)
			} else {
				for _, extra := range f.SentinelFiles {
					if !slices.Contains(s.sentinels, extra) {
						s.sentinels = append(s.sentinels, extra)
					}
				}
				for _, v := range slices.Sorted(maps.Keys(f.Versions)) {
					s.Merge(v, f.Versions[v])
					s.learned[v] = maps.Clone(f.Versions[v])
				}
			}
		}
	}

	s.dirty = false
	return s, nil
}

// Sentinels returns the known sentinel paths, relative to the install root.
func (s *Store) Sentinels() []string {
	return slices.Clone(s.sentinels)
}

// Versions returns the number of version records in the store.
func (s *Store) Versions() int {
	return len(s.versions)
}

// Merge folds a partial hash map for one version into the store. Sentinels
// not yet recorded for the version are added; a conflicting value for an
// already-recorded sentinel is replaced (the caller merges layers in
// priority order, so last layer wins). Entries are never removed.
func (s *Store) Merge(version string, partial map[string]string) {
	if version == "" || len(partial) == 0 {
		return
	}
	rec, ok := s.versions[version]
	if !ok {
		rec = make(map[string]string, len(partial))
		s.versions[version] = rec
	}
	for path, hash := range partial {
		rec[path] = hash
		if !slices.Contains(s.sentinels, path) {
			s.sentinels = append(s.sentinels, path)
		}
	}
}

// MergeLayer merges a whole version -> {path: hash} layer in deterministic
// (sorted) version order.
func (s *Store) MergeLayer(layer map[string]map[string]string) {
	for _, v := range slices.Sorted(maps.Keys(layer)) {
		s.Merge(v, layer[v])
	}
}

// Learn records a locally-confirmed fingerprint into both the merged view
// and the persisted learned layer, deferring the disk write to Flush.
func (s *Store) Learn(version string, hashes map[string]string) {
	if version == "" || len(hashes) == 0 {
		return
	}
	s.Merge(version, hashes)

	rec, ok := s.learned[version]
	if !ok {
		rec = make(map[string]string, len(hashes))
		s.learned[version] = rec
	}
	maps.Copy(rec, hashes)
	s.dirty = true
}

// Lookup ranks version records against a local hash map. A version is a
// candidate when every sentinel present in both maps agrees and at least
// one sentinel matched; a record with zero overlap is excluded rather than
// treated as vacuously consistent. Candidates are ordered by descending
// matched-sentinel count, then by descending build order so repeated
// lookups are reproducible.
func (s *Store) Lookup(localHashes map[string]string) []Candidate {
	var candidates []Candidate
	for version, rec := range s.versions {
		matched := 0
		conflict := false
		for path, hash := range rec {
			local, ok := localHashes[path]
			if !ok {
				continue
			}
			if local != hash {
				conflict = true
				break
			}
			matched++
		}
		if conflict || matched == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Version: version, Matched: matched})
	}

	slices.SortFunc(candidates, func(a, b Candidate) int {
		if a.Matched != b.Matched {
			return b.Matched - a.Matched
		}
		return buildver.Compare(b.Version, a.Version)
	})
	return candidates
}

// Dirty reports whether the learned layer has unflushed changes.
func (s *Store) Dirty() bool {
	return s.dirty
}

// Flush persists the learned layer when dirty, using a temp-file write and
// atomic rename so a crash mid-write cannot corrupt the previous file.
func (s *Store) Flush() error {
	if !s.dirty || s.learnedPath == "" {
		return nil
	}

	f := storeFile{
		SentinelFiles: s.sentinels,
		Versions:      s.learned,
		Updated:       time.Now().Unix(),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling fingerprints: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.learnedPath), 0o755); err != nil {
		return fmt.Errorf("creating fingerprint directory: %w", err)
	}

	tmpPath := s.learnedPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing fingerprints: %w", err)
	}
	if err := os.Rename(tmpPath, s.learnedPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing fingerprints: %w", err)
	}

	s.dirty = false
	logging.Debugf("Verbose: flushed learned fingerprints versions=%d path=%s\n", len(s.learned), s.learnedPath)
	return nil
}
