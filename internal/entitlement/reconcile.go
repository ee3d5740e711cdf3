package entitlement

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dryas/packsync/internal/logging"
)

// legacyMirrorDir is the alternate config directory kept in sync beside
// the primary one. Older builds of the product read from it.
const legacyMirrorDir = "legacy"

// Status is the computed state of one pack. Enabled is meaningful only
// when Registered is true. Owned means the files are present without a
// registration in the config file — the pack came with the product rather
// than through this tool — except free packs, which count as owned
// whenever installed.
type Status struct {
	Info       Info
	Installed  bool
	Complete   bool
	Registered bool
	Enabled    bool
	Owned      bool
	FileCount  int
}

// Reconciler aggregates on-disk pack presence with adapter-reported
// registration into per-pack statuses and corrective deltas. Statuses are
// computed fresh on every call; the config file can change out-of-band.
type Reconciler struct {
	catalog *Catalog
}

// NewReconciler returns a reconciler over the given catalog.
func NewReconciler(catalog *Catalog) *Reconciler {
	return &Reconciler{catalog: catalog}
}

// Statuses computes the status of every catalog entry. The config file
// content is read exactly once and reused for every entry. A missing
// config format is not an error here: packs still report their on-disk
// presence with Registered false, so detection problems never block
// status queries.
func (r *Reconciler) Statuses(root string) ([]Status, error) {
	adapter, content, _, err := r.readConfig(root)
	if err != nil && !errors.Is(err, ErrNoAdapter) {
		return nil, err
	}

	statuses := make([]Status, 0, r.catalog.Len())
	for _, info := range r.catalog.Entries() {
		s := Status{Info: info}
		s.Installed, s.Complete, s.FileCount = scanPack(root, info.Code)

		if adapter != nil {
			if enabled, registered := readEntryState(adapter, content, info); registered {
				s.Registered = true
				s.Enabled = enabled
			}
		}

		if info.Type == Free {
			s.Owned = s.Installed
		} else {
			s.Owned = s.Installed && !s.Registered
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// ApplyChanges performs a total rewrite of the config file: every catalog
// entry is explicitly set enabled or disabled based on membership in
// enabledIDs. Not being a diff against previous state makes the operation
// idempotent and immune to drift. Fails with ErrNoAdapter when no format
// is present.
func (r *Reconciler) ApplyChanges(root string, enabledIDs map[string]bool) error {
	adapter, content, path, err := r.readConfig(root)
	if err != nil {
		return err
	}

	for _, info := range r.catalog.Entries() {
		enabled := enabledIDs[info.ID]
		content = adapter.WriteState(content, info.Code, enabled)
		if info.SecondaryCode != "" {
			// Keep the secondary code agreeing with the primary so reads
			// are never order-dependent.
			content = adapter.WriteState(content, info.SecondaryCode, enabled)
		}
	}

	return r.writeConfig(path, content)
}

// AutoReconcile derives the target enabled set purely from on-disk pack
// presence and rewrites the config only when the computed set differs from
// the current one. Returns exactly the entries whose state changed, keyed
// by pack ID with the new enabled flag.
func (r *Reconciler) AutoReconcile(root string) (map[string]bool, error) {
	statuses, err := r.Statuses(root)
	if err != nil {
		return nil, err
	}

	target := make(map[string]bool)
	delta := make(map[string]bool)
	for _, s := range statuses {
		want := s.Installed
		if want {
			target[s.Info.ID] = true
		}
		current := s.Registered && s.Enabled
		if current != want {
			delta[s.Info.ID] = want
		}
	}

	if len(delta) == 0 {
		logging.Debugf("Verbose: auto-reconcile found nothing to change\n")
		return delta, nil
	}

	if err := r.ApplyChanges(root, target); err != nil {
		return nil, err
	}
	logging.Debugf("Verbose: auto-reconcile changed %d entries\n", len(delta))
	return delta, nil
}

// ExportEnabled captures the enabled flags of currently-registered entries
// so a destructive external operation can restore user intent afterwards.
// Unregistered entries are not exported.
func (r *Reconciler) ExportEnabled(root string) (map[string]bool, error) {
	adapter, content, _, err := r.readConfig(root)
	if err != nil {
		return nil, err
	}

	exported := make(map[string]bool)
	for _, info := range r.catalog.Entries() {
		if enabled, registered := readEntryState(adapter, content, info); registered {
			exported[info.ID] = enabled
		}
	}
	return exported, nil
}

// ImportEnabled re-derives and writes the full enabled set from a
// previously exported snapshot.
func (r *Reconciler) ImportEnabled(root string, exported map[string]bool) error {
	enabled := make(map[string]bool, len(exported))
	for id, on := range exported {
		if on {
			enabled[id] = true
		}
	}
	return r.ApplyChanges(root, enabled)
}

// readConfig runs format detection (never cached) and reads the config
// content once. Returns ErrNoAdapter when no format is present.
func (r *Reconciler) readConfig(root string) (Adapter, string, string, error) {
	adapter, err := DetectAdapter(root)
	if err != nil {
		return nil, "", "", err
	}
	path, ok := adapter.Locate(root)
	if !ok {
		return nil, "", "", ErrNoAdapter
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", "", fmt.Errorf("reading %s: %w", path, err)
	}
	return adapter, string(data), path, nil
}

// writeConfig writes the rewritten content and mirrors it into the legacy
// config directory when one exists alongside the primary file. A mirror
// failure is non-fatal: the primary write already succeeded.
func (r *Reconciler) writeConfig(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	legacyDir := filepath.Join(filepath.Dir(path), legacyMirrorDir)
	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		mirror := filepath.Join(legacyDir, filepath.Base(path))
		if err := os.WriteFile(mirror, []byte(content), 0o644); err != nil {
			logging.Warnf("could not mirror config to %s: %v\n", mirror, err)
		} else {
			logging.Debugf("Verbose: mirrored config to %s\n", mirror)
		}
	}
	return nil
}

// readEntryState resolves an entry's registration, preferring the primary
// code when both codes appear with disagreeing states.
func readEntryState(adapter Adapter, content string, info Info) (enabled, registered bool) {
	codes := []string{info.Code}
	if info.SecondaryCode != "" {
		codes = append(codes, info.SecondaryCode)
	}
	states := adapter.ReadStates(content, codes)
	if v, ok := states[info.Code]; ok {
		return v, true
	}
	if info.SecondaryCode != "" {
		if v, ok := states[info.SecondaryCode]; ok {
			return v, true
		}
	}
	return false, false
}

// scanPack inspects the pack's directory under root. A pack is installed
// when its directory exists, and complete when it contains at least one
// file and no leftover partial downloads.
func scanPack(root, code string) (installed, complete bool, fileCount int) {
	dir := filepath.Join(root, code)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false, false, 0
	}

	partial := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".part", ".tmp":
			partial = true
		default:
			fileCount++
		}
		return nil
	})

	return true, fileCount > 0 && !partial, fileCount
}
