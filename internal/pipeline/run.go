package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dryas/packsync/internal/entitlement"
	"github.com/dryas/packsync/internal/fetcher"
	"github.com/dryas/packsync/internal/fingerprint"
	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/manifest"
	"github.com/dryas/packsync/internal/planner"
)

// Runner sequences detect -> plan -> fetch -> apply -> re-detect ->
// reconcile. Only one pipeline invocation runs at a time, enforced by a
// single-slot gate rather than fine-grained locking: the reconciler's
// read-then-write against the shared config file is not safe under two
// concurrent runs.
type Runner struct {
	opts    Options
	store   *fingerprint.Store
	catalog *entitlement.Catalog
	rec     *entitlement.Reconciler

	slot chan struct{}

	mu        sync.Mutex
	state     State
	detection *fingerprint.Result
	man       *manifest.Manifest
	plan      *planner.Plan
	artifacts map[int][]string
	snapshot  map[string]bool
}

// NewRunner builds a runner, loading the fingerprint store and the
// entitlement catalog.
func NewRunner(opts Options) (*Runner, error) {
	store, err := fingerprint.Load(fingerprint.DefaultLearnedPath())
	if err != nil {
		return nil, err
	}
	catalog, err := entitlement.LoadCatalog()
	if err != nil {
		return nil, err
	}

	return &Runner{
		opts:      opts,
		store:     store,
		catalog:   catalog,
		rec:       entitlement.NewReconciler(catalog),
		slot:      make(chan struct{}, 1),
		artifacts: make(map[int][]string),
	}, nil
}

// State returns the current pipeline state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Store exposes the fingerprint store for flushing at process exit.
func (r *Runner) Store() *fingerprint.Store {
	return r.store
}

// Catalog returns the entitlement catalog, including any remote additions
// merged during CheckForUpdate.
func (r *Runner) Catalog() *entitlement.Catalog {
	return r.catalog
}

// Reconciler returns the entitlement reconciler.
func (r *Runner) Reconciler() *entitlement.Reconciler {
	return r.rec
}

// Plan returns the update plan computed by CheckForUpdate, nil before it.
func (r *Runner) Plan() *planner.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plan
}

// Run drives the full pipeline once, queuing behind any run already in
// flight. Partial downloads are left in place on failure or cancellation
// for a future resume.
func (r *Runner) Run(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.slot }()

	if _, err := r.DetectVersion(ctx); err != nil {
		return err
	}
	plan, err := r.CheckForUpdate(ctx)
	if err != nil {
		return err
	}
	if plan == nil || plan.UpToDate() {
		r.setState(Done)
		r.emit(Event{Kind: Finished, Message: "already up to date"})
		return nil
	}
	if err := r.DownloadUpdate(ctx); err != nil {
		return err
	}
	if err := r.ApplyPatch(ctx); err != nil {
		return err
	}
	return r.Finalize(ctx)
}

// DetectVersion identifies the installed version from sentinel hashes.
func (r *Runner) DetectVersion(ctx context.Context) (*fingerprint.Result, error) {
	r.setState(Detecting)
	r.emit(Event{Kind: Header, Message: "detecting installed version"})

	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}

	res, err := fingerprint.Detect(r.opts.InstallRoot, r.store)
	if err != nil {
		return nil, r.fail(err)
	}

	r.mu.Lock()
	r.detection = res
	r.mu.Unlock()

	switch res.Confidence {
	case fingerprint.Definitive:
		r.emit(Event{Kind: Info, Message: "installed version " + res.Version})
	case fingerprint.Probable:
		r.emit(Event{Kind: Warning, Message: fmt.Sprintf("ambiguous version, assuming %s (%d candidates)", res.Version, len(res.Matched))})
	default:
		r.emit(Event{Kind: Warning, Message: "installed version unknown"})
	}
	return res, nil
}

// CheckForUpdate fetches the manifest, merges its fingerprint and catalog
// layers, and plans a route to the target version. Returns a nil plan for
// content-only manifests (empty latest and no explicit target).
func (r *Runner) CheckForUpdate(ctx context.Context) (*planner.Plan, error) {
	r.setState(Checking)
	r.emit(Event{Kind: Header, Message: "checking for updates"})

	m, err := manifest.Fetch(ctx, manifest.URL(r.opts.ManifestURL))
	if err != nil {
		return nil, r.fail(err)
	}

	r.store.MergeLayer(m.Fingerprints)
	if m.FingerprintsURL != "" {
		// Crowd-sourced layer is best-effort: a fetch failure only costs
		// detection coverage, never the update itself.
		if crowd, err := manifest.FetchFingerprints(ctx, m.FingerprintsURL); err != nil {
			logging.Warnf("crowd fingerprints unavailable: %v\n", err)
		} else {
			r.store.MergeLayer(crowd)
		}
	}
	r.catalog.MergeRemote(m.DLCCatalog)

	r.mu.Lock()
	r.man = m
	detection := r.detection
	r.mu.Unlock()

	target := r.opts.Target
	if target == "" {
		target = m.Latest
	}
	if target == "" {
		r.emit(Event{Kind: Info, Message: "manifest is content-only, skipping binary update"})
		return nil, nil
	}

	if detection == nil || detection.Version == "" {
		return nil, r.fail(fmt.Errorf("cannot plan update: installed version unknown"))
	}
	if detection.Confidence == fingerprint.Probable && !r.opts.Force {
		return nil, r.fail(fmt.Errorf("ambiguous version detection (%d candidates); re-run with --force to assume %s",
			len(detection.Matched), detection.Version))
	}

	plan, err := planner.Compute(m.Patches, detection.Version, target)
	if err != nil {
		return nil, r.fail(err)
	}

	r.mu.Lock()
	r.plan = plan
	r.mu.Unlock()

	if plan.UpToDate() {
		r.emit(Event{Kind: Info, Message: "already up to date"})
	} else {
		r.emit(Event{Kind: Info, Message: fmt.Sprintf("update %s -> %s: %d steps, %d bytes",
			plan.Current, plan.Target, len(plan.Steps), plan.TotalSize())})
	}
	return plan, nil
}

// DownloadUpdate fetches every artifact of every planned step, one file at
// a time. A failed artifact is recorded and the rest of the batch
// proceeds; the method fails afterwards if anything is missing, leaving
// partial files for resume.
func (r *Runner) DownloadUpdate(ctx context.Context) error {
	r.mu.Lock()
	plan := r.plan
	r.mu.Unlock()
	if plan == nil || plan.UpToDate() {
		return nil
	}

	r.setState(Downloading)
	destDir := r.downloadDir()

	var failed int
	for i, step := range plan.Steps {
		r.emit(Event{Kind: Header, Message: fmt.Sprintf("downloading %s -> %s", step.From, step.To)})

		files := step.Files
		if step.Crack != nil {
			files = append(append([]manifest.File{}, files...), *step.Crack)
		}

		stepDir := filepath.Join(destDir, step.To)
		results := fetcher.FetchAll(ctx, files, stepDir, func(_ int, done, total int64) {
			r.emit(Event{Kind: Progress, BytesDone: done, BytesTotal: total})
		})

		var paths []string
		for _, res := range results {
			if res.Err != nil {
				failed++
				r.emit(Event{Kind: Warning, Message: fmt.Sprintf("failed: %s", res.File.Filename)})
				continue
			}
			paths = append(paths, res.Path)
		}
		r.mu.Lock()
		r.artifacts[i] = paths
		r.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
	}

	if failed > 0 {
		return r.fail(fmt.Errorf("%d artifacts failed to download", failed))
	}
	r.emit(Event{Kind: Info, Message: "all artifacts downloaded"})
	return nil
}

// ApplyPatch snapshots entitlement intent, then hands each step's ordered
// artifact set to the external patch applier. The snapshot happens first
// because applying a full binary patch may reset the config file.
func (r *Runner) ApplyPatch(ctx context.Context) error {
	r.mu.Lock()
	plan := r.plan
	r.mu.Unlock()
	if plan == nil || plan.UpToDate() {
		return nil
	}
	if r.opts.Apply == nil {
		return r.fail(errors.New("no patch applier configured"))
	}

	r.setState(Patching)

	snapshot, err := r.rec.ExportEnabled(r.opts.InstallRoot)
	if err != nil && !errors.Is(err, entitlement.ErrNoAdapter) {
		return r.fail(err)
	}
	r.mu.Lock()
	r.snapshot = snapshot
	r.mu.Unlock()

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		r.emit(Event{Kind: Header, Message: fmt.Sprintf("applying %s -> %s", step.From, step.To)})

		r.mu.Lock()
		paths := r.artifacts[i]
		r.mu.Unlock()

		if err := r.opts.Apply(ctx, step, paths, r.emit); err != nil {
			return r.fail(fmt.Errorf("applying patch %s -> %s: %w", step.From, step.To, err))
		}
	}
	return nil
}

// Finalize re-detects the installed version to confirm the patch landed,
// learns and reports the resulting fingerprint, and restores entitlement
// intent, enabling any packs the patch newly installed.
func (r *Runner) Finalize(ctx context.Context) error {
	r.mu.Lock()
	plan := r.plan
	man := r.man
	snapshot := r.snapshot
	r.mu.Unlock()
	if plan == nil || plan.UpToDate() {
		r.setState(Done)
		return nil
	}

	r.setState(Finalizing)
	r.emit(Event{Kind: Header, Message: "finalizing"})

	res, err := fingerprint.Detect(r.opts.InstallRoot, r.store)
	if err != nil {
		return r.fail(err)
	}
	r.mu.Lock()
	r.detection = res
	r.mu.Unlock()

	switch {
	case res.Confidence == fingerprint.Definitive && res.Version == plan.Target:
		r.emit(Event{Kind: Info, Message: "confirmed version " + res.Version})
	case res.Confidence == fingerprint.Unknown:
		// The fingerprint store has no record for this brand-new build yet.
		// Learn the observed hashes under the target version and share them.
		r.store.Learn(plan.Target, res.LocalHashes)
		if man != nil {
			manifest.Report(ctx, man.ReportURL, plan.Target, res.LocalHashes)
		}
		r.emit(Event{Kind: Info, Message: "learned fingerprint for " + plan.Target})
	default:
		return r.fail(fmt.Errorf("post-patch detection reports %s, expected %s", res.Version, plan.Target))
	}

	if err := r.restoreEntitlements(snapshot); err != nil {
		// The binary update itself succeeded; a config write failure is
		// recoverable by hand via `packsync dlc sync`.
		r.emit(Event{Kind: Warning, Message: fmt.Sprintf("entitlement restore failed: %v (run 'dlc sync' to reconcile)", err)})
	}

	if err := r.store.Flush(); err != nil {
		logging.Warnf("could not persist learned fingerprints: %v\n", err)
	}
	if !r.opts.KeepDownloads {
		os.RemoveAll(r.downloadDir())
	}

	r.setState(Done)
	r.emit(Event{Kind: Finished, Message: "update complete: " + plan.Target})
	return nil
}

// restoreEntitlements writes back the pre-patch enabled set, additionally
// enabling installed packs that had no registration before the patch
// (packs the update itself introduced).
func (r *Runner) restoreEntitlements(snapshot map[string]bool) error {
	statuses, err := r.rec.Statuses(r.opts.InstallRoot)
	if err != nil {
		return err
	}

	enabled := make(map[string]bool)
	for id, on := range snapshot {
		if on {
			enabled[id] = true
		}
	}
	for _, s := range statuses {
		if _, known := snapshot[s.Info.ID]; !known && s.Installed {
			enabled[s.Info.ID] = true
		}
	}
	return r.rec.ApplyChanges(r.opts.InstallRoot, enabled)
}

func (r *Runner) downloadDir() string {
	if r.opts.DownloadDir != "" {
		return r.opts.DownloadDir
	}
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".cache")
		}
	}
	return filepath.Join(base, "packsync", "downloads")
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	logging.Debugf("Verbose: pipeline state=%s\n", s)
}

// fail records the error state and emits a failure event, returning err
// unchanged so callers can wrap or inspect it.
func (r *Runner) fail(err error) error {
	r.setState(StateError)
	r.emit(Event{Kind: Failure, Message: err.Error()})
	return err
}

func (r *Runner) emit(e Event) {
	if r.opts.Events != nil {
		r.opts.Events(e)
	}
}
