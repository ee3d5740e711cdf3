package pipeline

import (
	"context"
	"fmt"

	"github.com/dryas/packsync/internal/manifest"
)

// State is the orchestrator's position in the update pipeline. Transitions
// are driven by explicit method calls, never by internal timers; any
// unhandled failure moves to StateError from wherever the pipeline was.
type State int

const (
	Idle State = iota
	Detecting
	Checking
	Downloading
	Patching
	Finalizing
	Done
	StateError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Checking:
		return "checking"
	case Downloading:
		return "downloading"
	case Patching:
		return "patching"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind classifies a progress event surfaced to external collaborators
// (the GUI front-end, the CLI progress bar).
type EventKind int

const (
	Header EventKind = iota
	Info
	Progress
	Warning
	Failure
	Finished
)

// Event is one progress notification. BytesDone/BytesTotal are set only
// for Progress events.
type Event struct {
	Kind       EventKind
	Message    string
	BytesDone  int64
	BytesTotal int64
}

// Sink receives pipeline events. Called from the pipeline's worker
// goroutine; implementations must not block for long.
type Sink func(Event)

// PatchApplier is the external collaborator that applies one patch edge
// given the ordered set of downloaded artifact paths. Binary-diff
// application itself is outside this tool.
type PatchApplier func(ctx context.Context, edge manifest.PatchEdge, artifacts []string, emit Sink) error

// Options configures one pipeline runner.
type Options struct {
	InstallRoot string
	ManifestURL string
	// Target overrides the manifest's declared latest version.
	Target string
	// DownloadDir overrides the default artifact directory.
	DownloadDir string
	// KeepDownloads leaves fetched artifacts in place after a successful
	// run instead of removing them.
	KeepDownloads bool
	Force         bool

	Apply  PatchApplier
	Events Sink
}
