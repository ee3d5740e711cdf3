package entitlement

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/dryas/packsync/internal/logging"
)

// ErrNoAdapter reports that no known entitlement config format was found
// under the installation root.
var ErrNoAdapter = errors.New("no entitlement config format detected")

// Adapter reads and rewrites "is this pack active" flags in one specific
// config file convention. All transformations operate on the complete file
// content as a single string and must be idempotent: applying the same
// state twice yields the same output as applying it once.
type Adapter interface {
	// Name identifies the format in logs and status output.
	Name() string
	// Encoding names the text encoding other tools expect for this file.
	Encoding() string
	// Detect reports whether this format is present under root. Never
	// cached by callers; out-of-band edits must be respected.
	Detect(root string) bool
	// Locate returns the config file path under root.
	Locate(root string) (string, bool)
	// ReadStates returns the enabled flag for each code that is registered
	// in the content. Codes absent from the file are absent from the map.
	ReadStates(content string, codes []string) map[string]bool
	// WriteState returns the content with code explicitly set to the given
	// state, registering the code if it was absent.
	WriteState(content, code string, enabled bool) string
}

// adapters is the fixed probe order. The order is a contract: unlockerV2
// and unlockerLegacy share the same filename and are distinguished only by
// a marker string inside the file, so the more specific variant must be
// probed first.
func adapters() []Adapter {
	return []Adapter{
		unlockerV2{},
		unlockerLegacy{},
		packList{},
		steamEmu{},
		creamAPI{},
	}
}

// DetectAdapter probes the known formats in priority order and returns the
// first match. Detection re-runs on every call.
func DetectAdapter(root string) (Adapter, error) {
	for _, a := range adapters() {
		if a.Detect(root) {
			logging.Debugf("Verbose: entitlement format=%s\n", a.Name())
			return a, nil
		}
	}
	return nil, ErrNoAdapter
}

// locateFile resolves a fixed relative path under root, reporting whether
// the file exists.
func locateFile(root, rel string) (string, bool) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// withTrailingNewline ensures appended lines start on their own line.
func withTrailingNewline(content string) string {
	if content == "" || strings.HasSuffix(content, "\n") {
		return content
	}
	return content + "\n"
}
