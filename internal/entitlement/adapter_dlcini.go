package entitlement

import (
	"os"
	"regexp"
	"strings"
)

// dlcIniPath is shared by the two unlocker generations; only the marker
// section distinguishes them.
const dlcIniPath = "Game/Bin/dlc.ini"

// v2Marker is the section header the second-generation unlocker writes at
// the top of its file.
const v2Marker = "[unlocker.v2]"

// unlockerV2 is the second-generation unlocker format: dlc.ini with a
// [unlocker.v2] marker section and per-pack lines whose value swaps
// between the literals "on" and "off".
//
//	EP01 = on
//	GP02 = off
type unlockerV2 struct{}

func (unlockerV2) Name() string     { return "unlocker-v2" }
func (unlockerV2) Encoding() string { return "utf-8" }

func (a unlockerV2) Locate(root string) (string, bool) {
	return locateFile(root, dlcIniPath)
}

func (a unlockerV2) Detect(root string) bool {
	path, ok := a.Locate(root)
	if !ok {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), v2Marker)
}

func (a unlockerV2) ReadStates(content string, codes []string) map[string]bool {
	states := make(map[string]bool)
	for _, code := range codes {
		m := v2LineRe(code).FindStringSubmatch(content)
		if m == nil {
			continue
		}
		states[code] = m[1] == "on"
	}
	return states
}

func (a unlockerV2) WriteState(content, code string, enabled bool) string {
	value := "off"
	if enabled {
		value = "on"
	}
	re := v2LineRe(code)
	if re.MatchString(content) {
		return re.ReplaceAllString(content, code+" = "+value)
	}
	return withTrailingNewline(content) + code + " = " + value + "\n"
}

func v2LineRe(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(code) + `[ \t]*=[ \t]*(on|off)[ \t]*$`)
}

// unlockerLegacy is the first-generation format sharing dlc.ini: a pack is
// disabled by a leading ";" comment marker on its key-value line.
//
//	EP01 = 1
//	;GP02 = 1
type unlockerLegacy struct{}

func (unlockerLegacy) Name() string     { return "unlocker-legacy" }
func (unlockerLegacy) Encoding() string { return "utf-8" }

func (a unlockerLegacy) Locate(root string) (string, bool) {
	return locateFile(root, dlcIniPath)
}

func (a unlockerLegacy) Detect(root string) bool {
	path, ok := a.Locate(root)
	if !ok {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	// Same filename as unlocker-v2; only claim the file when the v2 marker
	// is absent. Probe order guarantees v2 was checked first.
	return !strings.Contains(string(data), v2Marker)
}

func (a unlockerLegacy) ReadStates(content string, codes []string) map[string]bool {
	states := make(map[string]bool)
	for _, code := range codes {
		m := legacyLineRe(code).FindStringSubmatch(content)
		if m == nil {
			continue
		}
		states[code] = m[1] == ""
	}
	return states
}

func (a unlockerLegacy) WriteState(content, code string, enabled bool) string {
	re := legacyLineRe(code)
	if re.MatchString(content) {
		prefix := ""
		if !enabled {
			prefix = ";"
		}
		return re.ReplaceAllString(content, prefix+code+" = 1")
	}
	line := code + " = 1"
	if !enabled {
		line = ";" + line
	}
	return withTrailingNewline(content) + line + "\n"
}

func legacyLineRe(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^(;[ \t]*)?` + regexp.QuoteMeta(code) + `[ \t]*=[ \t]*1[ \t]*$`)
}
