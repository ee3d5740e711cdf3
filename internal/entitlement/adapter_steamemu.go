package entitlement

import "regexp"

// steamEmu is the emulator format: bare key=value lines whose value swaps
// between the literals "1" (active) and "0" (inactive). Other tools write
// this file in the platform's legacy codepage, so the declared encoding
// differs from the rest.
//
//	EP01=1
//	GP02=0
type steamEmu struct{}

const steamEmuPath = "steam_emu.ini"

func (steamEmu) Name() string     { return "steamemu" }
func (steamEmu) Encoding() string { return "windows-1252" }

func (a steamEmu) Locate(root string) (string, bool) {
	return locateFile(root, steamEmuPath)
}

func (a steamEmu) Detect(root string) bool {
	_, ok := a.Locate(root)
	return ok
}

func (a steamEmu) ReadStates(content string, codes []string) map[string]bool {
	states := make(map[string]bool)
	for _, code := range codes {
		m := emuLineRe(code).FindStringSubmatch(content)
		if m == nil {
			continue
		}
		states[code] = m[1] == "1"
	}
	return states
}

func (a steamEmu) WriteState(content, code string, enabled bool) string {
	value := "0"
	if enabled {
		value = "1"
	}
	re := emuLineRe(code)
	if re.MatchString(content) {
		return re.ReplaceAllString(content, code+"="+value)
	}
	return withTrailingNewline(content) + code + "=" + value + "\n"
}

func emuLineRe(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(code) + `=([01])[ \t]*$`)
}
