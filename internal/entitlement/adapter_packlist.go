package entitlement

import "regexp"

// packList is the pack-list format: one section header per pack, disabled
// by appending a "_disabled" suffix to the header.
//
//	[EP01]
//	[GP02_disabled]
type packList struct{}

const packListPath = "Game/Bin/packs.cfg"

const disabledSuffix = "_disabled"

func (packList) Name() string     { return "packlist" }
func (packList) Encoding() string { return "utf-8" }

func (a packList) Locate(root string) (string, bool) {
	return locateFile(root, packListPath)
}

func (a packList) Detect(root string) bool {
	_, ok := a.Locate(root)
	return ok
}

func (a packList) ReadStates(content string, codes []string) map[string]bool {
	states := make(map[string]bool)
	for _, code := range codes {
		m := packSectionRe(code).FindStringSubmatch(content)
		if m == nil {
			continue
		}
		states[code] = m[1] == ""
	}
	return states
}

func (a packList) WriteState(content, code string, enabled bool) string {
	suffix := ""
	if !enabled {
		suffix = disabledSuffix
	}
	re := packSectionRe(code)
	if re.MatchString(content) {
		return re.ReplaceAllString(content, "["+code+suffix+"]")
	}
	return withTrailingNewline(content) + "[" + code + suffix + "]\n"
}

func packSectionRe(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\[` + regexp.QuoteMeta(code) + `(` + disabledSuffix + `)?\][ \t]*$`)
}
