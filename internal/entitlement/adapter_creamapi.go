package entitlement

import "regexp"

// creamAPI is the quoted-string format: each pack appears as a quoted code
// on its own line, disabled by a C-style "//" comment marker.
//
//	"EP01"
//	// "GP02"
type creamAPI struct{}

const creamAPIPath = "cream_api.ini"

func (creamAPI) Name() string     { return "creamapi" }
func (creamAPI) Encoding() string { return "utf-8" }

func (a creamAPI) Locate(root string) (string, bool) {
	return locateFile(root, creamAPIPath)
}

func (a creamAPI) Detect(root string) bool {
	_, ok := a.Locate(root)
	return ok
}

func (a creamAPI) ReadStates(content string, codes []string) map[string]bool {
	states := make(map[string]bool)
	for _, code := range codes {
		m := creamLineRe(code).FindStringSubmatch(content)
		if m == nil {
			continue
		}
		states[code] = m[1] == ""
	}
	return states
}

func (a creamAPI) WriteState(content, code string, enabled bool) string {
	line := `"` + code + `"`
	if !enabled {
		line = "// " + line
	}
	re := creamLineRe(code)
	if re.MatchString(content) {
		return re.ReplaceAllString(content, line)
	}
	return withTrailingNewline(content) + line + "\n"
}

func creamLineRe(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^(//[ \t]*)?"` + regexp.QuoteMeta(code) + `"[ \t]*$`)
}
