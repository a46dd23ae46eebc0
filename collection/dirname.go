package collection

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	invalidDirCh  = regexp.MustCompile(`[^a-z0-9-]`)
)

// NameToDirName maps a display title onto its canonical directory name:
// lower-cased, whitespace runs replaced by "-", anything outside [a-z0-9-]
// dropped. The result may be empty; callers must reject that.
func NameToDirName(title string) string {
	name := strings.ToLower(title)
	name = whitespaceRun.ReplaceAllString(name, "-")
	return invalidDirCh.ReplaceAllString(name, "")
}
