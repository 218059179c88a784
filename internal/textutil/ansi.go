package textutil

import "regexp"

// Covers CSI sequences (colors, styles, cursor movement) and OSC sequences
// (hyperlinks, window titles), terminated by BEL or ST.
var (
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
)

// StripANSI removes terminal escape sequences from captured text,
// leaving plain readable content.
func StripANSI(text string) string {
	if text == "" {
		return text
	}
	text = oscRe.ReplaceAllString(text, "")
	return csiRe.ReplaceAllString(text, "")
}
