package textutil

import (
	"strings"
	"unicode/utf8"
)

// TruncateMarker prefixes truncated output so consumers can tell the
// beginning of the text was cut.
const TruncateMarker = "[... output truncated ...]\n"

// TruncateTail keeps at most maxChars trailing characters of text.
//
// When the kept slice starts mid-line and contains a newline, the cut is
// advanced past that first newline so the result never begins with a
// partial line. Returns the (possibly) truncated text and whether any
// truncation happened.
func TruncateTail(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(text) <= maxChars {
		return text, false
	}
	cut := len(text) - maxChars
	// Never start mid-rune; shrinking the kept portion keeps the budget.
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	tail := text[cut:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return TruncateMarker + tail, true
}
