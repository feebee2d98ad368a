package adapter

import (
	"regexp"
	"strings"
)

// csiRe matches CSI escape sequences (cursor movement, colors, erase, and
// private modes like bracketed paste).
var csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// oscRe matches OSC sequences (title set, hyperlinks) terminated by BEL or ST.
var oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// escRe matches remaining two-byte escape sequences (charset selection etc.).
var escRe = regexp.MustCompile(`\x1b[@-_]`)

// stripANSI renders raw terminal bytes as plain text: escape sequences are
// removed and carriage returns are normalized to newlines. Cursor-addressed
// redraws are not replayed; the heuristic cleaning layer above absorbs the
// resulting repeated lines.
func stripANSI(s string) string {
	s = csiRe.ReplaceAllString(s, "")
	s = oscRe.ReplaceAllString(s, "")
	s = escRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	// Drop other stray control bytes except newline and tab.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
