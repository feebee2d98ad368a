package participant

import (
	"regexp"
	"strings"
)

// DefaultPassSignal is the canonical token a participant emits to decline
// its turn.
const DefaultPassSignal = "[PASS]"

// maxEchoSpan bounds how many lines the echoed-prompt excision may remove
// in one block, guarding against runaway deletion when the end marker never
// shows up.
const maxEchoSpan = 40

// minEchoFragment is the shortest trimmed line treated as a wrapped fragment
// of an injected payload line. Shorter lines match payload text too easily.
const minEchoFragment = 12

// passLeadRe strips quote/bullet markers some agents prefix to their pass
// line ("> [PASS]", "- [PASS]").
var passLeadRe = regexp.MustCompile(`^[\s>*•-]+`)

// workingRe matches transient thinking-status lines like "Working (4s" that
// agent CLIs repaint while a response is in flight.
var workingRe = regexp.MustCompile(`(?i)working\s*\(\s*\d+\s*s`)

// interruptRe matches the "esc to interrupt" / "esc to cancel" hint that
// accompanies status spinners.
var interruptRe = regexp.MustCompile(`(?i)esc\s+to\s+(interrupt|cancel)`)

// spinnerRe matches lines composed solely of spinner glyphs and whitespace.
var spinnerRe = regexp.MustCompile(`^[\s⠁⠂⠄⠈⠐⠠⡀⢀⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏·✢✳✶✻✽]+$`)

// boxChromeRe matches lines that are purely box-drawing or block characters,
// the borders terminal UIs draw around panes and input fields.
var boxChromeRe = regexp.MustCompile(`^[\s─━│┃┌┐└┘┏┓┗┛╔╗╚╝═║╭╮╰╯├┤┬┴┼▀▄█▌▐░▒▓]+$`)

// fenceRe matches a code fence marker line.
var fenceRe = regexp.MustCompile("^\\s*```")

// Cleaner scrubs raw captured terminal output down to the participant's
// actual reply and recognizes the pass token. Terminal output typically
// echoes the injected prompt, interleaves spinner/status lines, and wraps
// injected text mid-line; the pipeline peels all of that away while leaving
// code-fenced regions untouched.
type Cleaner struct {
	signal string // canonical pass token, brackets included
	bare   string // token without brackets
}

// NewCleaner builds a cleaner for the given pass signal. An empty signal
// selects DefaultPassSignal.
func NewCleaner(passSignal string) *Cleaner {
	if passSignal == "" {
		passSignal = DefaultPassSignal
	}
	return &Cleaner{
		signal: passSignal,
		bare:   strings.Trim(passSignal, "[]"),
	}
}

// PassSignal returns the canonical pass token.
func (c *Cleaner) PassSignal() string { return c.signal }

// Clean runs the output pipeline: pass short-circuit, echoed-prompt block
// excision, chrome and status-line stripping, payload echo removal, and
// blank-edge trimming. payload is the text that was injected for this turn.
// Returns "" when nothing of substance was captured yet.
func (c *Cleaner) Clean(raw, payload string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	// Process chatter before a pass is noise; the whole capture collapses
	// to the canonical token.
	if c.lastLinePasses(raw) {
		return c.signal
	}

	lines := strings.Split(raw, "\n")
	payloadLines := nonEmptyLines(payload)
	lines = exciseEchoBlock(lines, payloadLines)

	var kept []string
	inFence := false
	for _, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
			kept = append(kept, line)
			continue
		}
		if inFence {
			kept = append(kept, line)
			continue
		}
		t := strings.TrimSpace(line)
		if t != "" {
			if boxChromeRe.MatchString(t) {
				continue
			}
			if workingRe.MatchString(line) || interruptRe.MatchString(line) {
				continue
			}
			if spinnerRe.MatchString(t) {
				continue
			}
			if isPayloadEcho(t, payloadLines) {
				continue
			}
		}
		kept = append(kept, line)
	}
	return trimBlankEdges(kept)
}

// IsPass reports whether cleaned text is a pass: the whole text or its last
// non-empty line equals the token, brackets optional, case-insensitive.
func (c *Cleaner) IsPass(text string) bool {
	if c.matchesSignal(text) {
		return true
	}
	return c.lastLinePasses(text)
}

func (c *Cleaner) lastLinePasses(text string) bool {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		return c.matchesSignal(lines[i])
	}
	return false
}

func (c *Cleaner) matchesSignal(s string) bool {
	s = strings.TrimSpace(passLeadRe.ReplaceAllString(strings.TrimSpace(s), ""))
	return strings.EqualFold(s, c.signal) || strings.EqualFold(s, c.bare)
}

// exciseEchoBlock removes the echoed-prompt block: a run of lines starting
// at an echo of the payload's first line and ending at an echo of its last
// line, bounded by maxEchoSpan. When no end marker is found in range the
// block is left alone rather than guessing at its extent; the per-line echo
// filter still catches exact stragglers.
func exciseEchoBlock(lines, payloadLines []string) []string {
	if len(payloadLines) == 0 {
		return lines
	}
	first := payloadLines[0]
	last := payloadLines[len(payloadLines)-1]
	inFence := false
	for i := 0; i < len(lines); i++ {
		if fenceRe.MatchString(lines[i]) {
			inFence = !inFence
			continue
		}
		if inFence || !echoesLine(lines[i], first) {
			continue
		}
		limit := i + maxEchoSpan
		if limit > len(lines) {
			limit = len(lines)
		}
		end := -1
		for j := i; j < limit; j++ {
			if echoesLine(lines[j], last) {
				end = j
				break
			}
		}
		if end == -1 {
			continue
		}
		// Consume trailing wrapped fragments of the end line.
		for end+1 < limit && echoesLine(lines[end+1], last) {
			end++
		}
		out := make([]string, 0, len(lines)-(end-i+1))
		out = append(out, lines[:i]...)
		out = append(out, lines[end+1:]...)
		return out
	}
	return lines
}

// echoesLine reports whether a captured line is an echo of a payload line,
// either exactly or as a wrapped fragment of it.
func echoesLine(line, payloadLine string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	if t == payloadLine {
		return true
	}
	return len(t) >= minEchoFragment && strings.Contains(payloadLine, t)
}

func isPayloadEcho(trimmed string, payloadLines []string) bool {
	for _, p := range payloadLines {
		if trimmed == p {
			return true
		}
	}
	return false
}

// nonEmptyLines splits text into trimmed, non-empty lines.
func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func trimBlankEdges(lines []string) string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
