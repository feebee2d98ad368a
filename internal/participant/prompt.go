// Package participant implements the per-participant controller: a state
// machine that watches one agent adapter, decides when to hand it new
// conversation context, and turns its raw terminal output into log messages.
package participant

import (
	"strconv"
	"strings"
)

// DefaultTemplate is the prompt injected into a participant's terminal when
// new conversation activity is waiting for it. The agent is pointed at the
// durable transcript rather than having messages pasted inline, which keeps
// injected payloads short and stable for echo detection.
const DefaultTemplate = `{{MY_NAME}}: {{NEW_MESSAGE_COUNT}} new message(s) in your conversation with {{PARTICIPANTS}}.
Read the transcript at {{TRANSCRIPT_PATH}} to catch up, then reply with your contribution.
If you have nothing to add this round, reply with exactly [PASS].`

// PromptVars holds the values substituted into a prompt template.
type PromptVars struct {
	MyName          string
	Participants    []string
	TranscriptPath  string
	NewMessageCount int
}

// RenderPrompt substitutes the template placeholders {{MY_NAME}},
// {{PARTICIPANTS}}, {{TRANSCRIPT_PATH}} and {{NEW_MESSAGE_COUNT}}. Unknown
// placeholders pass through untouched; placeholder presence is not validated.
func RenderPrompt(tmpl string, vars PromptVars) string {
	r := strings.NewReplacer(
		"{{MY_NAME}}", vars.MyName,
		"{{PARTICIPANTS}}", strings.Join(vars.Participants, ", "),
		"{{TRANSCRIPT_PATH}}", vars.TranscriptPath,
		"{{NEW_MESSAGE_COUNT}}", strconv.Itoa(vars.NewMessageCount),
	)
	return r.Replace(tmpl)
}
