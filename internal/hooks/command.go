package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/parley/internal/logging"
)

// defaultCommandTimeout bounds hook command execution.
const defaultCommandTimeout = 10 * time.Second

// CommandHandler returns a Handler that runs a shell command for each event.
// The JSON-encoded payload arrives on stdin and the event name in
// PARLEY_HOOK_EVENT. Failures are returned to the manager, which logs and
// continues.
func CommandHandler(command string, timeout time.Duration, log *logging.Logger) Handler {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode hook payload: %w", err)
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(data)
		cmd.Env = append(os.Environ(), "PARLEY_HOOK_EVENT="+p.Event)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("hook command %q: %w (output: %s)",
				command, err, strings.TrimSpace(string(out)))
		}
		if log != nil && len(out) > 0 {
			log.Debug().
				Str("event", p.Event).
				Str("output", strings.TrimSpace(string(out))).
				Msg("hook command output")
		}
		return nil
	}
}

// CommandSpec pairs a shell command with its execution timeout.
type CommandSpec struct {
	Command string
	Timeout time.Duration
}

// RegisterCommands registers configured shell commands, keyed by event name.
// Event names are not validated so custom emitters can be targeted.
func RegisterCommands(m *Manager, commands map[string][]CommandSpec, log *logging.Logger) {
	for event, specs := range commands {
		for i, spec := range specs {
			name := fmt.Sprintf("config-%d", i)
			m.On(event, name, CommandHandler(spec.Command, spec.Timeout, log))
		}
	}
}
