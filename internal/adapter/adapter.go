// Package adapter defines the boundary between a participant controller and
// the terminal process hosting its agent, plus the PTY-backed implementation.
package adapter

import (
	"errors"
	"time"
)

// Marker is an opaque position token into an adapter's output history.
// Markers are only meaningful to the adapter that issued them.
type Marker int64

var (
	// ErrNotAccepting signals the agent cannot take input right now.
	// Callers retry with backoff.
	ErrNotAccepting = errors.New("adapter: not accepting input")

	// ErrClosed signals the underlying process is gone.
	ErrClosed = errors.New("adapter: closed")
)

// Adapter drives one terminal-hosted agent. Each adapter instance is owned
// by exactly one controller; implementations must not block in any method.
type Adapter interface {
	// IdleState returns the raw idle signal and the time of the most recent
	// transition into idle. Callers layer their own stability window on top;
	// the since value is meaningful only while idle is true.
	IdleState() (idle bool, since time.Time)

	// Inject delivers text to the agent's input. ErrNotAccepting is
	// transient; ErrClosed is terminal.
	Inject(text string) error

	// OutputSince returns everything the agent has written since the marker,
	// rendered as plain text.
	OutputSince(m Marker) string

	// Marker returns a position token for the current end of output.
	Marker() Marker

	// Alive reports whether the underlying process is still running.
	Alive() bool

	// Close terminates the underlying process and releases resources.
	Close() error
}
