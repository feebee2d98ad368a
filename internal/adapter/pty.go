package adapter

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/soyeahso/parley/internal/logging"
)

const (
	defaultQuietWindow = 500 * time.Millisecond
	defaultRows        = 40
	// Wide terminals keep injected payload lines from wrapping, which makes
	// echo excision upstream far more reliable.
	defaultCols = 200
)

// PTYConfig configures a PTY-hosted agent process.
type PTYConfig struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string // extra KEY=VALUE entries appended to the inherited environment
	Rows        uint16
	Cols        uint16
	QuietWindow time.Duration // output silence required before the raw idle signal turns on
	BufferSize  int
}

// PTY hosts an agent CLI under a pseudo-terminal and adapts its byte stream
// to the Adapter interface. Output is pumped into a bounded ring buffer; the
// raw idle signal is "no output for the quiet window".
type PTY struct {
	cfg PTYConfig
	cmd *exec.Cmd
	tty *os.File
	out *ringBuffer
	log *logging.Logger

	mu         sync.Mutex
	lastOutput time.Time
	exited     bool
	closed     bool
}

// StartPTY spawns the agent command under a new pseudo-terminal and begins
// pumping its output.
func StartPTY(cfg PTYConfig, log *logging.Logger) (*PTY, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pty: command is required")
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = defaultQuietWindow
	}
	if cfg.Rows == 0 {
		cfg.Rows = defaultRows
	}
	if cfg.Cols == 0 {
		cfg.Cols = defaultCols
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols})
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	p := &PTY{
		cfg:        cfg,
		cmd:        cmd,
		tty:        tty,
		out:        newRingBuffer(cfg.BufferSize),
		log:        log.Sub("pty"),
		lastOutput: time.Now(),
	}

	go p.readLoop()
	go p.waitLoop()

	p.log.Info().
		Str("command", cfg.Command).
		Int("pid", cmd.Process.Pid).
		Msg("agent process started")
	return p, nil
}

// readLoop pumps PTY output into the ring buffer and tracks activity.
func (p *PTY) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.tty.Read(buf)
		if n > 0 {
			p.out.Write(buf[:n])
			p.mu.Lock()
			p.lastOutput = time.Now()
			p.mu.Unlock()
		}
		if err != nil {
			// EOF or closed descriptor; waitLoop records the exit.
			return
		}
	}
}

// waitLoop reaps the child process.
func (p *PTY) waitLoop() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	if err != nil {
		p.log.Warn().Err(err).Str("command", p.cfg.Command).Msg("agent process exited")
	} else {
		p.log.Info().Str("command", p.cfg.Command).Msg("agent process exited")
	}
}

// IdleState reports the raw idle signal. The process is idle once it has
// produced no output for the quiet window; the reported time is the moment
// that window elapsed.
func (p *PTY) IdleState() (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.closed {
		return true, p.lastOutput
	}
	since := p.lastOutput.Add(p.cfg.QuietWindow)
	if time.Now().Before(since) {
		return false, time.Time{}
	}
	return true, since
}

// Inject writes text to the agent's input, submitting it with a carriage
// return. Returns ErrNotAccepting while the agent is still producing output.
func (p *PTY) Inject(text string) error {
	p.mu.Lock()
	if p.closed || p.exited {
		p.mu.Unlock()
		return ErrClosed
	}
	if time.Since(p.lastOutput) < p.cfg.QuietWindow {
		p.mu.Unlock()
		return ErrNotAccepting
	}
	p.mu.Unlock()

	if !strings.HasSuffix(text, "\n") && !strings.HasSuffix(text, "\r") {
		text += "\r"
	}
	if _, err := p.tty.Write([]byte(text)); err != nil {
		return fmt.Errorf("writing to agent: %w", err)
	}
	return nil
}

// OutputSince returns the plain-text output written since the marker.
func (p *PTY) OutputSince(m Marker) string {
	return stripANSI(string(p.out.ReadFrom(int64(m))))
}

// Marker returns the current end-of-output position.
func (p *PTY) Marker() Marker {
	return Marker(p.out.Total())
}

// Alive reports whether the agent process is still running.
func (p *PTY) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited && !p.closed
}

// Close terminates the agent process and releases the terminal.
func (p *PTY) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.tty.Close()
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !p.processGone() {
			return fmt.Errorf("killing agent process: %w", err)
		}
	}
	p.log.Info().Str("command", p.cfg.Command).Msg("adapter closed")
	return nil
}

func (p *PTY) processGone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}
