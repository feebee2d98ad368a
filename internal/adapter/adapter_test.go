package adapter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/logging"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// --- stripANSI tests ---

func TestStripANSIColorCodes(t *testing.T) {
	in := "\x1b[31mred\x1b[0m plain \x1b[1;32mbold green\x1b[0m"
	assert.Equal(t, "red plain bold green", stripANSI(in))
}

func TestStripANSICursorAndErase(t *testing.T) {
	in := "line\x1b[2K\x1b[1A\x1b[10;20Hmore\x1b[?25l"
	assert.Equal(t, "linemore", stripANSI(in))
}

func TestStripANSIOSCTitle(t *testing.T) {
	in := "\x1b]0;window title\x07visible\x1b]8;;http://x\x1b\\link"
	assert.Equal(t, "visiblelink", stripANSI(in))
}

func TestStripANSICarriageReturns(t *testing.T) {
	assert.Equal(t, "a\nb\nc\n", stripANSI("a\r\nb\rc\r\n"))
}

func TestStripANSIKeepsTabsAndText(t *testing.T) {
	in := "col1\tcol2\nnext\x00\x08"
	assert.Equal(t, "col1\tcol2\nnext", stripANSI(in))
}

// --- Mock tests ---

func TestMockDefaults(t *testing.T) {
	m := &Mock{}

	idle, since := m.IdleState()
	assert.True(t, idle)
	assert.True(t, time.Since(since) > time.Minute)

	require.NoError(t, m.Inject("hello"))
	assert.Empty(t, m.OutputSince(0))
	assert.Equal(t, Marker(0), m.Marker())
	assert.True(t, m.Alive())
	require.NoError(t, m.Close())
}

func TestMockOverrides(t *testing.T) {
	var injected string
	m := &Mock{
		InjectFunc:      func(text string) error { injected = text; return nil },
		OutputSinceFunc: func(mk Marker) string { return "scripted" },
		MarkerFunc:      func() Marker { return 42 },
	}

	require.NoError(t, m.Inject("payload"))
	assert.Equal(t, "payload", injected)
	assert.Equal(t, "scripted", m.OutputSince(0))
	assert.Equal(t, Marker(42), m.Marker())
}

// --- PTY tests ---

func TestPTYRoundTrip(t *testing.T) {
	log := logging.New(nil, "silent")
	p, err := StartPTY(PTYConfig{
		Command:     "cat",
		QuietWindow: 50 * time.Millisecond,
	}, log)
	require.NoError(t, err)
	defer p.Close()

	waitFor(t, 2*time.Second, func() bool {
		idle, _ := p.IdleState()
		return idle
	})

	m := p.Marker()
	require.NoError(t, p.Inject("hello adapter"))

	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(p.OutputSince(m), "hello adapter")
	})
	assert.True(t, p.Alive())
}

func TestPTYInjectAfterCloseReturnsErrClosed(t *testing.T) {
	log := logging.New(nil, "silent")
	p, err := StartPTY(PTYConfig{Command: "cat", QuietWindow: 10 * time.Millisecond}, log)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.False(t, p.Alive())
	assert.ErrorIs(t, p.Inject("late"), ErrClosed)
}

func TestPTYIdleAfterQuietWindow(t *testing.T) {
	log := logging.New(nil, "silent")
	p, err := StartPTY(PTYConfig{Command: "cat", QuietWindow: 40 * time.Millisecond}, log)
	require.NoError(t, err)
	defer p.Close()

	waitFor(t, 2*time.Second, func() bool {
		idle, since := p.IdleState()
		return idle && !since.IsZero()
	})
}

func TestStartPTYRequiresCommand(t *testing.T) {
	log := logging.New(nil, "silent")
	_, err := StartPTY(PTYConfig{}, log)
	assert.Error(t, err)
}
