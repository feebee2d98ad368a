package participant

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/adapter"
	"github.com/soyeahso/parley/internal/convo"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

type sinkCall struct {
	id     string
	passed bool
}

type sinkRecorder struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *sinkRecorder) TurnCompleted(id string, passed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{id: id, passed: passed})
}

func (s *sinkRecorder) all() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type staticRoster []string

func (r staticRoster) PeerNames(string) []string { return r }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// testController builds a controller around the given adapter without
// starting its run loop, so tests can drive the step methods directly.
func testController(t *testing.T, ad adapter.Adapter) (*Controller, *convo.Session, *sinkRecorder) {
	t.Helper()
	sess := convo.New("", "test")
	sink := &sinkRecorder{}
	cfg := Config{
		Info:                domain.ParticipantInfo{ID: "p1", Name: "Ada"},
		TranscriptPath:      "/tmp/transcript.md",
		PollInterval:        5 * time.Millisecond,
		CapturePollInterval: 5 * time.Millisecond,
		StabilityThreshold:  10 * time.Millisecond,
		DeliveryBaseDelay:   time.Second,
		DeliveryMaxDelay:    8 * time.Second,
	}
	c := New(cfg, sess, ad, sink, staticRoster{"Grace", "Alan"}, logging.New(nil, "silent"))
	return c, sess, sink
}

// deliverTurn pushes the controller through check and inject so a turn is
// in flight.
func deliverTurn(t *testing.T, c *Controller, sess *convo.Session) {
	t.Helper()
	sess.Append(domain.NewMessage(domain.UserSource(), "hello everyone"))
	now := time.Now()
	c.checkInbox(now)
	require.NotNil(t, c.pending)
	c.attemptDelivery(now)
	require.NotNil(t, c.turn)
	require.True(t, c.processing)
}

// --- inbox checks ---

func TestCheckInboxQueuesPayload(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))

	c.checkInbox(time.Now())

	require.NotNil(t, c.pending)
	assert.Contains(t, c.pending.payload, "Ada: 1 new message(s)")
	assert.Contains(t, c.pending.payload, "Grace, Alan")
	assert.Contains(t, c.pending.payload, "/tmp/transcript.md")
	assert.Equal(t, 1, c.pending.newCount)
	assert.NotEmpty(t, c.pending.turnID)
	// The cursor only advances at injection.
	assert.Equal(t, int64(0), c.lastSeen)
}

func TestCheckInboxSelfOnlyAdvancesCursor(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	sess.Append(domain.NewMessage(domain.AgentSource("Ada", "p1", ""), "my own words"))

	c.checkInbox(time.Now())

	assert.Nil(t, c.pending)
	assert.Equal(t, int64(1), c.lastSeen)
}

func TestCheckInboxSkipsWhileProcessing(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	c.processing = true
	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))

	c.checkInbox(time.Now())

	assert.Nil(t, c.pending)
	assert.Equal(t, int64(0), c.lastSeen)
}

func TestCheckInboxRequiresStableIdle(t *testing.T) {
	flicker := &adapter.Mock{
		IdleStateFunc: func() (bool, time.Time) { return true, time.Now() },
	}
	c, sess, _ := testController(t, flicker)
	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))

	c.checkInbox(time.Now())
	assert.Nil(t, c.pending)

	busy := &adapter.Mock{
		IdleStateFunc: func() (bool, time.Time) { return false, time.Time{} },
	}
	c2, sess2, _ := testController(t, busy)
	sess2.Append(domain.NewMessage(domain.UserSource(), "hello"))

	c2.checkInbox(time.Now())
	assert.Nil(t, c2.pending)
}

func TestCheckInboxReplacesPendingPayload(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	sess.Append(domain.NewMessage(domain.UserSource(), "first"))

	c.checkInbox(time.Now())
	require.NotNil(t, c.pending)
	firstID := c.pending.turnID
	c.pending.attempts = 3
	retry := c.pending.nextTry

	sess.Append(domain.NewMessage(domain.UserSource(), "second"))
	c.checkInbox(time.Now())

	// Same slot: newer content, untouched retry clock.
	assert.Equal(t, firstID, c.pending.turnID)
	assert.Equal(t, 3, c.pending.attempts)
	assert.Equal(t, retry, c.pending.nextTry)
	assert.Equal(t, 2, c.pending.newCount)
	assert.Contains(t, c.pending.payload, "2 new message(s)")
}

// --- delivery ---

func TestAttemptDeliverySuccess(t *testing.T) {
	var injected string
	m := &adapter.Mock{
		MarkerFunc: func() adapter.Marker { return 7 },
		InjectFunc: func(text string) error { injected = text; return nil },
	}
	c, sess, _ := testController(t, m)
	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))
	c.checkInbox(time.Now())
	require.NotNil(t, c.pending)
	want := c.pending.payload

	c.attemptDelivery(time.Now())

	assert.Equal(t, want, injected)
	assert.Nil(t, c.pending)
	assert.True(t, c.processing)
	require.NotNil(t, c.turn)
	assert.Equal(t, adapter.Marker(7), c.turn.marker)
	assert.Equal(t, sess.Sequence(), c.lastSeen)
	assert.Equal(t, sess.Sequence(), c.turn.seqAtInject)
}

func TestAttemptDeliveryBackoff(t *testing.T) {
	injectErr := errors.New("tty busy")
	m := &adapter.Mock{InjectFunc: func(string) error { return injectErr }}
	c, sess, _ := testController(t, m)
	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))
	now := time.Now()
	c.checkInbox(now)
	require.NotNil(t, c.pending)

	wantDelays := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
	}
	for i, want := range wantDelays {
		c.attemptDelivery(now)
		assert.Equal(t, i+1, c.pending.attempts)
		assert.Equal(t, now.Add(want), c.pending.nextTry, "attempt %d", i+1)
		assert.ErrorIs(t, c.pending.lastErr, injectErr)
		now = c.pending.nextTry
	}
	assert.False(t, c.processing)
	assert.Nil(t, c.turn)
}

func TestBackoffDelayFormula(t *testing.T) {
	base, maxDelay := time.Second, 8*time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
		{10, 8 * time.Second},
		{60, 8 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(tc.attempt, base, maxDelay), "attempt %d", tc.attempt)
	}
}

// --- capture and classification ---

func TestPollTurnWaitsOnEmptyOutput(t *testing.T) {
	m := &adapter.Mock{OutputSinceFunc: func(adapter.Marker) string { return "" }}
	c, sess, sink := testController(t, m)
	deliverTurn(t, c, sess)

	c.pollTurn(time.Now())

	assert.NotNil(t, c.turn)
	assert.True(t, c.processing)
	assert.Empty(t, sink.all())
}

func TestPollTurnRecordsPass(t *testing.T) {
	m := &adapter.Mock{OutputSinceFunc: func(adapter.Marker) string { return "tool noise\n[PASS]" }}
	c, sess, sink := testController(t, m)
	deliverTurn(t, c, sess)
	seqBefore := sess.Sequence()

	c.pollTurn(time.Now())

	assert.Nil(t, c.turn)
	assert.False(t, c.processing)
	assert.Equal(t, 1, c.passStreak)
	assert.Equal(t, seqBefore, sess.Sequence(), "pass must not advance the log")
	require.Len(t, sink.all(), 1)
	assert.Equal(t, sinkCall{id: "p1", passed: true}, sink.all()[0])
}

func TestPollTurnPostsRealReply(t *testing.T) {
	m := &adapter.Mock{OutputSinceFunc: func(adapter.Marker) string { return "Here is my take." }}
	c, sess, sink := testController(t, m)
	deliverTurn(t, c, sess)
	c.passStreak = 2

	c.pollTurn(time.Now())

	assert.Equal(t, 0, c.passStreak, "real reply resets the streak")
	assert.Equal(t, int64(2), sess.Sequence())
	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Here is my take.", msgs[1].Content)
	assert.Equal(t, "p1", msgs[1].Source.ParticipantID)
	assert.Equal(t, "Ada", msgs[1].Source.Name)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, sinkCall{id: "p1", passed: false}, sink.all()[0])
	// Own reply was consumed by the post-turn re-check.
	assert.Equal(t, int64(2), c.lastSeen)
	assert.Nil(t, c.pending)
}

func TestDuplicateCaptureAppendsOnce(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	deliverTurn(t, c, sess)
	turn := c.turn

	c.finishTurn(turn, "Here is my take.", time.Now())
	require.Equal(t, int64(2), sess.Sequence())

	// Same turn id again.
	c.finishTurn(turn, "Here is my take.", time.Now())
	assert.Equal(t, int64(2), sess.Sequence())

	// Fresh turn id, identical content: caught by the fingerprint set.
	dup := &activeTurn{id: "other-turn", runID: c.runID, payload: turn.payload}
	c.finishTurn(dup, "here  is   MY take.", time.Now())
	assert.Equal(t, int64(2), sess.Sequence())
}

func TestPollTurnLostHandleRequeues(t *testing.T) {
	m := &adapter.Mock{AliveFunc: func() bool { return false }}
	c, sess, sink := testController(t, m)
	// Build the turn against a live adapter first.
	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))
	now := time.Now()
	c.checkInbox(now)
	c.attemptDelivery(now)
	require.NotNil(t, c.turn)
	payload := c.turn.payload
	oldID := c.turn.id

	c.pollTurn(now)

	assert.Nil(t, c.turn)
	assert.False(t, c.processing)
	require.NotNil(t, c.pending)
	assert.Equal(t, payload, c.pending.payload)
	assert.NotEqual(t, oldID, c.pending.turnID)
	assert.Empty(t, sink.all())
}

func TestPollTurnCaptureTimeoutRequeues(t *testing.T) {
	m := &adapter.Mock{OutputSinceFunc: func(adapter.Marker) string { return "" }}
	c, sess, _ := testController(t, m)
	c.cfg.CaptureTimeout = 50 * time.Millisecond
	deliverTurn(t, c, sess)
	c.turn.injectedAt = time.Now().Add(-100 * time.Millisecond)

	c.pollTurn(time.Now())

	assert.Nil(t, c.turn)
	require.NotNil(t, c.pending)
}

func TestPollTurnDiscardsStaleEpoch(t *testing.T) {
	c, _, sink := testController(t, &adapter.Mock{})
	c.turn = &activeTurn{id: "stale", runID: c.runID - 1}
	c.processing = true

	c.pollTurn(time.Now())

	assert.Nil(t, c.turn)
	assert.False(t, c.processing)
	assert.Empty(t, sink.all())
}

// --- stop / reset ---

func TestApplyStopAbandonsWork(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	deliverTurn(t, c, sess)
	c.passStreak = 2
	run := c.runID

	c.applyStop()

	assert.Nil(t, c.turn)
	assert.Nil(t, c.pending)
	assert.False(t, c.processing)
	assert.Equal(t, run+1, c.runID)
	// Stop is resumable and keeps pass tracking.
	assert.Equal(t, 2, c.passStreak)
}

func TestApplyResetClearsState(t *testing.T) {
	c, sess, _ := testController(t, &adapter.Mock{})
	deliverTurn(t, c, sess)
	c.passStreak = 3
	c.markPosted("turn-1", "old content")

	c.applyReset()

	assert.Equal(t, 0, c.passStreak)
	assert.Empty(t, c.postedTurns)
	assert.Empty(t, c.fpSet)
	assert.Equal(t, sess.Sequence(), c.lastSeen)
}

// --- dedupe internals ---

func TestFingerprintNormalizes(t *testing.T) {
	assert.Equal(t, fingerprint("Hello   World"), fingerprint("  hello\nworld "))
	assert.NotEqual(t, fingerprint("hello"), fingerprint("goodbye"))
}

func TestFingerprintWindowIsBounded(t *testing.T) {
	c, _, _ := testController(t, &adapter.Mock{})
	for i := 0; i < maxFingerprints+5; i++ {
		c.markPosted("t", string(rune('a'+i%26))+time.Duration(i).String())
	}
	assert.Len(t, c.fpSet, maxFingerprints)
	assert.Len(t, c.fpOrder, maxFingerprints)
}

func TestNotifyCoalesces(t *testing.T) {
	c, _, _ := testController(t, &adapter.Mock{})
	c.Notify(1)
	c.Notify(2)
	c.Notify(3)

	select {
	case seq := <-c.notify:
		assert.Equal(t, int64(3), seq)
	default:
		t.Fatal("expected a queued notification")
	}
	select {
	case <-c.notify:
		t.Fatal("expected a single queued notification")
	default:
	}
}

// --- run loop integration ---

func TestControllerLoopPostsReply(t *testing.T) {
	var mu sync.Mutex
	injected := false
	ad := &adapter.Mock{
		InjectFunc: func(string) error {
			mu.Lock()
			defer mu.Unlock()
			injected = true
			return nil
		},
		OutputSinceFunc: func(adapter.Marker) string {
			mu.Lock()
			defer mu.Unlock()
			if !injected {
				return ""
			}
			return "Sounds good to me."
		},
	}
	c, sess, sink := testController(t, ad)
	c.Start()
	defer c.Shutdown()

	sess.Append(domain.NewMessage(domain.UserSource(), "hello everyone"))
	c.Notify(sess.Sequence())

	waitFor(t, 2*time.Second, func() bool { return sess.Sequence() == 2 })
	msgs := sess.Messages()
	assert.Equal(t, "Sounds good to me.", msgs[1].Content)
	assert.Equal(t, "p1", msgs[1].Source.ParticipantID)

	waitFor(t, time.Second, func() bool { return len(sink.all()) == 1 })
	assert.False(t, sink.all()[0].passed)

	waitFor(t, time.Second, func() bool { return c.Status().LastSeenSequence == 2 })
	assert.False(t, c.Status().Processing)
}

func TestControllerLoopStopAndResume(t *testing.T) {
	ad := &adapter.Mock{
		InjectFunc:      func(string) error { return nil },
		OutputSinceFunc: func(adapter.Marker) string { return "" },
	}
	c, sess, _ := testController(t, ad)
	c.Start()
	defer c.Shutdown()

	sess.Append(domain.NewMessage(domain.UserSource(), "hello"))
	waitFor(t, 2*time.Second, func() bool { return c.Status().Processing })

	c.Stop()
	waitFor(t, time.Second, func() bool { return !c.Status().Processing })
	assert.Empty(t, c.Status().ActiveTurnID)
}
